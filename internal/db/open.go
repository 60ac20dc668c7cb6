package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a read-only database file does not exist.
var ErrNotFound = errors.New("database file not found")

type Config struct {
	Path string // e.g. "~/.gymadmindashboard/data.db"

	// ReadOnly opens an existing file without creating it or applying
	// migrations. The member store is owned by another process.
	ReadOnly bool
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path is required")
	}

	var dsn string
	if cfg.ReadOnly {
		if _, err := os.Stat(cfg.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, cfg.Path)
			}
			return nil, fmt.Errorf("stat db: %w", err)
		}
		// query_only guards against accidental writes; busy_timeout rides
		// out the dashboard's own write transactions.
		dsn = fmt.Sprintf(
			"file:%s?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)",
			cfg.Path,
		)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
			cfg.Path,
		)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if cfg.ReadOnly {
		return db, nil
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
