// Package config reads biogate settings from the environment and an
// optional .env file. Values are validated when a section is first used so
// a command only fails on settings it actually needs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/biogate/internal/attendance"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

var ErrConfiguration = errors.New("invalid configuration")

const (
	KeyIP             = "BIOMETRIC_IP"
	KeyPort           = "BIOMETRIC_PORT"
	KeyCommKey        = "BIOMETRIC_COMM_KEY"
	KeyUnlockSecs     = "BIOMETRIC_UNLOCK_SECS"
	KeyTransport      = "BIOMETRIC_TRANSPORT"
	KeyTimeout        = "BIOMETRIC_TIMEOUT"
	KeyAPIURL         = "API_URL"
	KeyAppDataDir     = "GYM_APPDATA_DIR"
	KeyDBPath         = "BIOGATE_DB_PATH"
	KeyRefresh        = "BIOGATE_REFRESH_INTERVAL"
	KeyDedupCapacity  = "BIOGATE_DEDUP_CAPACITY"
	KeyEncoding       = "BIOGATE_ATTENDANCE_ENCODING"
	KeyHTTPAddr       = "BIOGATE_HTTP_ADDR"
	KeyGRPCAddr       = "BIOGATE_GRPC_ADDR"
	KeyDebug          = "BIOGATE_DEBUG"
	dbFileName        = "data.db"
	defaultAppDataDir = "~/.gymadmindashboard"
)

var defaults = map[string]any{
	KeyIP:            "192.168.1.81",
	KeyPort:          "4370",
	KeyCommKey:       "0",
	KeyUnlockSecs:    "3",
	KeyTransport:     device.TransportUDP,
	KeyTimeout:       "30s",
	KeyAPIURL:        "http://localhost:3000",
	KeyAppDataDir:    defaultAppDataDir,
	KeyRefresh:       "300s",
	KeyDedupCapacity: "500",
	KeyEncoding:      attendance.EncodingJSON,
}

// Config holds raw settings. Use the section accessors to get validated
// values.
type Config struct {
	v *viper.Viper
}

// FromEnv loads .env (if present) and the process environment.
func FromEnv() Config {
	_ = godotenv.Load()
	return New(viper.New())
}

// New reads settings through v, with defaults and environment binding
// applied.
func New(v *viper.Viper) Config {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	return Config{v: v}
}

// Set overrides a key, for flags given on the command line.
func (c Config) Set(key string, value any) { c.v.Set(key, value) }

func (c Config) str(key string) string {
	s := strings.TrimSpace(c.v.GetString(key))
	if s == "" {
		if d, ok := defaults[key].(string); ok {
			return d
		}
	}
	return s
}

func (c Config) intIn(key string, lo, hi int) (int, error) {
	raw := c.str(key)
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s=%q must be an integer in [%d, %d]", ErrConfiguration, key, raw, lo, hi)
	}
	return n, nil
}

// duration accepts Go durations ("90s", "5m") or a bare number of seconds.
func (c Config) duration(key string) (time.Duration, error) {
	raw := c.str(key)
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a positive duration", ErrConfiguration, key, raw)
	}
	return d, nil
}

// Device returns the terminal address.
func (c Config) Device() (device.Address, error) {
	host := c.str(KeyIP)
	port, err := c.intIn(KeyPort, 1, 65535)
	if err != nil {
		return device.Address{}, err
	}
	key, err := c.intIn(KeyCommKey, 0, 999999)
	if err != nil {
		return device.Address{}, err
	}
	transport := strings.ToLower(c.str(KeyTransport))
	if transport != device.TransportUDP && transport != device.TransportTCP {
		return device.Address{}, fmt.Errorf("%w: %s=%q must be udp or tcp", ErrConfiguration, KeyTransport, transport)
	}
	timeout, err := c.duration(KeyTimeout)
	if err != nil {
		return device.Address{}, err
	}
	return device.Address{Host: host, Port: port, CommKey: key, Transport: transport, Timeout: timeout}, nil
}

func (c Config) UnlockSeconds() (int, error) {
	return c.intIn(KeyUnlockSecs, 1, 60)
}

// StorePath is BIOGATE_DB_PATH, else data.db under GYM_APPDATA_DIR.
func (c Config) StorePath() (string, error) {
	if p := strings.TrimSpace(c.v.GetString(KeyDBPath)); p != "" {
		return expandHome(p)
	}
	dir, err := expandHome(c.str(KeyAppDataDir))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFileName), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %w", ErrConfiguration, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

type Attendance struct {
	BaseURL  string
	Encoding string
}

// Attendance returns a zero BaseURL when API_URL is "off", which disables
// reporting.
func (c Config) Attendance() (Attendance, error) {
	raw := c.str(KeyAPIURL)
	if strings.EqualFold(raw, "off") {
		return Attendance{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Attendance{}, fmt.Errorf("%w: %s=%q must be an http(s) URL", ErrConfiguration, KeyAPIURL, raw)
	}
	enc := strings.ToLower(c.str(KeyEncoding))
	if enc != attendance.EncodingJSON && enc != attendance.EncodingProtobuf {
		return Attendance{}, fmt.Errorf("%w: %s=%q must be json or protobuf", ErrConfiguration, KeyEncoding, enc)
	}
	return Attendance{BaseURL: raw, Encoding: enc}, nil
}

type Supervision struct {
	RefreshInterval time.Duration
	DedupCapacity   int
}

func (c Config) Supervision() (Supervision, error) {
	refresh, err := c.duration(KeyRefresh)
	if err != nil {
		return Supervision{}, err
	}
	capacity, err := c.intIn(KeyDedupCapacity, 1, 1_000_000)
	if err != nil {
		return Supervision{}, err
	}
	return Supervision{RefreshInterval: refresh, DedupCapacity: capacity}, nil
}

// HTTPAddr and GRPCAddr are empty when the listener is disabled.
func (c Config) HTTPAddr() string { return strings.TrimSpace(c.v.GetString(KeyHTTPAddr)) }
func (c Config) GRPCAddr() string { return strings.TrimSpace(c.v.GetString(KeyGRPCAddr)) }

func (c Config) Debug() bool {
	switch strings.ToLower(strings.TrimSpace(c.v.GetString(KeyDebug))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
