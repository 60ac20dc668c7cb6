package cli

import (
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/biogate/internal/db"
)

func (a *app) seedDevCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed-dev",
		Short: "Create a development member database with sample members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				p, err := a.cfg.StorePath()
				if err != nil {
					return err
				}
				path = p
			}
			conn, err := db.Open(cmd.Context(), db.Config{Path: path})
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			members := db.DevMembers(a.env.Clock.Now())
			if err := db.SeedDev(cmd.Context(), conn, members); err != nil {
				return err
			}
			a.log.WithField("path", path).WithField("members", len(members)).Info("dev database seeded")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "database file (defaults to the configured store path)")
	return cmd
}
