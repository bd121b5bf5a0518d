package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakemart/internal/config"
	internaldb "lakemart/internal/db"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply metastore migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(*envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			db, err := internaldb.OpenSQLite(cfg.MetaDBPath, internaldb.ModeWrite, 0)
			if err != nil {
				return fmt.Errorf("open metastore: %w", err)
			}
			defer db.Close()

			if err := internaldb.RunMigrations(db); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
