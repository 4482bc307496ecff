package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// newMigrateCmd applies the store's schema migrations and exits. Safe to
// run repeatedly; every backend's migration is idempotent.
func newMigrateCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, cleanup, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store.Driver)
			return nil
		},
	}
}
