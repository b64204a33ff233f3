package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nova/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			repo, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer func() { _ = repo.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s\n", repo.Path())
			return nil
		},
	}
}
