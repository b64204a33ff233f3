package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/store"
)

func newSyncCmd() *cobra.Command {
	var (
		populateOnly bool
		purgeOnly    bool
		guildIDs     []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the database with the platform once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if populateOnly && purgeOnly {
				return fmt.Errorf("--populate-only and --purge-only are mutually exclusive")
			}
			if len(guildIDs) > 0 && purgeOnly {
				return fmt.Errorf("--guild only applies to populate")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			repo, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = repo.Close() }()

			client := newRESTClient(cfg)
			defer func() { _ = client.Close() }()

			engine := reconcile.NewEngine(client, repo, cfg.Discord.MemberLimit)
			out := cmd.OutOrStdout()

			if !purgeOnly {
				res, err := engine.Populate(ctx, guildIDs...)
				printResult(out, res)
				if err != nil {
					return err
				}
			}
			if !populateOnly && len(guildIDs) == 0 {
				res, err := engine.Purge(ctx)
				printResult(out, res)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&populateOnly, "populate-only", false, "Only add missing records")
	cmd.Flags().BoolVar(&purgeOnly, "purge-only", false, "Only remove stale records")
	cmd.Flags().StringSliceVar(&guildIDs, "guild", nil, "Populate only these guild ids")
	return cmd
}

func printResult(w io.Writer, res reconcile.Result) {
	fmt.Fprintf(w, "%-8s planned=%d applied=%d failed=%d skipped=%d took=%s pass=%s\n",
		res.Kind, res.Planned, res.Applied, res.Failed, res.Skipped, res.Duration, res.PassID)
	for _, err := range res.Errors {
		fmt.Fprintf(w, "  error: %v\n", err)
	}
}
