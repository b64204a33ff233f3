package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nova/internal/config"
	"github.com/alekspetrov/nova/internal/platform"
)

func newCheckTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-token",
		Short: "Verify the bot token against the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" {
				return fmt.Errorf("no bot token configured (set %s)", config.EnvDiscordToken)
			}

			client := newRESTClient(cfg)
			defer func() { _ = client.Close() }()

			me, err := client.CurrentUser(cmd.Context())
			if errors.Is(err, platform.ErrUnauthorized) {
				return fmt.Errorf("token rejected by the platform")
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token OK: logged in as %s (%s)\n", me.Username, me.ID)
			return nil
		},
	}
}

func newRESTClient(cfg *config.Config) *platform.RESTClient {
	return platform.NewRESTClient(platform.RESTConfig{
		Token:     cfg.Discord.Token,
		BaseURL:   cfg.Discord.APIURL,
		RateLimit: cfg.Discord.RateLimit,
		RateBurst: cfg.Discord.RateBurst,
	})
}
