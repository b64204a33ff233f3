package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nova/internal/bot"
	"github.com/alekspetrov/nova/internal/health"
	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/store"
	"github.com/alekspetrov/nova/internal/web"
)

const webShutdownTimeout = 5 * time.Second

func newStartCmd() *cobra.Command {
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot and the web host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.WithComponent("main")

			repo, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = repo.Close() }()

			rt, err := bot.New(cfg, repo, bot.WithVersion(version))
			if err != nil {
				return fmt.Errorf("failed to set up bot: %w", err)
			}

			var srv *web.Server
			if cfg.Web != nil && cfg.Web.Enabled && !noWeb {
				srv = web.NewServer(cfg.Web.Addr(), web.Deps{
					Repo:       repo,
					Bot:        rt,
					Tasks:      rt.Scheduler(),
					Passes:     rt.Engine(),
					Sessions:   rt.Sessions(),
					Health:     func() *health.Report { return health.RunChecks(cfg) },
					OwnerToken: bot.OwnerToken,
					Version:    version,
				})
				go func() {
					if err := srv.ListenAndServe(); err != nil {
						log.Error("Web server failed", slog.Any("error", err))
						stop()
					}
				}()
			}

			if err := rt.Start(ctx); err != nil {
				shutdownWeb(srv, log)
				return err
			}

			select {
			case <-ctx.Done():
				log.Info("Shutdown signal received")
			case <-rt.Done():
			}

			err = rt.Stop(context.Background())
			if errors.Is(err, bot.ErrShutdownTimeout) {
				log.Warn("Bot shutdown was forced", slog.Any("error", err))
				err = nil
			}
			shutdownWeb(srv, log)

			if fatal := rt.Err(); fatal != nil {
				return fatal
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Do not start the web host")
	return cmd
}

func shutdownWeb(srv *web.Server, log *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Web server shutdown failed", slog.Any("error", err))
	}
}
