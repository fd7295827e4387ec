package commands

// Long-running service: HTTP API, run supervisor and the optional cron schedule
// Implements graceful shutdown on SIGINT/SIGTERM

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rune-holders/internal/api"
	logging "rune-holders/internal/infra/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with background holder updates",
	Long:  `Serve /update_holders, /status, /check_holder_rank, /health and /metrics. Updates run one at a time, on request or on the configured cron schedule.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Schedule.Cron != "" {
		if err := a.supervisor.Schedule(cfg.Schedule.Cron); err != nil {
			return err
		}
	}

	controller := api.NewController(api.Options{
		Runner:              a.supervisor,
		Lookup:              a.lookup,
		Mode:                cfg.Server.Mode,
		RefreshBeforeLookup: cfg.Lookup.RefreshBeforeLookup,
		Gatherer:            a.registry,
	})
	srv := api.NewServer(cfg.Server.Addr(), controller)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.LogSuccess("HTTP server is running",
			zap.String("addr", srv.Addr),
			zap.String("rune", cfg.Hiro.Etching),
			zap.String("mode", cfg.Server.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.LogInfo("Shutdown signal received, gracefully stopping...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.LogWarn("HTTP server shutdown timed out", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.LogSuccess("Service stopped gracefully")
	return nil
}
