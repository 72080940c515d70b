package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/commission-recon/internal/api"
)

func (a *App) newServeCommand() *cobra.Command {
	var (
		port    int
		sweep   bool
		noSweep bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serves the reconciliation API. When the sweep is enabled, open exceptions are auto-resolved in the background at the configured interval.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if port != 0 {
				cfg.API.Port = port
			}
			switch {
			case sweep:
				cfg.Sweep.Enabled = true
			case noSweep:
				cfg.Sweep.Enabled = false
			}
			return a.runServe(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Enable the background sweep")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Disable the background sweep")
	cmd.MarkFlagsMutuallyExclusive("sweep", "no-sweep")
	return cmd
}

// runServe runs the API server until SIGINT or SIGTERM.
func (a *App) runServe(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger.With(slog.String("system", "api"))

	apiCfg := api.Config{
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}
	server := api.NewServer(apiCfg, a.svc, a.store, logger)

	if cfg.Sweep.Enabled {
		a.svc.StartBackgroundSweep(cfg.Sweep.Interval, cfg.Sweep.Count)
		defer a.svc.StopBackgroundSweep()
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		stop()
		<-done
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}
