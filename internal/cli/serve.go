package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weaveflow-go/internal/execution/server"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}

			log := logger.New(cfg.Logger.ToLoggerConfig(serviceName))
			defer log.Sync()

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-quit:
			}

			log.Info("Shutting down weaveflow...")

			// Graceful shutdown with timeout
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				log.Error("Server forced to shutdown", "error", err)
				return err
			}

			log.Info("Server exited")
			return nil
		},
	}
}
