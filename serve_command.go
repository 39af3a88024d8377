package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"autoeditor/api"
	"autoeditor/ffmpeg"
	"autoeditor/monitoring"
	"autoeditor/task"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local emulator of the job API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if port != "" {
				cfg.Port = port
			}
			logger := ctx.log(cmd)
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			tp := monitoring.InitTracing("autoeditor-emulator")
			defer monitoring.ShutdownTracing(context.Background(), tp, logger)

			runner, err := ffmpeg.NewRunner(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize pipeline runner: %w", err)
			}
			taskManager, err := task.NewManager(cfg, runner, logger)
			if err != nil {
				return fmt.Errorf("initialize task manager: %w", err)
			}

			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: api.SetupRouter(taskManager, cfg, logger),
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			taskManager.Start(runCtx)

			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.WithField("addr", ln.Addr().String()).Info("Emulator listening")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				return err
			case <-runCtx.Done():
			}

			// Restore default behavior on the interrupt signal.
			stop()
			logger.Info("Shutting down gracefully, press Ctrl+C again to force")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			logger.Info("Server exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")
	return cmd
}
