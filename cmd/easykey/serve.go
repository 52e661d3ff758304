package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/easykey/internal/api"
	"github.com/benaskins/easykey/internal/config"
)

func newServeCmd(c *cli) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local API on a Unix socket",
		Long:  "Serve the vault over HTTP on a Unix socket readable only by the current user. The config file is watched and reloaded.",
		Args:  checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(c, "api")
			if err != nil {
				return err
			}
			defer s.Close()

			if socket == "" {
				socket = s.cfg.APISocket
			}
			if socket == "" {
				return usageError(fmt.Errorf("no socket path: set api_socket or pass --socket"))
			}
			if err := os.MkdirAll(filepath.Dir(socket), 0700); err != nil {
				return fmt.Errorf("creating socket dir: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			srv := api.NewServer(s.vault, s.cfg.APIRateLimit, s.cfg.APIBurst)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenUnix(socket)
			}()

			go func() {
				err := config.Watch(ctx, s.configPath, func(cfg *config.Config) {
					s.vault.SetDefaultReason(cfg.DefaultReason)
					srv.SetRateLimit(cfg.APIRateLimit, cfg.APIBurst)
				})
				if err != nil {
					slog.Warn("config hot reload disabled", "error", err)
				}
			}()

			slog.Info("easykey API ready", "socket", socket)

			select {
			case <-ctx.Done():
				slog.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("API server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			os.Remove(socket)
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path (default from config, ~/.easykey/api.sock)")
	return cmd
}
