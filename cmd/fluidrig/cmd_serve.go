package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fluidrig/internal/api"
	"github.com/nvandessel/fluidrig/internal/mcp"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the rig ticker",
		Long: `Start the rig, tick it in the background and serve the JSON API.

Examples:
  fluidrig serve
  fluidrig serve --addr :9090
  curl localhost:8080/api/snapshot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.cfg.Server.Addr = addr
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rg, err := a.newRig(ctx)
			if err != nil {
				return err
			}
			defer rg.Close(context.Background())
			go rg.Run(ctx, a.cfg.Rig.TickInterval)

			srv := api.NewHTTPServer(api.Config{Addr: a.cfg.Server.Addr}, api.NewHandler(rg, a.logger))
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http api listening", "addr", srv.Addr, "run_id", rg.RunID())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the rig over MCP on stdio",
		Long: `Start the rig and expose its commands and queries as MCP tools on
stdin/stdout. Logs go to stderr.

Example client configuration:
  {"command": "fluidrig", "args": ["mcp-server", "--audit-dir", "/var/log/fluidrig", "--allow-dir", "/data/exports"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			auditDir, _ := cmd.Flags().GetString("audit-dir")
			allowDirs, _ := cmd.Flags().GetStringSlice("allow-dir")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rg, err := a.newRig(ctx)
			if err != nil {
				return err
			}
			defer rg.Close(context.Background())
			go rg.Run(ctx, a.cfg.Rig.TickInterval)

			srv, err := mcp.NewServer(rg, &mcp.Config{
				Name:        "fluidrig",
				Version:     version,
				AuditDir:    auditDir,
				Logger:      a.logger,
				AllowedDirs: allowDirs,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer srv.Close()

			a.logger.Info("mcp server ready", "run_id", rg.RunID())
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("audit-dir", "", "Directory for the tool audit log (disabled when empty)")
	cmd.Flags().StringSlice("allow-dir", nil, "Directory the kd tool may read files from (repeatable)")
	return cmd
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
