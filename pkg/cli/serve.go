package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/cli/config"
	controller "github.com/m-mizutani/flock/pkg/controller/http"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg config.Server
		ledgerCfg config.Ledger
	)

	flags := append(serverCfg.Flags(), ledgerCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve recorded migration outcomes over HTTP",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			ledger, err := ledgerCfg.Open(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to open ledger", goerr.T(types.ErrTagFatalPrecondition))
			}
			defer ledger.Close()

			server, err := controller.NewServer(ctx, ledger, controller.WithAddr(serverCfg.Addr))
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case err := <-errCh:
				if err != nil {
					return goerr.Wrap(err, "HTTP server failed", goerr.V("addr", serverCfg.Addr))
				}
			}

			// ctx is already done here
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
