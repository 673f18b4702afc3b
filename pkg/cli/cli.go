package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/cli/config"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Exit codes of the flock command
const (
	ExitOK                = 0
	ExitRunFailed         = 1
	ExitFatalPrecondition = 2
)

// Run runs the CLI application
func Run(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, w io.Writer) error {
	var loggerCfg config.Logger
	var logger *slog.Logger

	app := &cli.Command{
		Name:    "flock",
		Usage:   "Apply one code migration across many repositories",
		Version: types.Version,
		Flags:   loggerCfg.Flags(),
		Writer:  w,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			var err error
			logger, err = loggerCfg.Configure()
			if err != nil {
				return nil, goerr.Wrap(err, "invalid logger configuration", goerr.T(types.ErrTagFatalPrecondition))
			}

			slog.SetDefault(logger)
			ctx = ctxlog.With(ctx, logger)
			return ctx, nil
		},
		// Exit codes are decided by ExitCode in main
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			cmdMigrate(w),
			cmdLedger(w),
			cmdServe(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("CLI execution failed", slog.Any("error", err))
		return err
	}

	return nil
}

// ExitCode maps the error returned by Run to the process exit code. Errors
// raised before any repository was touched, including usage errors, are
// fatal preconditions.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case goerr.HasTag(err, types.ErrTagRunFailed):
		return ExitRunFailed
	default:
		return ExitFatalPrecondition
	}
}
