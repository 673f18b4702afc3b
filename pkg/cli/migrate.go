package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/cli/config"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/infra/git"
	"github.com/m-mizutani/flock/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type migrateCommand struct {
	migration config.Migration
	run       config.Run
	github    config.GitHub
	ledger    config.Ledger
	report    config.Report
	out       io.Writer
}

func cmdMigrate(w io.Writer) *cli.Command {
	m := &migrateCommand{out: w}

	var flags []cli.Flag
	flags = append(flags, m.migration.Flags()...)
	flags = append(flags, m.run.Flags()...)
	flags = append(flags, m.github.Flags()...)
	flags = append(flags, m.ledger.Flags()...)
	flags = append(flags, m.report.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Rewrite matching files in every repository in scope and open pull requests",
		Flags:   flags,
		Action:  m.action,
	}
}

func (m *migrateCommand) action(ctx context.Context, c *cli.Command) error {
	logger := ctxlog.From(ctx)

	if err := m.migration.Load(c); err != nil {
		return err
	}
	spec, err := m.migration.TransformSpec()
	if err != nil {
		return err
	}
	scope, err := m.migration.ParseScope()
	if err != nil {
		return err
	}

	hosting, err := m.github.NewClient(ctx)
	if err != nil {
		return err
	}
	login, err := hosting.Authenticate(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to authenticate to GitHub", goerr.T(types.ErrTagFatalPrecondition))
	}
	logger.Info("Authenticated",
		slog.String("login", login),
		slog.String("transform_id", string(spec.ID())),
		slog.String("scope", string(scope.Kind)),
	)

	policy := m.run.RetryPolicy()
	repos, discErr := discover(ctx, usecase.NewDiscovery(hosting, usecase.WithDiscoveryRetry(policy)), scope, login)
	if discErr != nil {
		if len(repos) == 0 || m.run.Strict {
			return goerr.Wrap(discErr, "repository discovery failed",
				goerr.T(types.ErrTagFatalPrecondition),
				goerr.V("found", len(repos)))
		}
		logger.Warn("Discovery ended early, continuing with the repositories found",
			slog.Any("error", discErr),
			slog.Int("found", len(repos)))
	}

	var ledger interfaces.Ledger
	if !m.run.DryRun {
		ledger, err = m.ledger.Open(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to open ledger", goerr.T(types.ErrTagFatalPrecondition))
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				logger.Warn("Failed to close ledger", slog.Any("error", err))
			}
		}()
	}

	sinks, cleanup, err := m.report.Sinks(ctx)
	defer cleanup()
	if err != nil {
		return err
	}

	vcs := git.New(git.WithBinary(m.run.GitBinary))
	wsOpts := []usecase.WorkspaceOption{usecase.WithWorkspaceRoot(m.run.WorkDir)}
	planner := usecase.NewPlanner(
		usecase.NewWorkspaceManager(model.CheckoutArchive, hosting, vcs, wsOpts...),
		usecase.WithMaxFileSize(m.run.MaxFileSize),
	)

	opts := []usecase.ExecutorOption{
		usecase.WithConcurrency(m.run.Concurrency),
		usecase.WithDryRun(m.run.DryRun),
		usecase.WithResume(m.run.Resume),
		usecase.WithAuthor(m.run.Author()),
		usecase.WithPushRetry(policy),
		usecase.WithHostingRetry(policy),
		usecase.WithReportSinks(sinks...),
		usecase.WithDiscoveryError(discErr),
	}
	if ledger != nil {
		opts = append(opts, usecase.WithLedger(ledger))
	}
	executor := usecase.NewExecutor(hosting, vcs, planner,
		usecase.NewWorkspaceManager(model.CheckoutClone, hosting, vcs, wsOpts...),
		opts...)

	report, err := executor.Run(ctx, repos, spec)
	if err != nil {
		return goerr.Wrap(err, "failed to run migration", goerr.T(types.ErrTagFatalPrecondition))
	}

	if m.run.DryRun {
		for _, r := range report.Results {
			if r.Plan != nil && r.Outcome.Kind == model.OutcomePlanned {
				usecase.RenderPlan(m.out, r.Plan)
			}
		}
	}
	usecase.RenderSummary(m.out, report)

	switch {
	case m.run.DryRun && discErr != nil:
		return goerr.Wrap(discErr, "repository discovery failed",
			goerr.T(types.ErrTagFatalPrecondition),
			goerr.V("found", len(repos)))
	case !m.run.DryRun && report.HasFailure():
		return goerr.New("migration finished with failed repositories",
			goerr.T(types.ErrTagRunFailed),
			goerr.V("run_id", report.RunID),
			goerr.V("failed", report.Summary.Failed()))
	}
	return nil
}

// discover collects the repositories in scope. On error it still returns what
// was found before the failure.
func discover(ctx context.Context, d interfaces.Discovery, scope *config.Scope, login string) ([]*model.RepositoryRef, error) {
	switch scope.Kind {
	case config.ScopeSearch:
		return usecase.Collect(d.SearchByPattern(ctx, scope.Value))
	default:
		owner := scope.Value
		if owner == "" {
			owner = login
		}
		return usecase.Collect(d.ListOwned(ctx, owner))
	}
}
