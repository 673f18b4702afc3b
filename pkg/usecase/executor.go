package usecase

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/pattern"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/utils/async"
	"github.com/m-mizutani/flock/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultConcurrency is the number of repositories processed at once
const DefaultConcurrency = 4

// DefaultSignature is the commit author when none is configured
var DefaultSignature = model.Signature{
	Name:  "flock",
	Email: "flock@users.noreply.github.com",
}

type executor struct {
	hosting   interfaces.HostingClient
	vcs       interfaces.VCSClient
	planner   interfaces.Planner
	workspace interfaces.WorkspaceManager
	ledger    interfaces.Ledger
	sinks     []interfaces.ReportSink
	discovery error

	concurrency  int
	dryRun       bool
	resume       bool
	author       model.Signature
	pushRetry    retry.Policy
	hostingRetry retry.Policy
}

// ExecutorOption configures the executor
type ExecutorOption func(*executor)

// WithConcurrency caps the number of repositories in flight
func WithConcurrency(n int) ExecutorOption {
	return func(e *executor) {
		e.concurrency = n
	}
}

// WithLedger records every outcome in l
func WithLedger(l interfaces.Ledger) ExecutorOption {
	return func(e *executor) {
		e.ledger = l
	}
}

// WithDryRun stops every repository after planning
func WithDryRun(dryRun bool) ExecutorOption {
	return func(e *executor) {
		e.dryRun = dryRun
	}
}

// WithResume skips repositories the ledger already settled for this transform
func WithResume(resume bool) ExecutorOption {
	return func(e *executor) {
		e.resume = resume
	}
}

// WithAuthor sets the commit author
func WithAuthor(sig model.Signature) ExecutorOption {
	return func(e *executor) {
		e.author = sig
	}
}

// WithPushRetry sets the retry policy of the push stage
func WithPushRetry(p retry.Policy) ExecutorOption {
	return func(e *executor) {
		e.pushRetry = p
	}
}

// WithHostingRetry sets the retry policy of hosting API calls. Only rate
// limited calls are retried.
func WithHostingRetry(p retry.Policy) ExecutorOption {
	return func(e *executor) {
		e.hostingRetry = p
	}
}

// WithReportSinks publishes the report of every run to sinks
func WithReportSinks(sinks ...interfaces.ReportSink) ExecutorOption {
	return func(e *executor) {
		e.sinks = append(e.sinks, sinks...)
	}
}

// WithDiscoveryError notes in every report that discovery ended early with err
func WithDiscoveryError(err error) ExecutorOption {
	return func(e *executor) {
		e.discovery = err
	}
}

// NewExecutor creates the migration executor. workspace must produce clone
// checkouts because the executor commits and pushes from them.
func NewExecutor(hosting interfaces.HostingClient, vcs interfaces.VCSClient, planner interfaces.Planner, workspace interfaces.WorkspaceManager, opts ...ExecutorOption) interfaces.Executor {
	e := &executor{
		hosting:      hosting,
		vcs:          vcs,
		planner:      planner,
		workspace:    workspace,
		concurrency:  DefaultConcurrency,
		author:       DefaultSignature,
		pushRetry:    retry.DefaultPolicy(),
		hostingRetry: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hostingRetry = e.hostingRetry.OnlyRateLimited()
	return e
}

// repoTask is the state of one repository within a run. It is owned by the
// goroutine processing it until ForEach returns.
type repoTask struct {
	repo    *model.RepositoryRef
	stage   model.Stage
	plan    *model.MigrationPlan
	outcome *model.Outcome
	resumed bool
}

// Run processes repos concurrently and returns the run report. A failing
// repository is recorded in its outcome and never stops the others.
func (e *executor) Run(ctx context.Context, repos []*model.RepositoryRef, spec *model.TransformSpec) (*model.RunReport, error) {
	if spec == nil {
		return nil, goerr.New("transform spec is required")
	}

	runID := uuid.NewString()
	logger := ctxlog.From(ctx).With("run_id", runID, "transform_id", spec.ID())
	ctx = ctxlog.With(ctx, logger)

	report := &model.RunReport{
		RunID:       runID,
		TransformID: spec.ID(),
		DryRun:      e.dryRun,
		StartedAt:   time.Now(),
		Summary:     model.Summary{},
	}
	if e.discovery != nil {
		report.Discovery = e.discovery.Error()
	}
	logger.Info("Starting migration run",
		"repositories", len(repos),
		"concurrency", e.concurrency,
		"dry_run", e.dryRun,
		"resume", e.resume,
	)

	tasks := make([]*repoTask, len(repos))
	for i, repo := range repos {
		tasks[i] = &repoTask{repo: repo, stage: model.StagePlan}
	}

	errs := async.ForEach(ctx, e.concurrency, tasks, func(ctx context.Context, t *repoTask) error {
		e.process(ctx, runID, spec, t)
		return nil
	})

	for i, t := range tasks {
		// Only panics and tasks that never started reach here
		if errs[i] != nil && t.outcome == nil {
			t.outcome = e.finish(ctx, runID, spec, t, model.Failed(t.stage, errs[i]))
		}

		report.Results = append(report.Results, &model.RepositoryResult{
			Repository: t.repo,
			Outcome:    t.outcome,
			Plan:       t.plan,
		})
		report.Summary[t.outcome.Kind]++
	}
	report.FinishedAt = time.Now()

	logger.Info("Finished migration run",
		"total", report.Summary.Total(),
		"proposed", report.Summary[model.OutcomeProposed],
		"failed", report.Summary.Failed(),
		"elapsed", report.FinishedAt.Sub(report.StartedAt),
	)

	e.publish(ctx, report)
	return report, nil
}

func (e *executor) process(ctx context.Context, runID string, spec *model.TransformSpec, t *repoTask) {
	logger := ctxlog.From(ctx).With("repo", t.repo.FullName())
	ctx = ctxlog.With(ctx, logger)

	if e.resume && e.ledger != nil && !e.dryRun {
		prev, err := e.ledger.Get(ctx, t.repo, spec.ID())
		if err != nil {
			logger.Warn("Failed to read ledger, processing repository again", "error", err)
		} else if prev != nil && prev.IsSettled() {
			logger.Info("Skipping repository settled by a previous run", "kind", prev.Kind, "run_id", prev.RunID)
			t.outcome = prev
			t.resumed = true
			return
		}
	}

	outcome := e.execute(ctx, spec, t)
	t.outcome = e.finish(ctx, runID, spec, t, outcome)
}

// finish stamps the outcome, records it and logs the result
func (e *executor) finish(ctx context.Context, runID string, spec *model.TransformSpec, t *repoTask, outcome *model.Outcome) *model.Outcome {
	logger := ctxlog.From(ctx).With("repo", t.repo.FullName())

	outcome.RunID = runID
	outcome.RecordedAt = time.Now()

	if outcome.IsFailed() {
		logger.Warn("Repository failed",
			"stage", outcome.Stage,
			"error_kind", outcome.ErrorKind,
			"message", outcome.Message,
		)
	} else {
		logger.Info("Repository processed",
			"kind", outcome.Kind,
			"branch", outcome.BranchName,
			"pull_request", outcome.PullRequestURL,
		)
	}

	// Planned outcomes never reach the ledger so a dry run cannot shadow a real one
	if e.ledger != nil && !e.dryRun {
		if err := e.ledger.Record(async.Detach(ctx), t.repo, spec.ID(), outcome); err != nil {
			logger.Error("Failed to record outcome", "error", err)
		}
	}
	return outcome
}

// execute drives one repository through the state machine. Stage calls run on
// a detached context; cancellation is observed between stages.
func (e *executor) execute(ctx context.Context, spec *model.TransformSpec, t *repoTask) *model.Outcome {
	work := async.Detach(ctx)

	t.stage = model.StagePlan
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	plan, err := e.planner.Plan(work, t.repo, spec)
	if err != nil {
		return model.Failed(planStage(err), err)
	}
	t.plan = plan

	if plan.IsNoOp() {
		return model.Skipped()
	}
	if e.dryRun {
		return &model.Outcome{Kind: model.OutcomePlanned, BranchName: plan.BranchName}
	}

	t.stage = model.StageBranch
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	var exists bool
	if err := e.callHosting(work, "branch_exists", func(ctx context.Context) error {
		var err error
		exists, err = e.hosting.BranchExists(ctx, t.repo, plan.BranchName)
		return err
	}); err != nil {
		return model.Failed(t.stage, err)
	}

	if exists {
		ctxlog.From(ctx).Info("Branch already exists, reusing it", "branch", plan.BranchName)
	} else if outcome := e.commitAndPush(ctx, spec, t); outcome != nil {
		return outcome
	}

	t.stage = model.StagePullRequest
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	url, err := e.ensurePullRequest(work, plan)
	if err != nil {
		return model.Failed(t.stage, err)
	}
	return model.Proposed(plan.BranchName, url)
}

// commitAndPush applies the plan in a fresh clone and pushes the branch. It
// returns a terminal outcome, or nil when the pull request stage should follow.
func (e *executor) commitAndPush(ctx context.Context, spec *model.TransformSpec, t *repoTask) *model.Outcome {
	work := async.Detach(ctx)
	plan := t.plan

	t.stage = model.StageCheckout
	// The branch starts from the tree the plan was computed on
	ws, err := e.workspace.Acquire(work, t.repo, plan.BaseBranch)
	if err != nil {
		return model.Failed(t.stage, err)
	}
	defer func() {
		if err := e.workspace.Release(work, ws); err != nil {
			ctxlog.From(ctx).Warn("Failed to release workspace", "error", err)
		}
	}()

	t.stage = model.StageBranch
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	if err := e.vcs.CheckoutBranch(work, ws.Root, plan.BranchName, true); err != nil {
		return model.Failed(t.stage, err)
	}

	t.stage = model.StageCommit
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	paths, err := applyChanges(ctx, ws.Root, plan, spec.Matcher())
	if err != nil {
		return model.Failed(t.stage, err)
	}
	if len(paths) == 0 {
		return model.AppliedNoChange(plan.BranchName)
	}
	if err := e.vcs.Stage(work, ws.Root, paths); err != nil {
		return model.Failed(t.stage, err)
	}
	staged, err := e.vcs.HasStagedChanges(work, ws.Root)
	if err != nil {
		return model.Failed(t.stage, err)
	}
	if !staged {
		return model.AppliedNoChange(plan.BranchName)
	}
	rev, err := e.vcs.Commit(work, ws.Root, plan.CommitMessage, &e.author)
	if err != nil {
		return model.Failed(t.stage, err)
	}

	t.stage = model.StagePush
	if err := canceled(ctx); err != nil {
		return model.Failed(t.stage, err)
	}
	attempts, err := retry.Do(work, e.pushRetry, "push", func(ctx context.Context, _ int) error {
		cred, err := e.hosting.Credentials(ctx)
		if err != nil {
			return err
		}
		return e.vcs.Push(ctx, ws.Root, plan.BranchName, cred)
	})
	if err != nil {
		return model.Failed(t.stage, goerr.Wrap(err, "push failed", goerr.V("attempts", attempts)))
	}

	ctxlog.From(ctx).Info("Pushed branch",
		"branch", plan.BranchName,
		"revision", rev,
		"files", len(paths),
		"attempts", attempts,
	)
	return nil
}

// ensurePullRequest reuses an open pull request for the branch or opens one
func (e *executor) ensurePullRequest(ctx context.Context, plan *model.MigrationPlan) (string, error) {
	lookup := func() (string, bool, error) {
		var url string
		var found bool
		err := e.callHosting(ctx, "find_pull_request", func(ctx context.Context) error {
			var err error
			url, found, err = e.hosting.FindPullRequest(ctx, plan.Repository, plan.BranchName)
			return err
		})
		return url, found, err
	}

	if url, found, err := lookup(); err != nil {
		return "", err
	} else if found {
		ctxlog.From(ctx).Info("Reusing open pull request", "url", url)
		return url, nil
	}

	var url string
	err := e.callHosting(ctx, "create_pull_request", func(ctx context.Context) error {
		var err error
		url, err = e.hosting.CreatePullRequest(ctx, plan.Repository, &model.PullRequestRequest{
			Head:  plan.BranchName,
			Base:  plan.BaseBranch,
			Title: plan.Title,
			Body:  plan.Body,
		})
		return err
	})
	if err == nil {
		return url, nil
	}
	if types.KindOf(err) != types.KindConflict {
		return "", err
	}

	// Opened concurrently by someone else
	existing, found, lookupErr := lookup()
	if lookupErr != nil {
		return "", lookupErr
	}
	if !found {
		return "", err
	}
	return existing, nil
}

func (e *executor) callHosting(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, e.hostingRetry, op, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
	return err
}

func (e *executor) publish(ctx context.Context, report *model.RunReport) {
	work := async.Detach(ctx)
	for _, sink := range e.sinks {
		if err := sink.Publish(work, report); err != nil {
			ctxlog.From(ctx).Error("Failed to publish run report", "error", err)
		}
	}
}

// applyChanges writes the planned content. A file that changed since planning
// is rewritten again from its current content. A planned file that is gone or
// no longer a regular file fails with a Conflict error so the repository is
// planned again on the next run. It returns the paths that were written.
func applyChanges(ctx context.Context, root string, plan *model.MigrationPlan, matcher *pattern.Matcher) ([]string, error) {
	var paths []string
	for _, fc := range plan.FileChanges {
		path := filepath.Join(root, filepath.FromSlash(fc.Path))

		info, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			ctxlog.From(ctx).Warn("Planned file disappeared since planning", "path", fc.Path)
			return nil, goerr.Wrap(err, "planned file no longer exists",
				goerr.T(types.ErrTagConflict),
				goerr.V("path", fc.Path))
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to stat file", goerr.V("path", fc.Path))
		}
		if !info.Mode().IsRegular() {
			ctxlog.From(ctx).Warn("Planned file is no longer a regular file", "path", fc.Path, "mode", info.Mode().String())
			return nil, goerr.New("planned file is no longer a regular file",
				goerr.T(types.ErrTagConflict),
				goerr.V("path", fc.Path),
				goerr.V("mode", info.Mode().String()))
		}

		current, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read file", goerr.V("path", fc.Path))
		}

		content := fc.NewContent
		if model.HashContent(current) != fc.OriginalHash {
			if content, err = matcher.Rewrite(current); err != nil {
				return nil, goerr.Wrap(err, "failed to rewrite drifted file", goerr.V("path", fc.Path))
			}
		}
		if bytes.Equal(content, current) {
			continue
		}

		if err := os.WriteFile(path, content, info.Mode().Perm()); err != nil {
			return nil, goerr.Wrap(err, "failed to write file", goerr.V("path", fc.Path))
		}
		paths = append(paths, fc.Path)
	}
	return paths, nil
}

// planStage attributes planner failures caused by the checkout to that stage
func planStage(err error) model.Stage {
	switch types.KindOf(err) {
	case types.KindCheckoutFailed, types.KindRepositoryUnavailable:
		return model.StageCheckout
	default:
		return model.StagePlan
	}
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "run canceled", goerr.T(types.ErrTagCanceled))
	}
	return nil
}
