package interfaces

import (
	"context"
	"iter"

	"github.com/m-mizutani/flock/pkg/domain/model"
)

// WorkspaceManager owns the checkout lifecycle of one repository
type WorkspaceManager interface {
	// Acquire materializes ref of repo into a fresh directory owned by the
	// caller. An empty ref means the repository default branch.
	Acquire(ctx context.Context, repo *model.RepositoryRef, ref string) (*model.Workspace, error)
	// Release removes the workspace directory
	Release(ctx context.Context, ws *model.Workspace) error
}

// Discovery enumerates candidate repositories as lazy, restartable sequences
type Discovery interface {
	ListOwned(ctx context.Context, identity string) iter.Seq2[*model.RepositoryRef, error]
	SearchByPattern(ctx context.Context, query string) iter.Seq2[*model.RepositoryRef, error]
}

// Planner computes the plan for one repository
type Planner interface {
	Plan(ctx context.Context, repo *model.RepositoryRef, spec *model.TransformSpec) (*model.MigrationPlan, error)
}

// Executor drives plans through branch, commit, push and pull request
type Executor interface {
	Run(ctx context.Context, repos []*model.RepositoryRef, spec *model.TransformSpec) (*model.RunReport, error)
}
