package interfaces

import (
	"context"

	"github.com/m-mizutani/flock/pkg/domain/model"
)

// Ledger records per-repository outcomes keyed by repository and transform
// identity. A later Record for the same key supersedes the earlier one.
// Implementations must be safe for concurrent use.
type Ledger interface {
	Record(ctx context.Context, repo *model.RepositoryRef, id model.TransformID, outcome *model.Outcome) error
	// Get returns nil without error when no outcome is recorded
	Get(ctx context.Context, repo *model.RepositoryRef, id model.TransformID) (*model.Outcome, error)
	Summarize(ctx context.Context, id model.TransformID) (model.Summary, error)
	List(ctx context.Context, id model.TransformID) ([]*model.LedgerEntry, error)
	Close() error
}

// ReportSink receives the report of every finished run
type ReportSink interface {
	Publish(ctx context.Context, report *model.RunReport) error
}
