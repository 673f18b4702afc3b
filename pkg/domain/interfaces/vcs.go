package interfaces

import (
	"context"

	"github.com/m-mizutani/flock/pkg/domain/model"
)

// VCSClient wraps the local version-control client. Credentials are passed per
// call and must never be persisted.
type VCSClient interface {
	Clone(ctx context.Context, address, dest, branch string, cred *model.Credentials) error
	CheckoutBranch(ctx context.Context, dir, branch string, create bool) error
	Stage(ctx context.Context, dir string, paths []string) error
	HasStagedChanges(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, dir, message string, author *model.Signature) (string, error)
	Push(ctx context.Context, dir, branch string, cred *model.Credentials) error
}
