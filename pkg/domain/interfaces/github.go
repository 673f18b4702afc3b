package interfaces

import (
	"context"

	"github.com/m-mizutani/flock/pkg/domain/model"
)

// HostingClient defines operations for interacting with the repository hosting
// platform. Errors carry the kinds defined in the types package.
type HostingClient interface {
	// Authenticate verifies the configured credentials and returns the login they belong to
	Authenticate(ctx context.Context) (string, error)

	// ListRepositories returns one page of repositories owned by identity. An
	// empty identity means the authenticated user. nextPage is 0 on the last page.
	ListRepositories(ctx context.Context, identity string, page int) (repos []*model.RepositoryRef, nextPage int, err error)

	// SearchCode returns one page of repositories with code matching query.
	// DefaultBranch may be empty in the returned refs.
	SearchCode(ctx context.Context, query string, page int) (repos []*model.RepositoryRef, nextPage int, err error)

	// GetRepository fetches full repository metadata
	GetRepository(ctx context.Context, owner, name string) (*model.RepositoryRef, error)

	// DownloadZipball downloads the source code zipball for a specific ref
	DownloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error)

	// BranchExists reports whether branch exists on the remote repository
	BranchExists(ctx context.Context, repo *model.RepositoryRef, branch string) (bool, error)

	// FindPullRequest returns the URL of an open pull request from head, if any
	FindPullRequest(ctx context.Context, repo *model.RepositoryRef, head string) (url string, found bool, err error)

	// CreatePullRequest opens a pull request and returns its URL
	CreatePullRequest(ctx context.Context, repo *model.RepositoryRef, req *model.PullRequestRequest) (string, error)

	// Credentials returns short-lived credentials for git transport
	Credentials(ctx context.Context) (*model.Credentials, error)
}
