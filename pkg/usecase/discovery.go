package usecase

import (
	"context"
	"iter"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
)

type pageFetcher func(ctx context.Context, page int) ([]*model.RepositoryRef, int, error)

type discovery struct {
	hosting interfaces.HostingClient
	retry   retry.Policy
}

// DiscoveryOption configures repository discovery
type DiscoveryOption func(*discovery)

// WithDiscoveryRetry sets the policy for rate limited page fetches
func WithDiscoveryRetry(p retry.Policy) DiscoveryOption {
	return func(d *discovery) {
		d.retry = p
	}
}

// NewDiscovery creates repository discovery backed by the hosting client
func NewDiscovery(hosting interfaces.HostingClient, opts ...DiscoveryOption) interfaces.Discovery {
	d := &discovery{
		hosting: hosting,
		retry:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.retry = d.retry.OnlyRateLimited()
	return d
}

// ListOwned yields repositories owned by identity, or by the authenticated
// user when identity is empty
func (d *discovery) ListOwned(ctx context.Context, identity string) iter.Seq2[*model.RepositoryRef, error] {
	return d.paginate(ctx, "owned", func(ctx context.Context, page int) ([]*model.RepositoryRef, int, error) {
		return d.hosting.ListRepositories(ctx, identity, page)
	})
}

// SearchByPattern yields repositories whose code matches query
func (d *discovery) SearchByPattern(ctx context.Context, query string) iter.Seq2[*model.RepositoryRef, error] {
	return d.paginate(ctx, "search", func(ctx context.Context, page int) ([]*model.RepositoryRef, int, error) {
		return d.hosting.SearchCode(ctx, query, page)
	})
}

// paginate turns page fetches into one deduplicated sequence. Every range over
// the result starts again from the first page. A failure is yielded once, after
// all repositories fetched before it, and ends the sequence.
func (d *discovery) paginate(ctx context.Context, source string, fetch pageFetcher) iter.Seq2[*model.RepositoryRef, error] {
	return func(yield func(*model.RepositoryRef, error) bool) {
		logger := ctxlog.From(ctx).With("source", source)
		seen := make(map[string]struct{})

		for page := 1; page > 0; {
			if err := ctx.Err(); err != nil {
				yield(nil, goerr.Wrap(err, "discovery canceled", goerr.T(types.ErrTagCanceled)))
				return
			}

			var repos []*model.RepositoryRef
			var next int
			_, err := retry.Do(ctx, d.retry, "discovery", func(ctx context.Context, _ int) error {
				var err error
				repos, next, err = fetch(ctx, page)
				return err
			})
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to fetch repositories",
					goerr.T(types.ErrTagDiscoveryUnavailable),
					goerr.V("source", source),
					goerr.V("page", page)))
				return
			}
			logger.Debug("Fetched repository page", "page", page, "count", len(repos), "next", next)

			for _, repo := range repos {
				key := strings.ToLower(repo.FullName())
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}

				if repo.DefaultBranch == "" {
					resolved, err := d.resolve(ctx, repo)
					if err != nil {
						if types.KindOf(err) == types.KindRepositoryUnavailable {
							logger.Warn("Skipping unavailable repository", "repo", repo.FullName(), "error", err)
							continue
						}
						yield(nil, goerr.Wrap(err, "failed to resolve repository",
							goerr.T(types.ErrTagDiscoveryUnavailable),
							goerr.V("repo", repo.FullName())))
						return
					}
					repo = resolved
				}

				if !yield(repo, nil) {
					return
				}
			}

			// Guard against a hosting client that never advances
			if next != 0 && next <= page {
				break
			}
			page = next
		}
	}
}

func (d *discovery) resolve(ctx context.Context, repo *model.RepositoryRef) (*model.RepositoryRef, error) {
	var resolved *model.RepositoryRef
	_, err := retry.Do(ctx, d.retry, "get_repository", func(ctx context.Context, _ int) error {
		var err error
		resolved, err = d.hosting.GetRepository(ctx, repo.Owner, repo.Name)
		return err
	})
	return resolved, err
}

// Collect drains seq. It returns every repository yielded and the first error,
// so a partial listing is never thrown away.
func Collect(seq iter.Seq2[*model.RepositoryRef, error]) ([]*model.RepositoryRef, error) {
	var repos []*model.RepositoryRef
	for repo, err := range seq {
		if err != nil {
			return repos, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}
