package github

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/oauth2"
)

const defaultPerPage = 100

// config holds optional client configuration
type config struct {
	baseURL   string
	perPage   int
	transport http.RoundTripper
}

// Option is a functional option for the GitHub client
type Option func(*config)

// WithBaseURL points the client at a GitHub Enterprise or test API endpoint
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithPerPage sets the page size used for listing and search
func WithPerPage(n int) Option {
	return func(c *config) {
		c.perPage = n
	}
}

type client struct {
	githubClient *github.Client
	perPage      int

	// exactly one of token and installation is set
	token          string
	installation   *ghinstallation.Transport
	installationID int64
}

func newConfig(opts []Option) *config {
	cfg := &config{
		perPage:   defaultPerPage,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (cfg *config) apply(gh *github.Client) error {
	if cfg.baseURL == "" {
		return nil
	}
	base := cfg.baseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return goerr.Wrap(err, "invalid GitHub API base URL", goerr.V("base_url", cfg.baseURL))
	}
	gh.BaseURL = u
	return nil
}

// NewTokenClient creates a GitHub client authenticated with a personal access
// token. An empty token is a fatal precondition failure.
func NewTokenClient(ctx context.Context, token string, opts ...Option) (interfaces.HostingClient, error) {
	if token == "" {
		return nil, goerr.New("GitHub token is required",
			goerr.T(types.ErrTagAuthenticationFailed),
			goerr.T(types.ErrTagFatalPrecondition))
	}

	cfg := newConfig(opts)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: cfg.transport})
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	githubClient := github.NewClient(oauth2.NewClient(ctx, ts))
	if err := cfg.apply(githubClient); err != nil {
		return nil, err
	}

	return &client{
		githubClient: githubClient,
		perPage:      cfg.perPage,
		token:        token,
	}, nil
}

// NewClient creates a new GitHub client with App authentication
func NewClient(appID, installationID int64, privateKey []byte, opts ...Option) (interfaces.HostingClient, error) {
	cfg := newConfig(opts)

	// Create GitHub App transport
	itr, err := ghinstallation.New(cfg.transport, appID, installationID, privateKey)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GitHub App transport",
			goerr.T(types.ErrTagAuthenticationFailed),
			goerr.T(types.ErrTagFatalPrecondition))
	}
	if cfg.baseURL != "" {
		itr.BaseURL = strings.TrimSuffix(cfg.baseURL, "/")
	}

	githubClient := github.NewClient(&http.Client{Transport: itr})
	if err := cfg.apply(githubClient); err != nil {
		return nil, err
	}

	return &client{
		githubClient:   githubClient,
		perPage:        cfg.perPage,
		installation:   itr,
		installationID: installationID,
	}, nil
}

// NewClientFromConfig creates an App client from a PEM-encoded private key string
func NewClientFromConfig(appID, installationID int64, privateKey string, opts ...Option) (interfaces.HostingClient, error) {
	return NewClient(appID, installationID, []byte(privateKey), opts...)
}

// Authenticate verifies the credentials by calling an endpoint that requires them
func (c *client) Authenticate(ctx context.Context) (string, error) {
	if c.installation != nil {
		if _, _, err := c.githubClient.Apps.ListRepos(ctx, &github.ListOptions{PerPage: 1}); err != nil {
			return "", goerr.Wrap(classify(err), "failed to authenticate GitHub App installation",
				goerr.T(types.ErrTagFatalPrecondition))
		}
		return "installation/" + strconv.FormatInt(c.installationID, 10), nil
	}

	user, _, err := c.githubClient.Users.Get(ctx, "")
	if err != nil {
		return "", goerr.Wrap(classify(err), "failed to authenticate GitHub token",
			goerr.T(types.ErrTagFatalPrecondition))
	}
	return user.GetLogin(), nil
}

// ListRepositories returns one page of repositories owned by identity
func (c *client) ListRepositories(ctx context.Context, identity string, page int) ([]*model.RepositoryRef, int, error) {
	opt := github.ListOptions{Page: page, PerPage: c.perPage}

	var (
		repos []*github.Repository
		resp  *github.Response
		err   error
	)
	switch {
	case identity != "":
		repos, resp, err = c.githubClient.Repositories.ListByUser(ctx, identity, &github.RepositoryListByUserOptions{
			Type:        "owner",
			ListOptions: opt,
		})
	case c.installation != nil:
		var list *github.ListRepositories
		list, resp, err = c.githubClient.Apps.ListRepos(ctx, &opt)
		if list != nil {
			repos = list.Repositories
		}
	default:
		repos, resp, err = c.githubClient.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
			Affiliation: "owner",
			ListOptions: opt,
		})
	}
	if err != nil {
		return nil, 0, goerr.Wrap(classify(err), "failed to list repositories",
			goerr.V("identity", identity),
			goerr.V("page", page))
	}

	refs := make([]*model.RepositoryRef, 0, len(repos))
	for _, repo := range repos {
		if repo.GetArchived() {
			continue
		}
		refs = append(refs, toRef(repo))
	}
	return refs, resp.NextPage, nil
}

// SearchCode returns one page of repositories containing code matching query
func (c *client) SearchCode(ctx context.Context, query string, page int) ([]*model.RepositoryRef, int, error) {
	result, resp, err := c.githubClient.Search.Code(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: c.perPage},
	})
	if err != nil {
		return nil, 0, goerr.Wrap(classify(err), "failed to search code",
			goerr.V("query", query),
			goerr.V("page", page))
	}

	seen := make(map[string]struct{})
	var refs []*model.RepositoryRef
	for _, cr := range result.CodeResults {
		if cr.Repository == nil {
			continue
		}
		ref := toRef(cr.Repository)
		if _, ok := seen[ref.FullName()]; ok {
			continue
		}
		seen[ref.FullName()] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, resp.NextPage, nil
}

// GetRepository fetches repository metadata
func (c *client) GetRepository(ctx context.Context, owner, name string) (*model.RepositoryRef, error) {
	repo, _, err := c.githubClient.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, goerr.Wrap(classify(err), "failed to get repository",
			goerr.V("owner", owner),
			goerr.V("repo", name))
	}
	return toRef(repo), nil
}

// DownloadZipball downloads the source code zipball for a specific commit
func (c *client) DownloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error) {
	// Get download URL for zipball
	archiveURL, _, err := c.githubClient.Repositories.GetArchiveLink(ctx, owner, repo, github.Zipball, &github.RepositoryContentGetOptions{
		Ref: ref,
	}, 3) // Follow up to 3 redirects
	if err != nil {
		return nil, goerr.Wrap(classify(err), "failed to get zipball download URL",
			goerr.V("owner", owner),
			goerr.V("repo", repo),
			goerr.V("ref", ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create download request", goerr.V("url", archiveURL.String()))
	}

	// Use the same client transport for authentication
	httpClient := &http.Client{Transport: c.githubClient.Client().Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download zipball",
			goerr.T(types.ErrTagTransientNetwork),
			goerr.V("url", archiveURL.String()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("unexpected status code for zipball download",
			append(statusOptions(resp.StatusCode), goerr.V("url", archiveURL.String()))...)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read response body", goerr.T(types.ErrTagTransientNetwork))
	}

	return data, nil
}

// BranchExists reports whether branch exists on the remote
func (c *client) BranchExists(ctx context.Context, repo *model.RepositoryRef, branch string) (bool, error) {
	_, resp, err := c.githubClient.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, goerr.Wrap(classify(err), "failed to look up branch",
			goerr.V("repo", repo.FullName()),
			goerr.V("branch", branch))
	}
	return true, nil
}

// FindPullRequest returns the URL of an open pull request whose head is branch
func (c *client) FindPullRequest(ctx context.Context, repo *model.RepositoryRef, branch string) (string, bool, error) {
	prs, _, err := c.githubClient.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
		State:       "open",
		Head:        repo.Owner + ":" + branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", false, goerr.Wrap(classify(err), "failed to list pull requests",
			goerr.V("repo", repo.FullName()),
			goerr.V("head", branch))
	}
	if len(prs) == 0 {
		return "", false, nil
	}
	return prs[0].GetHTMLURL(), true, nil
}

// CreatePullRequest opens a pull request. A rejection because the pull
// request already exists is tagged as a conflict.
func (c *client) CreatePullRequest(ctx context.Context, repo *model.RepositoryRef, req *model.PullRequestRequest) (string, error) {
	pr, _, err := c.githubClient.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Head:  github.Ptr(req.Head),
		Base:  github.Ptr(req.Base),
		Body:  github.Ptr(req.Body),
	})
	if err != nil {
		return "", goerr.Wrap(classify(err), "failed to create pull request",
			goerr.V("repo", repo.FullName()),
			goerr.V("head", req.Head),
			goerr.V("base", req.Base))
	}
	return pr.GetHTMLURL(), nil
}

// Credentials returns a token usable for git over HTTPS
func (c *client) Credentials(ctx context.Context) (*model.Credentials, error) {
	if c.installation != nil {
		token, err := c.installation.Token(ctx)
		if err != nil {
			return nil, goerr.Wrap(classify(err), "failed to issue installation token")
		}
		return &model.Credentials{Username: "x-access-token", Token: token}, nil
	}
	return &model.Credentials{Username: "x-access-token", Token: c.token}, nil
}

func toRef(repo *github.Repository) *model.RepositoryRef {
	ref := &model.RepositoryRef{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		DefaultBranch: repo.GetDefaultBranch(),
		CloneURL:      repo.GetCloneURL(),
	}
	if ref.Owner == "" || ref.Name == "" {
		if owner, name, err := model.ParseFullName(repo.GetFullName()); err == nil {
			ref.Owner, ref.Name = owner, name
		}
	}
	if ref.CloneURL == "" && repo.GetHTMLURL() != "" {
		ref.CloneURL = repo.GetHTMLURL() + ".git"
	}
	return ref
}
