package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	githubinfra "github.com/m-mizutani/flock/pkg/infra/github"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gt.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*httptest.Server, func() model.RepositoryRef) {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, func() model.RepositoryRef {
		return model.RepositoryRef{Owner: "octo", Name: "app", DefaultBranch: "main"}
	}
}

func TestNewTokenClient_EmptyToken(t *testing.T) {
	_, err := githubinfra.NewTokenClient(context.Background(), "")
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagFatalPrecondition))
	gt.Equal(t, types.KindOf(err), types.KindAuthenticationFailed)
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, r.Header.Get("Authorization"), "Bearer test-token")
			writeJSON(t, w, http.StatusOK, map[string]any{"login": "octocat"})
		})
		server, _ := newTestClient(t, mux)

		client, err := githubinfra.NewTokenClient(context.Background(), "test-token", githubinfra.WithBaseURL(server.URL))
		gt.NoError(t, err)

		login, err := client.Authenticate(context.Background())
		gt.NoError(t, err)
		gt.Equal(t, login, "octocat")
	})

	t.Run("invalid token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
		})
		server, _ := newTestClient(t, mux)

		client, err := githubinfra.NewTokenClient(context.Background(), "bad", githubinfra.WithBaseURL(server.URL))
		gt.NoError(t, err)

		_, err = client.Authenticate(context.Background())
		gt.Error(t, err)
		gt.Equal(t, types.KindOf(err), types.KindAuthenticationFailed)
		gt.True(t, goerr.HasTag(err, types.ErrTagFatalPrecondition))
	})
}

func TestClient_ListRepositories_Pagination(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Query().Get("affiliation"), "owner")
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/user/repos?page=2>; rel="next"`, server.URL))
			writeJSON(t, w, http.StatusOK, []map[string]any{
				{"name": "a", "full_name": "octo/a", "owner": map[string]any{"login": "octo"}, "default_branch": "main", "clone_url": "https://github.com/octo/a.git"},
				{"name": "old", "full_name": "octo/old", "owner": map[string]any{"login": "octo"}, "default_branch": "main", "archived": true},
			})
		case "2":
			writeJSON(t, w, http.StatusOK, []map[string]any{
				{"name": "b", "full_name": "octo/b", "owner": map[string]any{"login": "octo"}, "default_branch": "master", "html_url": "https://github.com/octo/b"},
			})
		default:
			t.Errorf("unexpected page %q", page)
		}
	})
	server, _ = newTestClient(t, mux)

	client, err := githubinfra.NewTokenClient(context.Background(), "t", githubinfra.WithBaseURL(server.URL))
	gt.NoError(t, err)

	refs, next, err := client.ListRepositories(context.Background(), "", 1)
	gt.NoError(t, err)
	gt.Equal(t, next, 2)
	gt.A(t, refs).Length(1)
	gt.Equal(t, refs[0].FullName(), "octo/a")
	gt.Equal(t, refs[0].CloneURL, "https://github.com/octo/a.git")

	refs, next, err = client.ListRepositories(context.Background(), "", 2)
	gt.NoError(t, err)
	gt.Equal(t, next, 0)
	gt.A(t, refs).Length(1)
	gt.Equal(t, refs[0].DefaultBranch, "master")
	gt.Equal(t, refs[0].CloneURL, "https://github.com/octo/b.git")
}

func TestClient_SearchCode_Dedup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/code", func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Query().Get("q"), "oldapi.Call")
		repo := func(full string) map[string]any {
			owner, name, err := model.ParseFullName(full)
			gt.NoError(t, err)
			return map[string]any{"name": name, "full_name": full, "owner": map[string]any{"login": owner}}
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"total_count": 3,
			"items": []map[string]any{
				{"path": "a.go", "repository": repo("octo/a")},
				{"path": "b.go", "repository": repo("octo/a")},
				{"path": "c.go", "repository": repo("octo/c")},
			},
		})
	})
	server, _ := newTestClient(t, mux)

	client, err := githubinfra.NewTokenClient(context.Background(), "t", githubinfra.WithBaseURL(server.URL))
	gt.NoError(t, err)

	refs, next, err := client.SearchCode(context.Background(), "oldapi.Call", 1)
	gt.NoError(t, err)
	gt.Equal(t, next, 0)
	gt.A(t, refs).Length(2)
	gt.Equal(t, refs[0].FullName(), "octo/a")
	gt.Equal(t, refs[1].FullName(), "octo/c")
}

func TestClient_BranchExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/git/ref/heads/flock/present", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"ref": "refs/heads/flock/present", "object": map[string]any{"sha": "abc"}})
	})
	mux.HandleFunc("GET /repos/octo/app/git/ref/heads/flock/absent", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})
	mux.HandleFunc("GET /repos/octo/app/git/ref/heads/flock/forbidden", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{"message": "Resource not accessible by integration"})
	})
	server, repo := newTestClient(t, mux)

	client, err := githubinfra.NewTokenClient(context.Background(), "t", githubinfra.WithBaseURL(server.URL))
	gt.NoError(t, err)
	ref := repo()

	ok, err := client.BranchExists(context.Background(), &ref, "flock/present")
	gt.NoError(t, err)
	gt.True(t, ok)

	ok, err = client.BranchExists(context.Background(), &ref, "flock/absent")
	gt.NoError(t, err)
	gt.False(t, ok)

	_, err = client.BranchExists(context.Background(), &ref, "flock/forbidden")
	gt.Error(t, err)
	gt.Equal(t, types.KindOf(err), types.KindPermissionDenied)
}

func TestClient_PullRequests(t *testing.T) {
	var created int
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Query().Get("head"), "octo:flock/abc")
		gt.Equal(t, r.URL.Query().Get("state"), "open")
		if created == 0 {
			writeJSON(t, w, http.StatusOK, []map[string]any{})
			return
		}
		writeJSON(t, w, http.StatusOK, []map[string]any{{"number": 7, "html_url": "https://github.com/octo/app/pull/7"}})
	})
	mux.HandleFunc("POST /repos/octo/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gt.Equal(t, req["head"], any("flock/abc"))
		gt.Equal(t, req["base"], any("main"))
		if created > 0 {
			writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]any{{"resource": "PullRequest", "code": "custom", "message": "A pull request already exists for octo:flock/abc."}},
			})
			return
		}
		created++
		writeJSON(t, w, http.StatusCreated, map[string]any{"number": 7, "html_url": "https://github.com/octo/app/pull/7"})
	})
	server, repo := newTestClient(t, mux)

	client, err := githubinfra.NewTokenClient(context.Background(), "t", githubinfra.WithBaseURL(server.URL))
	gt.NoError(t, err)
	ref := repo()

	_, found, err := client.FindPullRequest(context.Background(), &ref, "flock/abc")
	gt.NoError(t, err)
	gt.False(t, found)

	req := &model.PullRequestRequest{Head: "flock/abc", Base: "main", Title: "Update foo to bar"}
	url, err := client.CreatePullRequest(context.Background(), &ref, req)
	gt.NoError(t, err)
	gt.Equal(t, url, "https://github.com/octo/app/pull/7")

	url, found, err = client.FindPullRequest(context.Background(), &ref, "flock/abc")
	gt.NoError(t, err)
	gt.True(t, found)
	gt.Equal(t, url, "https://github.com/octo/app/pull/7")

	_, err = client.CreatePullRequest(context.Background(), &ref, req)
	gt.Error(t, err)
	gt.Equal(t, types.KindOf(err), types.KindConflict)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   types.ErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: types.KindAuthenticationFailed},
		{name: "not found", status: http.StatusNotFound, want: types.KindRepositoryUnavailable},
		{name: "too many requests", status: http.StatusTooManyRequests, want: types.KindRateLimited},
		{name: "server error", status: http.StatusBadGateway, want: types.KindTransientNetwork},
		{name: "bad request", status: http.StatusBadRequest, want: types.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/octo/app", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, map[string]any{"message": http.StatusText(tt.status)})
			})
			server, _ := newTestClient(t, mux)

			client, err := githubinfra.NewTokenClient(context.Background(), "t", githubinfra.WithBaseURL(server.URL))
			gt.NoError(t, err)

			_, err = client.GetRepository(context.Background(), "octo", "app")
			gt.Error(t, err)
			gt.Equal(t, types.KindOf(err), tt.want)
		})
	}
}

func TestClient_Credentials_Token(t *testing.T) {
	client, err := githubinfra.NewTokenClient(context.Background(), "secret-token")
	gt.NoError(t, err)

	cred, err := client.Credentials(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, cred.Username, "x-access-token")
	gt.Equal(t, cred.Token, "secret-token")
}

func TestClient_AppCredentials(t *testing.T) {
	// This test requires GitHub App credentials from environment variables
	appID := os.Getenv("TEST_GITHUB_APP_ID")
	installationID := os.Getenv("TEST_GITHUB_INSTALLATION_ID")
	privateKey := os.Getenv("TEST_GITHUB_PRIVATE_KEY")

	if appID == "" || installationID == "" || privateKey == "" {
		t.Skip("Test GitHub App credentials not provided via environment variables")
	}

	appIDInt, err := strconv.ParseInt(appID, 10, 64)
	gt.NoError(t, err)

	installationIDInt, err := strconv.ParseInt(installationID, 10, 64)
	gt.NoError(t, err)

	client, err := githubinfra.NewClientFromConfig(appIDInt, installationIDInt, privateKey)
	gt.NoError(t, err)

	cred, err := client.Credentials(context.Background())
	gt.NoError(t, err)
	gt.Value(t, cred.Token).NotEqual("")
}
