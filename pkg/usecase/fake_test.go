package usecase_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// fakeRepo is the remote state of one repository
type fakeRepo struct {
	ref      *model.RepositoryRef
	branches map[string]map[string]string
	prs      map[string]string // head branch → URL
}

type fakeCheckout struct {
	repo   *fakeRepo
	branch string
	base   map[string]string
	staged []string
	commit map[string]string
}

// fakeGitHub implements both HostingClient and VCSClient over in-memory
// repositories. Hooks inject failures per repository.
type fakeGitHub struct {
	mu        sync.Mutex
	repos     map[string]*fakeRepo
	byURL     map[string]*fakeRepo
	checkouts map[string]*fakeCheckout

	owned   [][]*model.RepositoryRef
	search  [][]*model.RepositoryRef
	pageErr map[int]error

	cloneErr    func(repo string) error
	commitErr   func(repo string) error
	pushErr     func(repo string, attempt int) error
	createPRErr func(repo string) error
	onPlan      func(repo string)

	pushCalls     map[string]int
	createPRCalls map[string]int
	branchCalls   map[string]int
	clones        int
	zipballs      int
	cloneRefs     []string
	zipballRefs   []string
	prSeq         int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		repos:         make(map[string]*fakeRepo),
		byURL:         make(map[string]*fakeRepo),
		checkouts:     make(map[string]*fakeCheckout),
		pageErr:       make(map[int]error),
		pushCalls:     make(map[string]int),
		createPRCalls: make(map[string]int),
		branchCalls:   make(map[string]int),
	}
}

func (f *fakeGitHub) addRepo(owner, name string, files map[string]string) *model.RepositoryRef {
	f.mu.Lock()
	defer f.mu.Unlock()

	if files == nil {
		files = map[string]string{}
	}
	ref := &model.RepositoryRef{
		Owner:         owner,
		Name:          name,
		DefaultBranch: "main",
		CloneURL:      fmt.Sprintf("https://github.com/%s/%s.git", owner, name),
	}
	r := &fakeRepo{
		ref:      ref,
		branches: map[string]map[string]string{"main": files},
		prs:      make(map[string]string),
	}
	f.repos[ref.FullName()] = r
	f.byURL[ref.CloneURL] = r
	return ref
}

// addBranch adds a branch with its own tree to an existing repository
func (f *fakeGitHub) addBranch(repo *model.RepositoryRef, branch string, files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[repo.FullName()].branches[branch] = files
}

func (f *fakeGitHub) repo(name string) *fakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repos[name]
}

func notFound(what string) error {
	return goerr.New("not found", goerr.T(types.ErrTagRepositoryUnavailable), goerr.V("what", what))
}

// HostingClient

func (f *fakeGitHub) Authenticate(ctx context.Context) (string, error) {
	return "octocat", nil
}

func (f *fakeGitHub) ListRepositories(ctx context.Context, identity string, page int) ([]*model.RepositoryRef, int, error) {
	return f.page(f.owned, page)
}

func (f *fakeGitHub) SearchCode(ctx context.Context, query string, page int) ([]*model.RepositoryRef, int, error) {
	return f.page(f.search, page)
}

func (f *fakeGitHub) page(pages [][]*model.RepositoryRef, page int) ([]*model.RepositoryRef, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pageErr[page]; err != nil {
		return nil, 0, err
	}
	if page > len(pages) {
		return nil, 0, nil
	}
	next := page + 1
	if page == len(pages) {
		next = 0
	}
	return pages[page-1], next, nil
}

func (f *fakeGitHub) GetRepository(ctx context.Context, owner, name string) (*model.RepositoryRef, error) {
	r := f.repo(owner + "/" + name)
	if r == nil {
		return nil, notFound(owner + "/" + name)
	}
	ref := *r.ref
	return &ref, nil
}

func (f *fakeGitHub) DownloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error) {
	f.mu.Lock()
	f.zipballs++
	f.zipballRefs = append(f.zipballRefs, ref)
	r := f.repos[owner+"/"+repo]
	var files map[string]string
	if r != nil {
		files = r.branches[ref]
	}
	f.mu.Unlock()

	if r == nil {
		return nil, notFound(owner + "/" + repo)
	}
	if files == nil {
		return nil, notFound(owner + "/" + repo + "@" + ref)
	}
	// The archive is a snapshot taken before the hook runs
	if f.onPlan != nil {
		f.onPlan(r.ref.FullName())
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	prefix := fmt.Sprintf("%s-%s-abc1234/", owner, repo)
	if _, err := w.Create(prefix); err != nil {
		return nil, err
	}
	for _, path := range sortedKeys(files) {
		fw, err := w.Create(prefix + path)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(files[path])); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *fakeGitHub) BranchExists(ctx context.Context, repo *model.RepositoryRef, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchCalls[repo.FullName()]++
	_, ok := f.repos[repo.FullName()].branches[branch]
	return ok, nil
}

func (f *fakeGitHub) FindPullRequest(ctx context.Context, repo *model.RepositoryRef, head string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.repos[repo.FullName()].prs[head]
	return url, ok, nil
}

func (f *fakeGitHub) CreatePullRequest(ctx context.Context, repo *model.RepositoryRef, req *model.PullRequestRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := repo.FullName()
	f.createPRCalls[name]++
	if f.createPRErr != nil {
		if err := f.createPRErr(name); err != nil {
			return "", err
		}
	}

	r := f.repos[name]
	if _, ok := r.branches[req.Head]; !ok {
		return "", goerr.New("head branch does not exist", goerr.V("head", req.Head))
	}
	if _, ok := r.prs[req.Head]; ok {
		return "", goerr.New("pull request already exists", goerr.T(types.ErrTagConflict))
	}
	f.prSeq++
	url := fmt.Sprintf("https://github.com/%s/pull/%d", name, f.prSeq)
	r.prs[req.Head] = url
	return url, nil
}

func (f *fakeGitHub) Credentials(ctx context.Context) (*model.Credentials, error) {
	return &model.Credentials{Username: "x-access-token", Token: "token"}, nil
}

// VCSClient

func (f *fakeGitHub) Clone(ctx context.Context, address, dest, branch string, cred *model.Credentials) error {
	f.mu.Lock()
	f.clones++
	f.cloneRefs = append(f.cloneRefs, branch)
	r := f.byURL[address]
	var base map[string]string
	if r != nil {
		base = r.branches[branch]
	}
	f.mu.Unlock()

	if r == nil {
		return notFound(address)
	}
	if base == nil {
		return notFound(address + "@" + branch)
	}

	for path, content := range base {
		p := filepath.Join(dest, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return err
		}
	}

	// Failures are injected after files were written, like an interrupted clone
	if f.cloneErr != nil {
		if err := f.cloneErr(r.ref.FullName()); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts[dest] = &fakeCheckout{repo: r, branch: branch, base: base}
	return nil
}

func (f *fakeGitHub) checkout(dir string) *fakeCheckout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkouts[dir]
}

func (f *fakeGitHub) CheckoutBranch(ctx context.Context, dir, branch string, create bool) error {
	f.checkout(dir).branch = branch
	return nil
}

func (f *fakeGitHub) Stage(ctx context.Context, dir string, paths []string) error {
	co := f.checkout(dir)
	co.staged = append(co.staged, paths...)
	return nil
}

func (f *fakeGitHub) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	co := f.checkout(dir)
	for _, path := range co.staged {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
		if err != nil {
			return false, err
		}
		if string(content) != co.base[path] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGitHub) Commit(ctx context.Context, dir, message string, author *model.Signature) (string, error) {
	co := f.checkout(dir)
	if f.commitErr != nil {
		if err := f.commitErr(co.repo.ref.FullName()); err != nil {
			return "", err
		}
	}

	snapshot := make(map[string]string, len(co.base))
	for path, content := range co.base {
		snapshot[path] = content
	}
	for _, path := range co.staged {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
		if err != nil {
			return "", err
		}
		snapshot[path] = string(content)
	}
	co.commit = snapshot
	return "deadbeef", nil
}

func (f *fakeGitHub) Push(ctx context.Context, dir, branch string, cred *model.Credentials) error {
	co := f.checkout(dir)
	name := co.repo.ref.FullName()

	f.mu.Lock()
	f.pushCalls[name]++
	attempt := f.pushCalls[name]
	f.mu.Unlock()

	if f.pushErr != nil {
		if err := f.pushErr(name, attempt); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	co.repo.branches[branch] = co.commit
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assertEmptyDir fails when a workspace was left behind under root
func assertEmptyDir(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("failed to read %s: %v", root, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("workspaces leaked under %s: %v", root, names)
	}
}
