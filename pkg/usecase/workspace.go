package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// defaultMaxExtractBytes bounds the total uncompressed size of one zipball
const defaultMaxExtractBytes int64 = 2 << 30

type workspaceManager struct {
	source          model.CheckoutSource
	hosting         interfaces.HostingClient
	vcs             interfaces.VCSClient
	root            string
	maxExtractBytes int64
}

// WorkspaceOption configures a workspace manager
type WorkspaceOption func(*workspaceManager)

// WithWorkspaceRoot sets the parent directory of every workspace. The system
// temporary directory is used by default.
func WithWorkspaceRoot(dir string) WorkspaceOption {
	return func(m *workspaceManager) {
		m.root = dir
	}
}

// WithMaxExtractBytes bounds the uncompressed size of an archive checkout
func WithMaxExtractBytes(n int64) WorkspaceOption {
	return func(m *workspaceManager) {
		m.maxExtractBytes = n
	}
}

// NewWorkspaceManager creates a workspace manager. The clone source needs
// vcs; the archive source only downloads through hosting.
func NewWorkspaceManager(source model.CheckoutSource, hosting interfaces.HostingClient, vcs interfaces.VCSClient, opts ...WorkspaceOption) interfaces.WorkspaceManager {
	m := &workspaceManager{
		source:          source,
		hosting:         hosting,
		vcs:             vcs,
		maxExtractBytes: defaultMaxExtractBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire materializes ref of repo into a new directory. On failure nothing
// is left on disk.
func (m *workspaceManager) Acquire(ctx context.Context, repo *model.RepositoryRef, ref string) (*model.Workspace, error) {
	if ref == "" {
		ref = repo.DefaultBranch
	}
	logger := ctxlog.From(ctx).With("repo", repo.FullName(), "source", m.source, "ref", ref)

	dir, err := os.MkdirTemp(m.root, "flock-"+repo.Owner+"-"+repo.Name+"-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create workspace directory",
			goerr.T(types.ErrTagCheckoutFailed),
			goerr.V("root", m.root))
	}
	if err := os.Chmod(dir, 0700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, goerr.Wrap(err, "failed to set workspace permissions",
			goerr.T(types.ErrTagCheckoutFailed),
			goerr.V("dir", dir))
	}

	switch m.source {
	case model.CheckoutClone:
		err = m.clone(ctx, repo, ref, dir)
	case model.CheckoutArchive:
		err = m.extractArchive(ctx, repo, ref, dir)
	default:
		err = goerr.New("unknown checkout source", goerr.V("source", m.source))
	}
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn("Failed to remove partial workspace", "dir", dir, "error", rmErr)
		}
		return nil, goerr.Wrap(err, "failed to acquire workspace",
			append(checkoutOptions(err), goerr.V("repo", repo.FullName()), goerr.V("ref", ref))...)
	}

	logger.Debug("Acquired workspace", "dir", dir)
	return &model.Workspace{
		Repository: repo,
		Root:       dir,
		Ref:        ref,
		Source:     m.source,
		CreatedAt:  time.Now(),
	}, nil
}

// Release removes the workspace directory recursively
func (m *workspaceManager) Release(ctx context.Context, ws *model.Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return goerr.Wrap(err, "failed to remove workspace", goerr.V("dir", ws.Root))
	}
	ctxlog.From(ctx).Debug("Released workspace", "dir", ws.Root)
	return nil
}

// WithWorkspace acquires a workspace for ref of repo, runs fn and releases the
// workspace whatever fn returns
func WithWorkspace(ctx context.Context, wm interfaces.WorkspaceManager, repo *model.RepositoryRef, ref string, fn func(ws *model.Workspace) error) error {
	ws, err := wm.Acquire(ctx, repo, ref)
	if err != nil {
		return err
	}
	defer func() {
		if err := wm.Release(ctx, ws); err != nil {
			ctxlog.From(ctx).Warn("Failed to release workspace", "repo", repo.FullName(), "error", err)
		}
	}()
	return fn(ws)
}

// checkoutOptions keeps access problems distinguishable from transport and
// disk problems. Authentication failures and cancellation keep their own kind.
func checkoutOptions(err error) []goerr.Option {
	switch types.KindOf(err) {
	case types.KindRepositoryUnavailable, types.KindPermissionDenied:
		return []goerr.Option{goerr.T(types.ErrTagRepositoryUnavailable)}
	case types.KindAuthenticationFailed, types.KindCanceled:
		return nil
	default:
		return []goerr.Option{goerr.T(types.ErrTagCheckoutFailed)}
	}
}

func (m *workspaceManager) clone(ctx context.Context, repo *model.RepositoryRef, ref, dir string) error {
	cred, err := m.hosting.Credentials(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to get git credentials")
	}
	return m.vcs.Clone(ctx, repo.CloneURL, dir, ref, cred)
}

func (m *workspaceManager) extractArchive(ctx context.Context, repo *model.RepositoryRef, ref, dir string) error {
	logger := ctxlog.From(ctx)

	zipData, err := m.hosting.DownloadZipball(ctx, repo.Owner, repo.Name, ref)
	if err != nil {
		return goerr.Wrap(err, "failed to download zipball", goerr.V("ref", ref))
	}
	logger.Debug("Downloaded zipball", "size_bytes", len(zipData), "repo", repo.FullName())

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return goerr.Wrap(err, "failed to create zip reader")
	}

	var total int64
	for _, file := range zipReader.File {
		name, ok := stripArchivePrefix(file.Name)
		if !ok {
			continue
		}
		// Symlinks are never followed during planning
		if file.Mode()&os.ModeSymlink != 0 {
			continue
		}

		total += int64(file.UncompressedSize64)
		if total > m.maxExtractBytes {
			return goerr.New("archive exceeds extraction limit",
				goerr.V("limit", m.maxExtractBytes))
		}

		if err := extractFile(file, name, dir); err != nil {
			return goerr.Wrap(err, "failed to extract file", goerr.V("file", file.Name))
		}
	}

	return nil
}

// stripArchivePrefix drops the "<owner>-<repo>-<sha>/" directory every
// zipball entry is nested in
func stripArchivePrefix(name string) (string, bool) {
	_, rest, found := strings.Cut(name, "/")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

// extractFile writes one zip entry below destDir, rejecting paths that escape it
func extractFile(file *zip.File, name, destDir string) error {
	destPath := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return goerr.New("invalid file path detected",
			goerr.V("file", file.Name),
			goerr.V("dest", destPath))
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return goerr.Wrap(err, "failed to create parent directories", goerr.V("dir", filepath.Dir(destPath)))
	}

	rc, err := file.Open()
	if err != nil {
		return goerr.Wrap(err, "failed to open file in zip")
	}
	defer rc.Close()

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0600)
	if err != nil {
		return goerr.Wrap(err, "failed to create destination file", goerr.V("path", destPath))
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, io.LimitReader(rc, int64(file.UncompressedSize64))); err != nil {
		return goerr.Wrap(err, "failed to copy file content", goerr.V("path", destPath))
	}
	return nil
}
