package usecase

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
	ignore "github.com/sabhiram/go-gitignore"
)

const (
	// defaultMaxFileSize skips generated blobs and vendored archives
	defaultMaxFileSize int64 = 1 << 20
	// binarySniffLen matches the prefix git inspects for NUL bytes
	binarySniffLen = 8000
)

type planner struct {
	workspace   interfaces.WorkspaceManager
	maxFileSize int64
}

// PlannerOption configures the planner
type PlannerOption func(*planner)

// WithMaxFileSize skips files larger than n bytes
func WithMaxFileSize(n int64) PlannerOption {
	return func(p *planner) {
		p.maxFileSize = n
	}
}

// NewPlanner creates a planner reading checkouts from workspace
func NewPlanner(workspace interfaces.WorkspaceManager, opts ...PlannerOption) interfaces.Planner {
	p := &planner{
		workspace:   workspace,
		maxFileSize: defaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan checks out repo, rewrites every selected file in memory and returns the
// resulting changes. The checkout is released before Plan returns.
func (p *planner) Plan(ctx context.Context, repo *model.RepositoryRef, spec *model.TransformSpec) (*model.MigrationPlan, error) {
	logger := ctxlog.From(ctx).With("repo", repo.FullName())

	base := spec.TargetBranch(repo)

	var changes []*model.FileChange
	err := WithWorkspace(ctx, p.workspace, repo, base, func(ws *model.Workspace) error {
		var err error
		changes, err = p.scan(ctx, ws.Root, spec)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to plan", goerr.V("repo", repo.FullName()))
	}

	slices.SortFunc(changes, func(a, b *model.FileChange) int {
		return strings.Compare(a.Path, b.Path)
	})

	logger.Info("Planned migration", "changes", len(changes))

	return &model.MigrationPlan{
		Repository:    repo,
		TransformID:   spec.ID(),
		FileChanges:   changes,
		BaseBranch:    base,
		BranchName:    spec.BranchName(repo),
		CommitMessage: spec.CommitMessage,
		Title:         spec.Title,
		Body:          spec.Body,
	}, nil
}

func (p *planner) scan(ctx context.Context, root string, spec *model.TransformSpec) ([]*model.FileChange, error) {
	logger := ctxlog.From(ctx)
	globs := ignore.CompileIgnoreLines(spec.FileGlobs...)
	matcher := spec.Matcher()

	var changes []*model.FileChange
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		// WalkDir reports symlinks without following them; only regular files are read
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return goerr.Wrap(err, "failed to resolve relative path", goerr.V("path", path))
		}
		rel = filepath.ToSlash(rel)
		if !globs.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return goerr.Wrap(err, "failed to stat file", goerr.V("path", rel))
		}
		if info.Size() > p.maxFileSize {
			logger.Debug("Skipping large file", "path", rel, "size", info.Size())
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return goerr.Wrap(err, "failed to read file", goerr.V("path", rel))
		}
		if isBinary(content) || !matcher.Match(content) {
			return nil
		}

		rewritten, err := matcher.Rewrite(content)
		if err != nil {
			return goerr.Wrap(err, "failed to rewrite file", goerr.V("path", rel))
		}
		if bytes.Equal(rewritten, content) {
			return nil
		}

		changes = append(changes, &model.FileChange{
			Path:         rel,
			OriginalHash: model.HashContent(content),
			Original:     content,
			NewContent:   rewritten,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func isBinary(content []byte) bool {
	n := min(len(content), binarySniffLen)
	return bytes.IndexByte(content[:n], 0) >= 0
}
