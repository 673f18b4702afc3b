package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/m-mizutani/flock/pkg/domain/pattern"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultBranchPrefix is used when TransformSpec.BranchPrefix is empty
const DefaultBranchPrefix = "flock"

// DefaultFileGlob selects every file in the repository
const DefaultFileGlob = "**/*"

// TransformID is a stable identifier derived from a migration's pattern and
// replacement. It keys branch names and ledger entries.
type TransformID string

// TransformSpec describes one migration run. It is immutable after
// NewTransformSpec and shared read-only between repository tasks.
type TransformSpec struct {
	Mode          pattern.Mode
	Pattern       string
	Replacement   string
	FileGlobs     []string // gitignore-style globs, matched against slash paths
	BaseBranch    string   // Overrides the repository default branch when set
	BranchPrefix  string
	CommitMessage string
	Title         string
	Body          string

	id      TransformID
	matcher *pattern.Matcher
}

// NewTransformSpec compiles the pattern and fills defaults. A malformed pattern
// fails here, before any repository is touched.
func NewTransformSpec(spec TransformSpec) (*TransformSpec, error) {
	m, err := pattern.Compile(spec.Mode, spec.Pattern, spec.Replacement)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid transform")
	}

	s := spec
	s.Mode = m.Mode()
	s.FileGlobs = append([]string(nil), spec.FileGlobs...)
	if len(s.FileGlobs) == 0 {
		s.FileGlobs = []string{DefaultFileGlob}
	}
	if s.BranchPrefix == "" {
		s.BranchPrefix = DefaultBranchPrefix
	}
	if s.CommitMessage == "" {
		s.CommitMessage = fmt.Sprintf("Update %s to %s", s.Pattern, s.Replacement)
	}
	if s.Title == "" {
		s.Title = s.CommitMessage
	}
	s.matcher = m
	s.id = computeTransformID(s.Mode, s.Pattern, s.Replacement)

	return &s, nil
}

// ID returns the transform identity
func (s *TransformSpec) ID() TransformID { return s.id }

// Matcher returns the compiled matcher
func (s *TransformSpec) Matcher() *pattern.Matcher { return s.matcher }

// BranchName returns the deterministic branch for repo. It depends only on the
// transform identity, so reruns against the same repository reuse one branch.
func (s *TransformSpec) BranchName(repo *RepositoryRef) string {
	return s.BranchPrefix + "/" + string(s.id)
}

// TargetBranch returns the branch pull requests are opened against
func (s *TransformSpec) TargetBranch(repo *RepositoryRef) string {
	if s.BaseBranch != "" {
		return s.BaseBranch
	}
	return repo.DefaultBranch
}

func computeTransformID(mode pattern.Mode, pat, replacement string) TransformID {
	h := sha256.New()
	// NUL separators keep ("ab","c") and ("a","bc") apart
	fmt.Fprintf(h, "%s\x00%s\x00%s", mode, pat, replacement)
	return TransformID(hex.EncodeToString(h.Sum(nil))[:12])
}
