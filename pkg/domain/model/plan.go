package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// FileChange is one file rewrite produced during planning
type FileChange struct {
	Path         string `json:"path"`          // Slash-separated path relative to the repository root
	OriginalHash string `json:"original_hash"` // sha256 of the content the change was computed from
	Original     []byte `json:"-"`             // Content the change was computed from, kept for diff rendering
	NewContent   []byte `json:"-"`
}

// MigrationPlan is the computed, not yet applied set of edits for one repository
type MigrationPlan struct {
	Repository    *RepositoryRef `json:"repository"`
	TransformID   TransformID    `json:"transform_id"`
	FileChanges   []*FileChange  `json:"file_changes"`
	BaseBranch    string         `json:"base_branch"`
	BranchName    string         `json:"branch_name"`
	CommitMessage string         `json:"commit_message"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
}

// IsNoOp reports whether the plan has nothing to apply
func (p *MigrationPlan) IsNoOp() bool {
	return len(p.FileChanges) == 0
}

// Paths returns the paths touched by the plan, in plan order
func (p *MigrationPlan) Paths() []string {
	paths := make([]string, 0, len(p.FileChanges))
	for _, fc := range p.FileChanges {
		paths = append(paths, fc.Path)
	}
	return paths
}

// HashContent returns the hex sha256 used for FileChange.OriginalHash
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
