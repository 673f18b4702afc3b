package model

import "time"

// RepositoryResult pairs a repository with what happened to it during a run
type RepositoryResult struct {
	Repository *RepositoryRef `json:"repository"`
	Outcome    *Outcome       `json:"outcome"`
	Plan       *MigrationPlan `json:"plan,omitempty"`
}

// RunReport is the result of one migration run
type RunReport struct {
	RunID       string              `json:"run_id"`
	TransformID TransformID         `json:"transform_id"`
	DryRun      bool                `json:"dry_run"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Results     []*RepositoryResult `json:"results"`
	Summary     Summary             `json:"summary"`
	Discovery   string              `json:"discovery_error,omitempty"` // Set when discovery ended early
}

// HasFailure reports whether any repository failed
func (r *RunReport) HasFailure() bool {
	return r.Summary.Failed() > 0
}
