package model

import (
	"time"

	"github.com/m-mizutani/flock/pkg/domain/types"
)

// OutcomeKind is the terminal state of one repository in one run
type OutcomeKind string

const (
	OutcomeSkipped         OutcomeKind = "skipped"           // nothing matched
	OutcomeAppliedNoChange OutcomeKind = "applied_no_change" // plan applied but the diff was empty
	OutcomeProposed        OutcomeKind = "proposed"          // pull request opened or reused
	OutcomeFailed          OutcomeKind = "failed"
	OutcomePlanned         OutcomeKind = "planned" // dry-run only
)

// OutcomeKinds lists every kind in reporting order
var OutcomeKinds = []OutcomeKind{
	OutcomeProposed,
	OutcomeAppliedNoChange,
	OutcomeSkipped,
	OutcomePlanned,
	OutcomeFailed,
}

// Stage names a step of the per-repository state machine
type Stage string

const (
	StagePlan        Stage = "plan"
	StageCheckout    Stage = "checkout"
	StageBranch      Stage = "branch"
	StageCommit      Stage = "commit"
	StagePush        Stage = "push"
	StagePullRequest Stage = "pull_request"
)

// Outcome is the result recorded for one (repository, transform) pair
type Outcome struct {
	Kind           OutcomeKind     `json:"kind" firestore:"kind"`
	PullRequestURL string          `json:"pull_request_url,omitempty" firestore:"pull_request_url"`
	BranchName     string          `json:"branch_name,omitempty" firestore:"branch_name"`
	Stage          Stage           `json:"stage,omitempty" firestore:"stage"`
	ErrorKind      types.ErrorKind `json:"error_kind,omitempty" firestore:"error_kind"`
	Message        string          `json:"message,omitempty" firestore:"message"`
	RunID          string          `json:"run_id,omitempty" firestore:"run_id"`
	RecordedAt     time.Time       `json:"recorded_at" firestore:"recorded_at"`
}

// Skipped returns an outcome for a repository without matches
func Skipped() *Outcome {
	return &Outcome{Kind: OutcomeSkipped}
}

// AppliedNoChange returns an outcome for a plan whose commit would be empty
func AppliedNoChange(branch string) *Outcome {
	return &Outcome{Kind: OutcomeAppliedNoChange, BranchName: branch}
}

// Proposed returns an outcome for an opened or reused pull request
func Proposed(branch, url string) *Outcome {
	return &Outcome{Kind: OutcomeProposed, BranchName: branch, PullRequestURL: url}
}

// Failed returns an outcome for a failure at stage
func Failed(stage Stage, err error) *Outcome {
	return &Outcome{
		Kind:      OutcomeFailed,
		Stage:     stage,
		ErrorKind: types.KindOf(err),
		Message:   err.Error(),
	}
}

// IsFailed reports whether the outcome is a failure
func (o *Outcome) IsFailed() bool {
	return o.Kind == OutcomeFailed
}

// IsSettled reports whether a rerun can leave this repository alone
func (o *Outcome) IsSettled() bool {
	switch o.Kind {
	case OutcomeSkipped, OutcomeAppliedNoChange, OutcomeProposed:
		return true
	default:
		return false
	}
}

// LedgerEntry is one ledger row
type LedgerEntry struct {
	Repository  string      `json:"repository" firestore:"repository"`
	TransformID TransformID `json:"transform_id" firestore:"transform_id"`
	Outcome     *Outcome    `json:"outcome" firestore:"outcome"`
}

// Summary counts outcomes by kind
type Summary map[OutcomeKind]int

// Total returns the number of counted outcomes
func (s Summary) Total() int {
	var n int
	for _, c := range s {
		n += c
	}
	return n
}

// Failed returns the number of failed outcomes
func (s Summary) Failed() int {
	return s[OutcomeFailed]
}
