package config

import (
	"time"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/usecase"
	"github.com/m-mizutani/flock/pkg/utils/retry"
	"github.com/urfave/cli/v3"
)

// Run holds execution settings of a migration run
type Run struct {
	Concurrency  int
	DryRun       bool
	Resume       bool
	Strict       bool
	WorkDir      string
	AuthorName   string
	AuthorEmail  string
	PushAttempts int
	RetryDelay   time.Duration
	MaxFileSize  int64
	GitBinary    string
}

// Flags returns CLI flags for run settings
func (c *Run) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "concurrency",
			Aliases:     []string{"j"},
			Usage:       "Number of repositories processed at once",
			Value:       usecase.DefaultConcurrency,
			Destination: &c.Concurrency,
			Sources:     cli.EnvVars("FLOCK_CONCURRENCY"),
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Plan and print diffs without pushing anything",
			Destination: &c.DryRun,
		},
		&cli.BoolFlag{
			Name:        "resume",
			Usage:       "Skip repositories the ledger already settled for this migration",
			Destination: &c.Resume,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "Abort when discovery fails part-way instead of migrating what was found",
			Destination: &c.Strict,
		},
		&cli.StringFlag{
			Name:        "work-dir",
			Usage:       "Parent directory of temporary checkouts (default: system temp dir)",
			Destination: &c.WorkDir,
			Sources:     cli.EnvVars("FLOCK_WORK_DIR"),
		},
		&cli.StringFlag{
			Name:        "author-name",
			Usage:       "Commit author name",
			Value:       usecase.DefaultSignature.Name,
			Destination: &c.AuthorName,
			Sources:     cli.EnvVars("FLOCK_AUTHOR_NAME"),
		},
		&cli.StringFlag{
			Name:        "author-email",
			Usage:       "Commit author email",
			Value:       usecase.DefaultSignature.Email,
			Destination: &c.AuthorEmail,
			Sources:     cli.EnvVars("FLOCK_AUTHOR_EMAIL"),
		},
		&cli.IntFlag{
			Name:        "push-attempts",
			Usage:       "Push attempts on transient errors",
			Value:       retry.DefaultPolicy().MaxAttempts,
			Destination: &c.PushAttempts,
		},
		&cli.DurationFlag{
			Name:        "retry-delay",
			Usage:       "Initial backoff between retries",
			Value:       retry.DefaultPolicy().BaseDelay,
			Destination: &c.RetryDelay,
		},
		&cli.Int64Flag{
			Name:        "max-file-size",
			Usage:       "Skip files larger than this many bytes",
			Value:       1 << 20,
			Destination: &c.MaxFileSize,
		},
		&cli.StringFlag{
			Name:        "git-binary",
			Usage:       "Path of the git executable",
			Value:       "git",
			Destination: &c.GitBinary,
			Sources:     cli.EnvVars("FLOCK_GIT_BINARY"),
		},
	}
}

// RetryPolicy returns the backoff policy for pushes and hosting calls
func (c *Run) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.PushAttempts > 0 {
		p.MaxAttempts = c.PushAttempts
	}
	if c.RetryDelay > 0 {
		p.BaseDelay = c.RetryDelay
	}
	return p
}

// Author returns the commit signature
func (c *Run) Author() model.Signature {
	return model.Signature{Name: c.AuthorName, Email: c.AuthorEmail}
}
