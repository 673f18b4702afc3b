package config

import (
	"os"
	"strings"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/pattern"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// Migration holds the definition of one migration. Values may come from a
// TOML file; flags given on the command line take precedence.
type Migration struct {
	File          string
	Mode          string
	Pattern       string
	Replacement   string
	Globs         []string
	Scope         string
	BaseBranch    string
	BranchPrefix  string
	CommitMessage string
	Title         string
	Body          string
}

// migrationFile is the TOML layout of --config
type migrationFile struct {
	Mode          string   `toml:"mode"`
	Pattern       string   `toml:"pattern"`
	Replacement   string   `toml:"replacement"`
	Globs         []string `toml:"globs"`
	Scope         string   `toml:"scope"`
	BaseBranch    string   `toml:"base_branch"`
	BranchPrefix  string   `toml:"branch_prefix"`
	CommitMessage string   `toml:"commit_message"`
	Title         string   `toml:"title"`
	Body          string   `toml:"body"`
}

// Flags returns CLI flags for the migration definition
func (c *Migration) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "TOML file defining the migration",
			Destination: &c.File,
			Sources:     cli.EnvVars("FLOCK_CONFIG"),
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "Pattern mode (literal, regex)",
			Value:       string(pattern.ModeLiteral),
			Destination: &c.Mode,
		},
		&cli.StringFlag{
			Name:        "pattern",
			Aliases:     []string{"p"},
			Usage:       "Code to find",
			Destination: &c.Pattern,
		},
		&cli.StringFlag{
			Name:        "replacement",
			Aliases:     []string{"r"},
			Usage:       "Code to replace it with ($1 expands groups in regex mode)",
			Destination: &c.Replacement,
		},
		&cli.StringSliceFlag{
			Name:        "glob",
			Aliases:     []string{"g"},
			Usage:       "Files to rewrite, gitignore syntax (repeatable)",
			Destination: &c.Globs,
		},
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "Repositories to migrate: owned, owned:<login>, search or search:<query>",
			Value:       "owned",
			Destination: &c.Scope,
		},
		&cli.StringFlag{
			Name:        "base-branch",
			Usage:       "Branch to open pull requests against (default: repository default branch)",
			Destination: &c.BaseBranch,
		},
		&cli.StringFlag{
			Name:        "branch-prefix",
			Usage:       "Prefix of the migration branch",
			Value:       model.DefaultBranchPrefix,
			Destination: &c.BranchPrefix,
		},
		&cli.StringFlag{
			Name:        "commit-message",
			Usage:       "Commit message (default: Update <pattern> to <replacement>)",
			Destination: &c.CommitMessage,
		},
		&cli.StringFlag{
			Name:        "title",
			Usage:       "Pull request title (default: commit message)",
			Destination: &c.Title,
		},
		&cli.StringFlag{
			Name:        "body",
			Usage:       "Pull request body",
			Destination: &c.Body,
		},
	}
}

// flagSetter reports whether a flag was given explicitly
type flagSetter interface {
	IsSet(name string) bool
}

// Load merges the TOML file into unset flags
func (c *Migration) Load(set flagSetter) error {
	if c.File == "" {
		return nil
	}

	raw, err := os.ReadFile(c.File)
	if err != nil {
		return goerr.Wrap(err, "failed to read migration file",
			goerr.T(types.ErrTagFatalPrecondition),
			goerr.V("path", c.File))
	}

	var f migrationFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return goerr.Wrap(err, "failed to parse migration file",
			goerr.T(types.ErrTagFatalPrecondition),
			goerr.V("path", c.File))
	}

	merge := func(flag string, dst *string, v string) {
		if v != "" && !set.IsSet(flag) {
			*dst = v
		}
	}
	merge("mode", &c.Mode, f.Mode)
	merge("pattern", &c.Pattern, f.Pattern)
	merge("replacement", &c.Replacement, f.Replacement)
	merge("scope", &c.Scope, f.Scope)
	merge("base-branch", &c.BaseBranch, f.BaseBranch)
	merge("branch-prefix", &c.BranchPrefix, f.BranchPrefix)
	merge("commit-message", &c.CommitMessage, f.CommitMessage)
	merge("title", &c.Title, f.Title)
	merge("body", &c.Body, f.Body)
	if len(f.Globs) > 0 && !set.IsSet("glob") {
		c.Globs = f.Globs
	}
	return nil
}

// TransformSpec compiles the migration. Any problem is a fatal precondition
// failure because no repository has been touched yet.
func (c *Migration) TransformSpec() (*model.TransformSpec, error) {
	if c.Pattern == "" {
		return nil, goerr.New("pattern is required",
			goerr.T(types.ErrTagInvalidPattern),
			goerr.T(types.ErrTagFatalPrecondition))
	}

	spec, err := model.NewTransformSpec(model.TransformSpec{
		Mode:          pattern.Mode(c.Mode),
		Pattern:       c.Pattern,
		Replacement:   c.Replacement,
		FileGlobs:     c.Globs,
		BaseBranch:    c.BaseBranch,
		BranchPrefix:  c.BranchPrefix,
		CommitMessage: c.CommitMessage,
		Title:         c.Title,
		Body:          c.Body,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "invalid migration", goerr.T(types.ErrTagFatalPrecondition))
	}
	return spec, nil
}

// ScopeKind selects the discovery source
type ScopeKind string

const (
	ScopeOwned  ScopeKind = "owned"
	ScopeSearch ScopeKind = "search"
)

// Scope is a parsed --scope value
type Scope struct {
	Kind ScopeKind
	// Value is the owner login for ScopeOwned (empty: authenticated user) or
	// the code search query for ScopeSearch
	Value string
}

// ParseScope parses the scope. A bare "search" searches for the pattern
// itself, which only makes sense in literal mode.
func (c *Migration) ParseScope() (*Scope, error) {
	kind, value, _ := strings.Cut(c.Scope, ":")
	switch ScopeKind(kind) {
	case ScopeOwned:
		return &Scope{Kind: ScopeOwned, Value: value}, nil

	case ScopeSearch:
		if value == "" {
			if pattern.Mode(c.Mode) == pattern.ModeRegex {
				return nil, goerr.New("search scope needs a query in regex mode",
					goerr.T(types.ErrTagFatalPrecondition))
			}
			value = c.Pattern
		}
		return &Scope{Kind: ScopeSearch, Value: value}, nil

	default:
		return nil, goerr.New("invalid scope, expected owned[:<login>] or search[:<query>]",
			goerr.T(types.ErrTagFatalPrecondition),
			goerr.V("scope", c.Scope))
	}
}
