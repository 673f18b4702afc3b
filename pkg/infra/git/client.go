// Package git drives the git command line client. Credentials are handed to
// git through per-process environment variables and are never written to the
// repository config or to disk.
package git

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

const binGit = "git"

type client struct {
	bin string
	env []string
}

// Option is a functional option for the git client
type Option func(*client)

// WithBinary overrides the git executable. An empty path keeps the default.
func WithBinary(path string) Option {
	return func(c *client) {
		if path != "" {
			c.bin = path
		}
	}
}

// WithEnv appends extra environment variables to every git invocation
func WithEnv(env ...string) Option {
	return func(c *client) {
		c.env = append(c.env, env...)
	}
}

// New creates a git client
func New(opts ...Option) interfaces.VCSClient {
	c := &client{bin: binGit}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clone performs a shallow single-branch clone of address into dest
func (c *client) Clone(ctx context.Context, address, dest, branch string, cred *model.Credentials) error {
	args := []string{"clone", "--depth", "1", "--single-branch", "--no-tags"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", address, dest)

	if _, err := c.run(ctx, "", cred, args...); err != nil {
		return goerr.Wrap(err, "failed to clone repository",
			goerr.V("address", address),
			goerr.V("branch", branch))
	}
	return nil
}

// CheckoutBranch switches dir to branch, creating it from HEAD when create is set
func (c *client) CheckoutBranch(ctx context.Context, dir, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-B")
	}
	args = append(args, branch)

	if _, err := c.run(ctx, dir, nil, args...); err != nil {
		return goerr.Wrap(err, "failed to checkout branch", goerr.V("branch", branch))
	}
	return nil
}

// Stage adds exactly paths to the index
func (c *client) Stage(ctx context.Context, dir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := c.run(ctx, dir, nil, args...); err != nil {
		return goerr.Wrap(err, "failed to stage files", goerr.V("paths", paths))
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD
func (c *client) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	// --quiet exits 1 when there are changes
	_, err := c.run(ctx, dir, nil, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, goerr.Wrap(err, "failed to inspect staged changes")
}

// Commit records the staged changes and returns the new revision
func (c *client) Commit(ctx context.Context, dir, message string, author *model.Signature) (string, error) {
	args := []string{}
	if author != nil {
		args = append(args, "-c", "user.name="+author.Name, "-c", "user.email="+author.Email)
	}
	args = append(args, "commit", "--no-verify", "-m", message)

	if _, err := c.run(ctx, dir, nil, args...); err != nil {
		return "", goerr.Wrap(err, "failed to commit")
	}

	out, err := c.run(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve HEAD")
	}
	return strings.TrimSpace(out), nil
}

// Push pushes branch to origin
func (c *client) Push(ctx context.Context, dir, branch string, cred *model.Credentials) error {
	if _, err := c.run(ctx, dir, cred, "push", "--porcelain", "origin", "HEAD:refs/heads/"+branch); err != nil {
		return goerr.Wrap(err, "failed to push branch", goerr.V("branch", branch))
	}
	return nil
}

func (c *client) run(ctx context.Context, dir string, cred *model.Credentials, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.Env = append(cmd.Env, c.env...)
	cmd.Env = append(cmd.Env, credentialEnv(cred)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ctxlog.From(ctx).Debug("Running git", "args", args, "dir", dir)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return stdout.String(), goerr.Wrap(err, "git command failed",
			append(classifyStderr(msg),
				goerr.V("command", args[0]),
				goerr.V("stderr", msg))...)
	}
	return stdout.String(), nil
}

// credentialEnv injects an Authorization header through GIT_CONFIG_* so the
// token stays in the child process environment only
func credentialEnv(cred *model.Credentials) []string {
	if cred == nil || cred.Token == "" {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + basic,
	}
}

var (
	authMarkers = []string{
		"authentication failed",
		"could not read username",
		"invalid username or password",
		"http 401",
		"error: 401",
	}
	permissionMarkers = []string{
		"permission to",
		"http 403",
		"error: 403",
		"protected branch",
		"denied",
	}
	notFoundMarkers = []string{
		"repository not found",
		"not found",
		"does not appear to be a git repository",
		"remote branch", // "Remote branch x not found in upstream origin"
	}
	transientMarkers = []string{
		"could not resolve host",
		"connection timed out",
		"connection reset",
		"connection refused",
		"operation timed out",
		"early eof",
		"the remote end hung up unexpectedly",
		"rpc failed",
		"http 5",
		"error: 5",
		"tls handshake timeout",
		"gnutls",
	}
	rateLimitMarkers = []string{
		"rate limit",
		"http 429",
		"error: 429",
	}
)

// classifyStderr maps git's diagnostic output to an error tag
func classifyStderr(stderr string) []goerr.Option {
	s := strings.ToLower(stderr)
	has := func(markers []string) bool {
		for _, m := range markers {
			if strings.Contains(s, m) {
				return true
			}
		}
		return false
	}

	switch {
	case has(rateLimitMarkers):
		return []goerr.Option{goerr.T(types.ErrTagRateLimited)}
	case has(authMarkers):
		return []goerr.Option{goerr.T(types.ErrTagAuthenticationFailed)}
	case has(permissionMarkers):
		return []goerr.Option{goerr.T(types.ErrTagPermissionDenied)}
	case has(notFoundMarkers):
		return []goerr.Option{goerr.T(types.ErrTagRepositoryUnavailable)}
	case has(transientMarkers):
		return []goerr.Option{goerr.T(types.ErrTagTransientNetwork)}
	default:
		return nil
	}
}
