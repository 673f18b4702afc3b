package model

import "log/slog"

// PullRequestRequest holds the fields of a pull request to open
type PullRequestRequest struct {
	Head  string // Branch containing the changes
	Base  string // Branch the changes are merged into
	Title string
	Body  string
}

// Credentials are short-lived transport credentials for git. They live only in
// memory and in the environment of the git process that uses them.
type Credentials struct {
	Username string
	Token    string `masq:"secret"`
}

// Signature is the commit author
type Signature struct {
	Name  string
	Email string
}

// LogValue implements slog.LogValuer so the token never reaches log output
func (c *Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username))
}
