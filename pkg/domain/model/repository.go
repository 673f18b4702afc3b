package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// RepositoryRef identifies a remote repository. It is immutable once discovered.
type RepositoryRef struct {
	Owner         string `json:"owner"`          // Repository owner (user or organization)
	Name          string `json:"name"`           // Repository name
	DefaultBranch string `json:"default_branch"` // Branch pull requests are opened against
	CloneURL      string `json:"clone_url"`      // HTTPS clone address, without credentials
}

// FullName returns "owner/name"
func (r *RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// String implements fmt.Stringer
func (r *RepositoryRef) String() string {
	return r.FullName()
}

// ParseFullName splits "owner/name" (or a github.com URL) into owner and name
func ParseFullName(s string) (owner, name string, err error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".git")
	s = strings.TrimPrefix(s, "https://github.com/")
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", goerr.New("invalid repository name, expected owner/name", goerr.V("name", s))
	}
	return parts[0], parts[1], nil
}
