package model

import "time"

// CheckoutSource selects how a Workspace is materialized
type CheckoutSource string

const (
	// CheckoutClone clones the repository with git; the workspace can be committed and pushed
	CheckoutClone CheckoutSource = "clone"
	// CheckoutArchive extracts the zipball of one branch; the workspace is read-only
	CheckoutArchive CheckoutSource = "archive"
)

// Workspace is an isolated local checkout of one repository, owned by exactly
// one in-flight task
type Workspace struct {
	Repository *RepositoryRef
	Root       string         // Path to the checkout; removed recursively on release
	Ref        string         // Branch the checkout was taken from
	Source     CheckoutSource // How the checkout was materialized
	CreatedAt  time.Time
}
