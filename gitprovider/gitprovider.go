// Package gitprovider abstracts the source-hosting integration that turns a
// verified incident into a reviewable pull request.
package gitprovider

import (
	"context"

	"github.com/jeff4444/autoduty-backend/model"
)

// Provider opens fix pull requests against the incident's repository.
type Provider interface {
	// CreateFixPR commits the incident's file edits as one revision on a
	// deterministically named branch and opens a pull request against the
	// incident's source branch. It returns the PR URL and the branch name.
	CreateFixPR(ctx context.Context, inc *model.Incident) (prURL, branch string, err error)
}
