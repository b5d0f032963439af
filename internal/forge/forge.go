// Package forge defines the narrow capability interfaces the bot needs
// from a collaborative-development forge: comment lists, labels, title
// and state of a pull request, plus branch heads of its repository.
// Concrete adapters live in subpackages; tests use the in-memory fake
// in forgetest.
package forge

import (
	"context"

	"github.com/mergebot/pkg/models"
)

// Forge is one forge endpoint authenticated as the bot account.
type Forge interface {
	// CurrentUser is the bot's own identity. All marker replay is
	// restricted to comments from this user.
	CurrentUser() models.HostUser
	Repository(ctx context.Context, name string) (Repository, error)
}

// Repository is a hosted repository on the forge.
type Repository interface {
	Name() string
	// URL is the clone URL including any credentials needed to push.
	URL() string
	BranchHash(ctx context.Context, ref string) (models.Hash, error)
	PullRequest(ctx context.Context, id string) (PullRequest, error)
	OpenPullRequests(ctx context.Context) ([]PullRequest, error)
	Forge() Forge
}

// PullRequest is one pull request, fetched fresh per work item. The
// accessors reflect forge-side state at fetch time; mutators take
// effect immediately on the forge.
type PullRequest interface {
	ID() string
	Title() string
	SetTitle(ctx context.Context, title string) error
	Body() string
	Author() models.HostUser
	HeadHash() models.Hash
	TargetRef() string
	State() models.PullRequestState
	SetState(ctx context.Context, state models.PullRequestState) error

	Comments(ctx context.Context) ([]models.Comment, error)
	AddComment(ctx context.Context, body string) (models.Comment, error)

	Reviews(ctx context.Context) ([]models.Review, error)

	LabelNames(ctx context.Context) ([]string, error)
	AddLabel(ctx context.Context, name string) error
	RemoveLabel(ctx context.Context, name string) error

	Repository() Repository
}
