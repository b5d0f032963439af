package command

import (
	"context"
	"strings"

	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// VetoHandler places (`/reject`) or withdraws (`/allow`) a veto keyed
// by the vetoer's census username.
type VetoHandler struct {
	name string
}

func (h *VetoHandler) Name() string { return h.name }
func (h *VetoHandler) Description() string {
	if h.name == "reject" {
		return "flags a PR as not allowed to be integrated"
	}
	return "allows a previously rejected PR to be integrated"
}
func (h *VetoHandler) AllowedInBody() bool { return false }

func (h *VetoHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	contributor, known := env.Census.Resolve(inv.User)
	if !known || !env.Census.IsCommitter(inv.User) {
		reply.WriteString("Only project committers are allowed to veto integrations.")
		return nil
	}

	vetoes := tracker.Vetoes(env.Bot, env.Comments)
	hasVeto := false
	for _, id := range vetoes {
		if id == contributor.Username {
			hasVeto = true
			break
		}
	}

	switch h.name {
	case "reject":
		if hasVeto {
			reply.WriteString("You have already rejected this change.")
			return nil
		}
		reply.WriteString(marker.Veto(contributor.Username))
		reply.WriteString("\nYour veto has been recorded. This change can no longer be integrated until all vetoes have been withdrawn.")
	case "allow":
		if !hasVeto {
			reply.WriteString("You have not rejected this change, so there is no veto of yours to withdraw.")
			return nil
		}
		reply.WriteString(marker.Approval(contributor.Username))
		reply.WriteString("\nYour veto has been withdrawn.")
	}
	return nil
}

// OpenHandler reopens a closed pull request.
type OpenHandler struct{}

func (h *OpenHandler) Name() string { return "open" }
func (h *OpenHandler) Description() string {
	return "reopens a closed pull request"
}
func (h *OpenHandler) AllowedInBody() bool { return false }

func (h *OpenHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !isPRAuthor(env, inv.User) {
		reply.WriteString("Only the author of this pull request is allowed to issue the `open` command.")
		return nil
	}
	if env.PR.State() == models.PullRequestOpen {
		reply.WriteString("This pull request is already open.")
		return nil
	}
	if err := env.PR.SetState(ctx, models.PullRequestOpen); err != nil {
		return err
	}
	reply.WriteString("This pull request is now open.")
	return nil
}
