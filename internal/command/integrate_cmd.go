package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/internal/integrate"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// hasLabel checks the forge-side labels of the pull request.
func hasLabel(ctx context.Context, env *Env, name string) (bool, error) {
	labels, err := env.PR.LabelNames(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list labels: %w", err)
	}
	for _, label := range labels {
		if label == name {
			return true, nil
		}
	}
	return false, nil
}

// activeVetoes formats the veto refusal, or returns false when no veto
// is in place.
func activeVetoes(env *Env, reply *strings.Builder) bool {
	vetoes := tracker.Vetoes(env.Bot, env.Comments)
	if len(vetoes) == 0 {
		return false
	}
	reply.WriteString("The change you are attempting to integrate has been vetoed and cannot be integrated until the veto has been withdrawn (`/allow`).\n")
	return true
}

// IntegrateHandler runs the integration pipeline, or manages the
// auto/delegated integration labels.
type IntegrateHandler struct{}

func (h *IntegrateHandler) Name() string { return "integrate" }
func (h *IntegrateHandler) Description() string {
	return "performs integration of the changes in the PR"
}
func (h *IntegrateHandler) AllowedInBody() bool { return true }

func (h *IntegrateHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	delegated, err := hasLabel(ctx, env, "delegated")
	if err != nil {
		return err
	}
	author := isPRAuthor(env, inv.User)
	if !author && !(delegated && env.Census.IsCommitter(inv.User)) {
		reply.WriteString("Only the author of this pull request is allowed to issue the `integrate` command.")
		return nil
	}

	switch inv.Args {
	case "auto":
		if !author {
			reply.WriteString("Only the author of this pull request may select automatic integration.")
			return nil
		}
		if err := env.PR.AddLabel(ctx, "auto"); err != nil {
			return err
		}
		reply.WriteString("This pull request will be automatically integrated when it is ready.")
		return nil
	case "manual":
		if err := env.PR.RemoveLabel(ctx, "auto"); err != nil {
			return err
		}
		reply.WriteString("This pull request will have to be integrated manually using the `/integrate` command.")
		return nil
	case "delegate":
		if !author {
			reply.WriteString("Only the author of this pull request may delegate integration.")
			return nil
		}
		if err := env.PR.AddLabel(ctx, "delegated"); err != nil {
			return err
		}
		reply.WriteString("Integration of this pull request has been delegated and may be completed by any project committer using the `/integrate` command.")
		return nil
	case "undelegate":
		if !author {
			reply.WriteString("Only the author of this pull request may undelegate integration.")
			return nil
		}
		if err := env.PR.RemoveLabel(ctx, "delegated"); err != nil {
			return err
		}
		reply.WriteString("Integration of this pull request is no longer delegated and may only be completed by the author using the `/integrate` command.")
		return nil
	}

	var targetHash models.Hash
	if inv.Args != "" {
		targetHash = models.Hash(strings.ToLower(inv.Args))
		if !targetHash.IsValid() {
			fmt.Fprintf(reply, "The given argument `%s` is not a valid target hash.", inv.Args)
			return nil
		}
	}

	ready, err := hasLabel(ctx, env, "ready")
	if err != nil {
		return err
	}
	if !ready {
		reply.WriteString("This pull request has not yet been marked as ready for integration.")
		return nil
	}
	if activeVetoes(env, reply) {
		return nil
	}

	return env.Integrator.Run(ctx, integrate.Request{
		PR:            env.PR,
		Comments:      env.Comments,
		TargetHashArg: targetHash,
		Reply:         reply,
	})
}

// SponsorHandler pushes a change whose non-committer author has already
// readied it for sponsorship.
type SponsorHandler struct{}

func (h *SponsorHandler) Name() string { return "sponsor" }
func (h *SponsorHandler) Description() string {
	return "performs integration of a PR that is authored by a non-committer"
}
func (h *SponsorHandler) AllowedInBody() bool { return false }

func (h *SponsorHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !env.Census.IsCommitter(inv.User) {
		reply.WriteString("Only project committers may sponsor integrations.")
		return nil
	}
	if env.Census.IsCommitter(env.PR.Author()) {
		reply.WriteString("This change does not need sponsoring - the author is allowed to integrate it.")
		return nil
	}

	requested, ok := tracker.IntegrationRequested(env.Bot, env.Comments)
	if !ok {
		reply.WriteString("The change author (@" + env.PR.Author().Username + ") must issue an `integrate` command before the integration can be sponsored.")
		return nil
	}
	if requested != env.PR.HeadHash() {
		fmt.Fprintf(reply, "The PR has been updated since the change author (@%s) issued the `integrate` command - the author must perform this command again.", env.PR.Author().Username)
		return nil
	}

	var targetHash models.Hash
	if inv.Args != "" {
		targetHash = models.Hash(strings.ToLower(strings.TrimSpace(inv.Args)))
		if !targetHash.IsValid() {
			fmt.Fprintf(reply, "The given argument `%s` is not a valid target hash.", inv.Args)
			return nil
		}
	}

	if activeVetoes(env, reply) {
		return nil
	}

	return env.Integrator.Run(ctx, integrate.Request{
		PR:            env.PR,
		Comments:      env.Comments,
		SponsorID:     inv.User.ID,
		TargetHashArg: targetHash,
		Reply:         reply,
	})
}
