package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// ContributorHandler edits the co-author set via markers.
type ContributorHandler struct{}

func (h *ContributorHandler) Name() string { return "contributor" }
func (h *ContributorHandler) Description() string {
	return "adds or removes additional contributors for a PR"
}
func (h *ContributorHandler) AllowedInBody() bool { return true }

func (h *ContributorHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !isPRAuthor(env, inv.User) {
		reply.WriteString("Only the author of this pull request is allowed to issue the `contributor` command.")
		return nil
	}
	action, rest, _ := strings.Cut(inv.Args, " ")
	author, parsed := models.AuthorFromString(rest)
	if (action != "add" && action != "remove") || !parsed {
		reply.WriteString("Syntax: `/contributor (add|remove) [@user | openjdk-user | Full Name <email@address>]`")
		return nil
	}
	attribution := author.String()
	switch action {
	case "add":
		reply.WriteString(marker.AddContributor(attribution))
		fmt.Fprintf(reply, "\nContributor `%s` successfully added.", attribution)
	case "remove":
		existing := tracker.Contributors(env.Bot, env.Comments)
		found := false
		for _, c := range existing {
			if c == attribution {
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(reply, "Could not find contributor `%s` in the list of contributors.", attribution)
			return nil
		}
		reply.WriteString(marker.RemoveContributor(attribution))
		fmt.Fprintf(reply, "\nContributor `%s` successfully removed.", attribution)
	}
	return nil
}

// ReviewerHandler credits or removes manually-specified reviewers.
type ReviewerHandler struct{}

func (h *ReviewerHandler) Name() string { return "reviewer" }
func (h *ReviewerHandler) Description() string {
	return "manages additional reviewers for a PR"
}
func (h *ReviewerHandler) AllowedInBody() bool { return true }

func (h *ReviewerHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !env.Census.IsCommitter(inv.User) {
		reply.WriteString("Only project committers are allowed to issue the `reviewer` command.")
		return nil
	}
	action, rest, _ := strings.Cut(inv.Args, " ")
	usernames := strings.Fields(rest)
	if (action != "credit" && action != "remove") || len(usernames) == 0 {
		reply.WriteString("Syntax: `/reviewer (credit|remove) [@user | openjdk-user]+`")
		return nil
	}
	credited := tracker.Reviewers(env.Bot, env.Comments)
	for _, raw := range usernames {
		username := strings.TrimPrefix(raw, "@")
		contributor, known := env.Census.ResolveUsername(username)
		if !known {
			fmt.Fprintf(reply, "Could not parse `%s` as a valid reviewer.\n", raw)
			continue
		}
		switch action {
		case "credit":
			reply.WriteString(marker.AddReviewer(contributor.Username))
			fmt.Fprintf(reply, "\nReviewer `%s` successfully credited.\n", contributor.Username)
		case "remove":
			found := false
			for _, r := range credited {
				if r == contributor.Username {
					found = true
					break
				}
			}
			if !found {
				fmt.Fprintf(reply, "Reviewer `%s` has not been credited on this PR.\n", contributor.Username)
				continue
			}
			reply.WriteString(marker.RemoveReviewer(contributor.Username))
			fmt.Fprintf(reply, "\nReviewer `%s` successfully removed.\n", contributor.Username)
		}
	}
	return nil
}

var reviewerRoles = map[string]bool{
	"lead": true, "reviewers": true, "committers": true,
	"authors": true, "contributors": true,
}

// ReviewersHandler sets the additional required reviewer count.
type ReviewersHandler struct{}

func (h *ReviewersHandler) Name() string { return "reviewers" }
func (h *ReviewersHandler) Description() string {
	return "sets the number of additional required reviewers for a PR"
}
func (h *ReviewersHandler) AllowedInBody() bool { return true }

func (h *ReviewersHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !env.Census.IsCommitter(inv.User) {
		reply.WriteString("Only project committers are allowed to issue the `reviewers` command.")
		return nil
	}
	countArg, role, _ := strings.Cut(inv.Args, " ")
	role = strings.TrimSpace(role)
	if role == "" {
		role = "reviewers"
	}
	var count int
	if _, err := fmt.Sscanf(countArg, "%d", &count); err != nil || count < 1 || count > 10 {
		reply.WriteString("The number of required reviewers must be between 1 and 10.")
		return nil
	}
	if !reviewerRoles[role] {
		fmt.Fprintf(reply, "Unknown role `%s` specified.", role)
		return nil
	}
	reply.WriteString(marker.SetRequiredReviewers(count, role))
	fmt.Fprintf(reply, "\nThe number of required reviews for this PR is now set to %d (with at least 1 of role %s).", count, role)
	return nil
}

// AuthorHandler overrides the commit author for the final commit.
type AuthorHandler struct{}

func (h *AuthorHandler) Name() string { return "author" }
func (h *AuthorHandler) Description() string {
	return "sets an overriding author to be used in the commit when the PR is integrated"
}
func (h *AuthorHandler) AllowedInBody() bool { return true }

func (h *AuthorHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !isPRAuthor(env, inv.User) {
		reply.WriteString("Only the author of this pull request is allowed to issue the `author` command.")
		return nil
	}
	action, rest, _ := strings.Cut(inv.Args, " ")
	switch action {
	case "set":
		author, parsed := models.AuthorFromString(rest)
		if !parsed {
			reply.WriteString("Syntax: `/author set [@user | openjdk-user | Full Name <email@address>]`")
			return nil
		}
		reply.WriteString(marker.SetAuthor(author.String()))
		fmt.Fprintf(reply, "\nSetting overriding author to `%s`. When this pull request is integrated, the overriding author will be used in the commit.", author.String())
	case "remove":
		if _, ok := tracker.AuthorOverride(env.Bot, env.Comments); !ok {
			reply.WriteString("There is no overriding author set for this pull request.")
			return nil
		}
		reply.WriteString(marker.ClearAuthor())
		reply.WriteString("\nOverriding author was successfully removed. When this pull request is integrated, the author will be determined in the usual way.")
	default:
		reply.WriteString("Syntax: `/author (set|remove) [@user | openjdk-user | Full Name <email@address>]`")
	}
	return nil
}
