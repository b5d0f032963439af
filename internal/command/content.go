package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// SummaryHandler sets or clears the commit message summary. The
// summary text is everything following the command line.
type SummaryHandler struct{}

func (h *SummaryHandler) Name() string { return "summary" }
func (h *SummaryHandler) Description() string {
	return "updates the summary in the commit message"
}
func (h *SummaryHandler) AllowedInBody() bool { return true }

func (h *SummaryHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !isPRAuthor(env, inv.User) {
		reply.WriteString("Only the author of this pull request is allowed to issue the `summary` command.")
		return nil
	}
	lines := inv.Body
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		if _, ok := tracker.Summary(env.Bot, env.Comments); !ok {
			reply.WriteString("There is no summary set for this pull request.")
			return nil
		}
		reply.WriteString(marker.ClearSummary())
		reply.WriteString("\nRemoving existing summary.")
		return nil
	}
	summary := strings.Join(lines, "\n")
	reply.WriteString(marker.SetSummary(summary))
	reply.WriteString("\nSetting summary to:\n\n```\n" + summary + "\n```")
	return nil
}

// IssueHandler edits the set of solved issues. An id matching the
// primary issue in the title updates the title instead of the set.
type IssueHandler struct {
	name string
}

func (h *IssueHandler) Name() string { return h.name }
func (h *IssueHandler) Description() string {
	return "edits the list of issues that this PR solves"
}
func (h *IssueHandler) AllowedInBody() bool { return true }

func (h *IssueHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !isPRAuthor(env, inv.User) {
		fmt.Fprintf(reply, "Only the author of this pull request is allowed to issue the `%s` command.", h.name)
		return nil
	}
	action, rest, _ := strings.Cut(inv.Args, " ")
	switch action {
	case "add", "remove":
	default:
		// Shorthand: a bare issue reference means add.
		action, rest = "add", inv.Args
	}
	issue, parsed := models.IssueFromString(rest)
	if !parsed {
		fmt.Fprintf(reply, "Syntax: `/%s (add|remove) <id>[: <description>]`", h.name)
		return nil
	}

	titleIssue, hasTitleIssue := models.IssueFromString(env.PR.Title())
	if hasTitleIssue && issue.ID == titleIssue.ID {
		if action == "remove" {
			reply.WriteString("The primary solved issue cannot be removed. To change the primary issue, update the title of this pull request.")
			return nil
		}
		if issue.Description != "" && issue.Description != titleIssue.Description {
			if err := env.PR.SetTitle(ctx, issue.ID+": "+issue.Description); err != nil {
				return fmt.Errorf("failed to update title: %w", err)
			}
		}
		reply.WriteString("This issue is referenced in the PR title - it will now be updated.")
		return nil
	}

	switch action {
	case "add":
		reply.WriteString(marker.SetSolves(issue))
		fmt.Fprintf(reply, "\nAdding additional issue to solves list: `%s`.", issue.ID)
	case "remove":
		found := false
		for _, solved := range tracker.SolvedIssues(env.Bot, env.Comments) {
			if solved.ID == issue.ID {
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(reply, "Could not find issue `%s` in the list of additional solved issues.", issue.ID)
			return nil
		}
		reply.WriteString(marker.RemoveSolves(issue))
		fmt.Fprintf(reply, "\nRemoving additional issue from solves list: `%s`.", issue.ID)
	}
	return nil
}

// LabelHandler applies or removes forge labels, recording each change
// with a marker so replay sees bot-applied labels.
type LabelHandler struct{}

func (h *LabelHandler) Name() string { return "label" }
func (h *LabelHandler) Description() string {
	return "adds or removes labels on a PR"
}
func (h *LabelHandler) AllowedInBody() bool { return true }

func (h *LabelHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	if !env.Census.IsCommitter(inv.User) {
		reply.WriteString("Only project committers are allowed to issue the `label` command.")
		return nil
	}
	action, rest, _ := strings.Cut(inv.Args, " ")
	names := strings.Fields(rest)
	if (action != "add" && action != "remove") || len(names) == 0 {
		reply.WriteString("Syntax: `/label (add|remove) <name>+`")
		return nil
	}
	applied := tracker.Labels(env.Bot, env.Comments)
	for _, name := range names {
		switch action {
		case "add":
			if err := env.PR.AddLabel(ctx, name); err != nil {
				return fmt.Errorf("failed to add label %s: %w", name, err)
			}
			reply.WriteString(marker.AddLabel(name))
			fmt.Fprintf(reply, "\nThe `%s` label was successfully added.\n", name)
		case "remove":
			found := false
			for _, l := range applied {
				if l == name {
					found = true
					break
				}
			}
			if !found {
				fmt.Fprintf(reply, "The `%s` label was not set.\n", name)
				continue
			}
			if err := env.PR.RemoveLabel(ctx, name); err != nil {
				return fmt.Errorf("failed to remove label %s: %w", name, err)
			}
			reply.WriteString(marker.RemoveLabel(name))
			fmt.Fprintf(reply, "\nThe `%s` label was successfully removed.\n", name)
		}
	}
	return nil
}
