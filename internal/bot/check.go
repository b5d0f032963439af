// Package bot schedules and runs the per-pull-request work of the
// service: the check run that tracks review state and readiness, the
// command dispatch round, a polling loop and a webhook receiver.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/forge"
	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// CheckRun evaluates review state for one pull request: it announces
// new reviews (at most once per distinct review), and maintains the
// `rfr` and `ready` labels.
type CheckRun struct {
	Census             census.Instance
	IgnoreStaleReviews bool
	Log                zerolog.Logger
}

func verdictDescription(v models.Verdict) string {
	switch v {
	case models.VerdictApproved:
		return "changes are approved"
	case models.VerdictChangesRequested:
		return "more changes needed"
	default:
		return "a comment has been added"
	}
}

// announceReviews posts a notice for each review not yet announced.
// The notice carries a marker keyed by (reviewer, verdict, hash), so a
// re-posted identical review stays silent.
func (c *CheckRun) announceReviews(ctx context.Context, pr forge.PullRequest, bot models.HostUser,
	comments []models.Comment, reviews []models.Review) error {
	announced := tracker.AnnouncedReviews(bot, comments)
	for _, review := range tracker.ActiveReviews(reviews) {
		if announced[marker.ReviewNoticeKey(review)] {
			continue
		}
		var notice strings.Builder
		notice.WriteString(marker.ReviewNotice(review))
		fmt.Fprintf(&notice, "\nThis PR has been reviewed by @%s - %s.\n",
			review.Reviewer.Username, verdictDescription(review.Verdict))
		if _, err := pr.AddComment(ctx, notice.String()); err != nil {
			return fmt.Errorf("failed to post review notice: %w", err)
		}
	}
	return nil
}

// requiredApprovals is the number of approving census reviewers this
// pull request needs, honoring the override marker.
func (c *CheckRun) requiredApprovals(bot models.HostUser, comments []models.Comment) int {
	required := 1
	if override, ok := tracker.AdditionalRequiredReviewers(bot, comments); ok {
		required += override.Count
	}
	return required
}

func (c *CheckRun) approvals(pr forge.PullRequest, reviews []models.Review) int {
	count := 0
	for _, review := range tracker.ActiveReviews(reviews) {
		if review.Verdict != models.VerdictApproved {
			continue
		}
		if c.IgnoreStaleReviews && review.Hash != pr.HeadHash() {
			continue
		}
		if !c.Census.IsReviewer(review.Reviewer) {
			continue
		}
		count++
	}
	return count
}

// Run performs one check round and reports whether the pull request is
// ready for integration.
func (c *CheckRun) Run(ctx context.Context, pr forge.PullRequest, bot models.HostUser) (bool, error) {
	if pr.State() != models.PullRequestOpen {
		return false, nil
	}
	comments, err := pr.Comments(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch comments: %w", err)
	}
	reviews, err := pr.Reviews(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch reviews: %w", err)
	}

	if err := c.announceReviews(ctx, pr, bot, comments, reviews); err != nil {
		return false, err
	}

	labels, err := pr.LabelNames(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list labels: %w", err)
	}
	has := func(name string) bool {
		for _, l := range labels {
			if l == name {
				return true
			}
		}
		return false
	}

	if !has("rfr") {
		if err := pr.AddLabel(ctx, "rfr"); err != nil {
			return false, fmt.Errorf("failed to add rfr label: %w", err)
		}
	}

	ready := c.approvals(pr, reviews) >= c.requiredApprovals(bot, comments) &&
		len(tracker.Vetoes(bot, comments)) == 0

	switch {
	case ready && !has("ready"):
		if err := pr.AddLabel(ctx, "ready"); err != nil {
			return false, fmt.Errorf("failed to add ready label: %w", err)
		}
	case !ready && has("ready"):
		if err := pr.RemoveLabel(ctx, "ready"); err != nil {
			return false, fmt.Errorf("failed to remove ready label: %w", err)
		}
	}

	// Automatic integration is expressed as a self-command, so it runs
	// through the same dispatch and idempotency path as a manual one.
	if ready && has("auto") {
		if err := c.requestAutoIntegration(ctx, pr, bot, comments); err != nil {
			return false, err
		}
	}

	return ready, nil
}

// requestAutoIntegration posts a bot-authored /integrate, at most once
// per head hash so a failed attempt is not retried until the pull
// request changes.
func (c *CheckRun) requestAutoIntegration(ctx context.Context, pr forge.PullRequest, bot models.HostUser, comments []models.Comment) error {
	if tracker.AutoAttempts(bot, comments)[pr.HeadHash()] {
		return nil
	}
	body := marker.ValidSelfCommand + "\n" + marker.AutoAttempt(pr.HeadHash()) + "\n/integrate\n"
	if _, err := pr.AddComment(ctx, body); err != nil {
		return fmt.Errorf("failed to post auto-integration command: %w", err)
	}
	c.Log.Info().Str("pr", pr.ID()).Msg("requested automatic integration")
	return nil
}
