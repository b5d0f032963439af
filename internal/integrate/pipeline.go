package integrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/forge"
	"github.com/mergebot/internal/jcheck"
	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// Integrator runs the push sequence for one pull request: rebase
// check, commit synthesis, validation, ledger verification, push and
// forge-side cleanup, all under the per-repository integration lock.
type Integrator struct {
	Locks              LockService
	LockTimeout        time.Duration
	Ledger             *Ledger // nil disables ledger verification
	Checker            jcheck.Checker
	Census             census.Instance
	IgnoreStaleReviews bool
	BotEmail           string
	// Materialize produces a local working copy with the PR head and
	// target ref fetched.
	Materialize func(ctx context.Context, pr forge.PullRequest) (GitRepo, error)
	Log         zerolog.Logger
}

// Request is one integration attempt. SponsorID is the forge id of the
// sponsoring committer for sponsored integrations, empty otherwise.
// TargetHashArg, when set, pins the expected target head; integration
// aborts if the branch has moved. User-facing outcomes are written to
// Reply; the returned error covers infrastructure and integrity faults
// only.
type Request struct {
	PR            forge.PullRequest
	Comments      []models.Comment
	SponsorID     string
	TargetHashArg models.Hash
	Reply         *strings.Builder
}

// Run executes one integration attempt end to end.
func (ig *Integrator) Run(ctx context.Context, req Request) error {
	pr := req.PR
	repo := pr.Repository()
	bot := repo.Forge().CurrentUser()

	localRepo, err := ig.Materialize(ctx, pr)
	if err != nil {
		return fmt.Errorf("failed to materialize local repository: %w", err)
	}

	// A pre-push marker whose hash is already on the target branch
	// means a previous attempt pushed and crashed before closing.
	resumed, err := ig.checkPrePush(ctx, localRepo, pr, bot, req.Comments)
	if err != nil {
		return err
	}
	if resumed != "" {
		ig.Log.Info().Str("hash", resumed.Hex()).Msg("resuming interrupted integration")
		return ig.markIntegratedAndClosed(ctx, pr, resumed, req.Reply)
	}

	lock := ig.Locks.Acquire(ctx, repo.Name(), ig.LockTimeout)
	defer lock.Release()
	if !lock.Acquired() {
		ig.Log.Error().Str("repo", repo.Name()).Msg("unable to acquire the integration lock")
		req.Reply.WriteString("Unable to acquire the integration lock; aborting integration. " +
			"The error has been logged and will be investigated.\n")
		return nil
	}

	// Refresh the PR state now that we hold the lock.
	fresh, err := repo.PullRequest(ctx, pr.ID())
	if err != nil {
		return fmt.Errorf("failed to refresh pull request: %w", err)
	}
	pr = fresh
	comments, err := pr.Comments(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch comments: %w", err)
	}
	reviews, err := pr.Reviews(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch reviews: %w", err)
	}

	targetHash, err := localRepo.Fetch(ctx, repo.URL(), pr.TargetRef())
	if err != nil {
		return fmt.Errorf("failed to fetch target branch: %w", err)
	}
	if req.TargetHashArg != "" && req.TargetHashArg != targetHash {
		fmt.Fprintf(req.Reply, "The head of the target branch is no longer at the requested hash %s - it has moved to %s. Aborting integration.\n",
			req.TargetHashArg.Hex(), targetHash.Hex())
		return nil
	}

	if ig.Ledger != nil {
		targetMeta, err := localRepo.Lookup(ctx, targetHash)
		if err != nil {
			return err
		}
		if err := ig.Ledger.Verify(ctx, repo.Name(), pr.TargetRef(), targetMeta); err != nil {
			return err
		}
	}

	checkable := NewCheckable(pr, localRepo, bot, ig.BotEmail, comments, reviews, targetHash, ig.IgnoreStaleReviews)

	var rebaseMessage strings.Builder
	rebased, ok, err := checkable.MergeTarget(ctx, &rebaseMessage)
	if err != nil {
		return err
	}
	if !ok {
		req.Reply.WriteString(rebaseMessage.String())
		return nil
	}

	localHash, err := checkable.Commit(ctx, rebased, ig.Census, req.SponsorID)
	if err != nil {
		var failure *CommitFailure
		if errors.As(err, &failure) {
			req.Reply.WriteString(failure.Reason)
			req.Reply.WriteString("\n")
			return nil
		}
		return err
	}

	localMeta, err := localRepo.Lookup(ctx, localHash)
	if err != nil {
		return err
	}
	issues, err := ig.Checker.Check(ctx, localMeta)
	if err != nil {
		return fmt.Errorf("failed to run validation checks: %w", err)
	}
	if len(issues) > 0 {
		req.Reply.WriteString("Your integration request cannot be fulfilled at this time, as your changes failed the final validation:\n")
		for _, issue := range issues {
			fmt.Fprintf(req.Reply, " * %s\n", issue.Message)
		}
		return nil
	}

	// A non-committer author cannot push; record readiness for a
	// sponsor instead.
	if req.SponsorID == "" && !ig.Census.IsCommitter(pr.Author()) {
		req.Reply.WriteString(marker.SetIntegrationRequested(pr.HeadHash()))
		req.Reply.WriteString("\n")
		fmt.Fprintf(req.Reply, "Your change (at version %s) is now ready to be sponsored by a Committer.\n", pr.HeadHash().Hex())
		if err := pr.AddLabel(ctx, "sponsor"); err != nil {
			return fmt.Errorf("failed to add sponsor label: %w", err)
		}
		return nil
	}

	if localHash == targetHash {
		req.Reply.WriteString("Warning! Your commit did not result in any changes! No push attempt will be made.\n")
		return nil
	}

	amended, err := checkable.AmendManualReviewers(ctx, localHash, ig.Census)
	if err != nil {
		return err
	}

	prePush := marker.PrePush(amended) + "\n" + fmt.Sprintf("Going to push as commit %s.\n", amended.Hex())
	if rebaseMessage.Len() > 0 {
		prePush += rebaseMessage.String()
	}
	if _, err := pr.AddComment(ctx, prePush); err != nil {
		return fmt.Errorf("failed to add pre-push comment: %w", err)
	}

	if err := localRepo.Push(ctx, amended, repo.URL(), pr.TargetRef()); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}

	if ig.Ledger != nil {
		amendedMeta, err := localRepo.Lookup(ctx, amended)
		if err != nil {
			return err
		}
		if err := ig.Ledger.Update(ctx, repo.Name(), pr.TargetRef(), amendedMeta); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
	}

	return ig.markIntegratedAndClosed(ctx, pr, amended, req.Reply)
}

// checkPrePush returns a previously pushed hash when one is already on
// the target branch, meaning only the close was interrupted.
func (ig *Integrator) checkPrePush(ctx context.Context, localRepo GitRepo, pr forge.PullRequest, bot models.HostUser, comments []models.Comment) (models.Hash, error) {
	prePushes := tracker.PrePushHashes(bot, comments)
	if len(prePushes) == 0 {
		return "", nil
	}
	targetHead, err := pr.Repository().BranchHash(ctx, pr.TargetRef())
	if err != nil {
		return "", fmt.Errorf("failed to fetch target head: %w", err)
	}
	for _, hash := range prePushes {
		onTarget, err := localRepo.IsAncestor(ctx, hash, targetHead)
		if err != nil {
			// The hash may be unknown locally when the push never
			// happened; that is not an ancestor.
			continue
		}
		if onTarget {
			return hash, nil
		}
	}
	return "", nil
}

func (ig *Integrator) markIntegratedAndClosed(ctx context.Context, pr forge.PullRequest, hash models.Hash, reply *strings.Builder) error {
	if err := pr.AddLabel(ctx, "integrated"); err != nil {
		return fmt.Errorf("failed to add integrated label: %w", err)
	}
	if err := pr.SetState(ctx, models.PullRequestClosed); err != nil {
		return fmt.Errorf("failed to close pull request: %w", err)
	}
	labels, err := pr.LabelNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}
	for _, label := range labels {
		switch label {
		case "ready", "rfr", "delegated", "sponsor":
			if err := pr.RemoveLabel(ctx, label); err != nil {
				return fmt.Errorf("failed to remove label %s: %w", label, err)
			}
		}
	}
	fmt.Fprintf(reply, "Pushed as commit %s.\n", hash.Hex())
	return nil
}
