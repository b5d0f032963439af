package integrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/commitmsg"
	"github.com/mergebot/internal/forge"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// GitRepo is the narrow local-VCS capability surface the synthesizer
// consumes. *vcs.Repository satisfies it; tests use a fake.
type GitRepo interface {
	Fetch(ctx context.Context, remote, ref string) (models.Hash, error)
	Checkout(ctx context.Context, hash models.Hash) error
	Merge(ctx context.Context, hash models.Hash) error
	Commit(ctx context.Context, message, name, email string) (models.Hash, error)
	CommitTree(ctx context.Context, message string, author, committer models.Author, parents []models.Hash, tree models.Hash) (models.Hash, error)
	Amend(ctx context.Context, message string) (models.Hash, error)
	Tree(ctx context.Context, hash models.Hash) (models.Hash, error)
	MergeBase(ctx context.Context, a, b models.Hash) (models.Hash, error)
	IsAncestor(ctx context.Context, ancestor, descendant models.Hash) (bool, error)
	CommitMetadata(ctx context.Context, from, to models.Hash) ([]models.CommitMetadata, error)
	Lookup(ctx context.Context, hash models.Hash) (models.CommitMetadata, error)
	Push(ctx context.Context, hash models.Hash, remote, ref string) error
}

// IsMergePullRequest reports whether the PR title selects
// merge-preserving mode.
func IsMergePullRequest(title string) bool {
	return strings.HasPrefix(title, "Merge")
}

// CheckablePullRequest binds one pull request to a local working copy
// and a single consistent snapshot of its comments, reviews and target
// head, taken at the start of the run.
type CheckablePullRequest struct {
	pr                 forge.PullRequest
	localRepo          GitRepo
	bot                models.HostUser
	comments           []models.Comment
	reviews            []models.Review
	targetHash         models.Hash
	ignoreStaleReviews bool
	botEmail           string
}

// NewCheckable builds a CheckablePullRequest over pre-fetched state.
// botEmail is the committer email used for automatic merge commits.
func NewCheckable(pr forge.PullRequest, localRepo GitRepo, bot models.HostUser, botEmail string,
	comments []models.Comment, reviews []models.Review, targetHash models.Hash,
	ignoreStaleReviews bool) *CheckablePullRequest {
	return &CheckablePullRequest{
		pr:                 pr,
		localRepo:          localRepo,
		bot:                bot,
		botEmail:           botEmail,
		comments:           comments,
		reviews:            reviews,
		targetHash:         targetHash,
		ignoreStaleReviews: ignoreStaleReviews,
	}
}

// TargetHash is the snapshot of the target branch head.
func (c *CheckablePullRequest) TargetHash() models.Hash {
	return c.targetHash
}

// commitMessage renders the canonical commit message for the current
// tracker snapshot. With manualReviewers set, manually credited
// reviewers not already counted are appended; the two renderings are
// compared to decide whether amending is worthwhile.
func (c *CheckablePullRequest) commitMessage(cs census.Instance, manualReviewers bool) string {
	active := tracker.ActiveReviews(c.reviews)
	var reviewers []string
	for _, review := range active {
		if review.Verdict != models.VerdictApproved {
			continue
		}
		if c.ignoreStaleReviews && review.Hash != c.pr.HeadHash() {
			continue
		}
		reviewers = append(reviewers, c.reviewerName(cs, review.Reviewer))
	}

	var message *commitmsg.Message
	titleIssue, hasTitleIssue := models.IssueFromString(c.pr.Title())
	if hasTitleIssue {
		message = commitmsg.FromIssue(titleIssue)
		message.AddIssues(tracker.SolvedIssues(c.bot, c.comments))
	} else {
		message = commitmsg.Title(c.pr.Title())
	}

	var contributors []models.Author
	for _, attribution := range tracker.Contributors(c.bot, c.comments) {
		if author, ok := models.AuthorFromString(attribution); ok {
			contributors = append(contributors, author)
		}
	}
	message.AddContributors(contributors)
	message.AddReviewers(reviewers)

	if manualReviewers {
		var counted []string
		for _, review := range active {
			counted = append(counted, c.reviewerName(cs, review.Reviewer))
		}
		for _, manual := range tracker.Reviewers(c.bot, c.comments) {
			known := false
			for _, name := range counted {
				if name == manual {
					known = true
					break
				}
			}
			if !known {
				message.AddReviewers([]string{manual})
			}
		}
	}

	if summary, ok := tracker.Summary(c.bot, c.comments); ok {
		message.SetSummary(summary)
	}

	return message.Format()
}

func (c *CheckablePullRequest) reviewerName(cs census.Instance, reviewer models.HostUser) string {
	if contributor, ok := cs.Resolve(reviewer); ok {
		return contributor.Username
	}
	return reviewer.Username
}

// MergeTarget brings the PR head up to date with the target branch.
// With no new target commits the head hash is returned unchanged; new
// commits trigger an automatic merge, and a conflict aborts with a
// message instructing a manual rebase.
func (c *CheckablePullRequest) MergeTarget(ctx context.Context, reply *strings.Builder) (models.Hash, bool, error) {
	head := c.pr.HeadHash()
	base, err := c.localRepo.MergeBase(ctx, c.targetHash, head)
	if err != nil {
		return "", false, err
	}
	diverging, err := c.localRepo.CommitMetadata(ctx, base, c.targetHash)
	if err != nil {
		return "", false, err
	}
	if len(diverging) == 0 {
		return head, true, nil
	}

	if len(diverging) == 1 {
		fmt.Fprintf(reply, "Since your change was applied there has been 1 commit pushed to the `%s` branch:\n\n", c.pr.TargetRef())
	} else {
		fmt.Fprintf(reply, "Since your change was applied there have been %d commits pushed to the `%s` branch:\n\n", len(diverging), c.pr.TargetRef())
	}
	for i, commit := range diverging {
		if i == 10 {
			fmt.Fprintf(reply, " * ... and %d more\n", len(diverging)-10)
			break
		}
		fmt.Fprintf(reply, " * %s: %s\n", commit.Hash.Hex(), commit.Message[0])
	}
	reply.WriteString("\n")

	if err := c.localRepo.Checkout(ctx, head); err != nil {
		return "", false, err
	}
	if err := c.localRepo.Merge(ctx, c.targetHash); err != nil {
		fmt.Fprintf(reply, "It was not possible to rebase your changes automatically. Please merge `%s` into your branch and try again.\n",
			c.pr.TargetRef())
		return "", false, nil
	}
	merged, err := c.localRepo.Commit(ctx, "Automatic merge with latest target", c.bot.Username, c.botEmail)
	if err != nil {
		return "", false, err
	}
	reply.WriteString("Your commit was automatically rebased without conflicts.\n")
	return merged, true, nil
}

// Commit synthesizes the final commit for finalHead. sponsorID, when
// non-empty, is the census-resolvable forge id of the sponsoring
// committer. A *CommitFailure is returned for user-correctable
// reasons.
func (c *CheckablePullRequest) Commit(ctx context.Context, finalHead models.Hash, cs census.Instance, sponsorID string) (models.Hash, error) {
	author, err := c.resolveAuthor(ctx, cs)
	if err != nil {
		return "", err
	}

	committer := author
	if sponsorID != "" {
		sponsor, ok := cs.Resolve(models.HostUser{ID: sponsorID})
		if !ok {
			return "", &CommitFailure{Reason: "The sponsor could not be resolved in the census."}
		}
		committer = models.Author{Name: sponsor.FullName, Email: sponsor.Username + "@" + cs.Domain()}
	}

	message := c.commitMessage(cs, false)

	var commit models.Hash
	if IsMergePullRequest(c.pr.Title()) {
		if !cs.IsCommitter(c.pr.Author()) {
			return "", &CommitFailure{Reason: "Merge pull requests can only be integrated by known committers."}
		}
		commit, err = c.commitMerge(ctx, finalHead, message, author, committer)
	} else {
		commit, err = c.commitSquashed(ctx, finalHead, message, author, committer)
	}
	if err != nil {
		return "", err
	}
	if err := c.localRepo.Checkout(ctx, commit); err != nil {
		return "", err
	}
	return commit, nil
}

// resolveAuthor determines the commit author: an explicit override
// marker wins, then the census record of the PR author, then (for
// squash commits only) the head commit's own author metadata.
func (c *CheckablePullRequest) resolveAuthor(ctx context.Context, cs census.Instance) (models.Author, error) {
	if override, ok := tracker.AuthorOverride(c.bot, c.comments); ok {
		return override, nil
	}

	contributor, known := cs.Resolve(c.pr.Author())
	if known {
		return models.Author{Name: contributor.FullName, Email: contributor.Username + "@" + cs.Domain()}, nil
	}

	if IsMergePullRequest(c.pr.Title()) {
		return models.Author{}, &CommitFailure{Reason: "Merge pull requests can only be created by known contributors."}
	}

	// The head commit has already passed validation; its author
	// metadata is sane.
	head, err := c.localRepo.Lookup(ctx, c.pr.HeadHash())
	if err != nil {
		return models.Author{}, err
	}
	return head.Author, nil
}

func (c *CheckablePullRequest) commitSquashed(ctx context.Context, finalHead models.Hash, message string, author, committer models.Author) (models.Hash, error) {
	tree, err := c.localRepo.Tree(ctx, finalHead)
	if err != nil {
		return "", err
	}
	return c.localRepo.CommitTree(ctx, message, author, committer, []models.Hash{c.targetHash}, tree)
}

// commitMerge synthesizes the merge-preserving commit: the last
// incoming merge in the range gets its target-chaining parent replaced
// in place with the merge-base, keeping all other parents and their
// order.
func (c *CheckablePullRequest) commitMerge(ctx context.Context, finalHead models.Hash, message string, author, committer models.Author) (models.Hash, error) {
	base, err := c.localRepo.MergeBase(ctx, c.targetHash, finalHead)
	if err != nil {
		return "", err
	}
	commits, err := c.localRepo.CommitMetadata(ctx, base, finalHead)
	if err != nil {
		return "", err
	}

	// The very last commit in the range is excluded: its first parent
	// slot is needed for the replaced target link.
	var mergeCommit *models.CommitMetadata
	for i := 0; i < len(commits)-1; i++ {
		if !commits[i].IsMerge() {
			continue
		}
		incoming := false
		for _, parent := range commits[i].Parents {
			reachable, err := c.localRepo.IsAncestor(ctx, parent, base)
			if err != nil {
				return "", err
			}
			if !reachable {
				incoming = true
				break
			}
		}
		if incoming {
			mergeCommit = &commits[i]
		}
	}
	if mergeCommit == nil {
		return "", &CommitFailure{Reason: "No qualifying merge commit could be found in this pull request."}
	}

	// The replaced parent keeps its slot: parent order is visible in
	// history tooling.
	var replaced bool
	var finalParents []models.Hash
	for _, parent := range mergeCommit.Parents {
		onTarget, err := c.localRepo.IsAncestor(ctx, parent, c.targetHash)
		if err != nil {
			return "", err
		}
		if onTarget && !replaced {
			replaced = true
			finalParents = append(finalParents, base)
			continue
		}
		finalParents = append(finalParents, parent)
	}
	if !replaced {
		return "", &CommitFailure{Reason: "The merge commit has no common ancestor with the target branch."}
	}

	tree, err := c.localRepo.Tree(ctx, finalHead)
	if err != nil {
		return "", err
	}
	return c.localRepo.CommitTree(ctx, message, author, committer, finalParents, tree)
}

// AmendManualReviewers rewrites the synthesized commit's message when
// manually credited reviewers would change it; otherwise the commit is
// returned unchanged.
func (c *CheckablePullRequest) AmendManualReviewers(ctx context.Context, commit models.Hash, cs census.Instance) (models.Hash, error) {
	original := c.commitMessage(cs, false)
	amended := c.commitMessage(cs, true)
	if original == amended {
		return commit, nil
	}
	return c.localRepo.Amend(ctx, amended)
}
