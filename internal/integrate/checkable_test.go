package integrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/forge/forgetest"
	"github.com/mergebot/internal/marker"
	"github.com/mergebot/pkg/models"
)

type commitTreeCall struct {
	message   string
	author    models.Author
	committer models.Author
	parents   []models.Hash
	tree      models.Hash
}

type pushCall struct {
	hash   models.Hash
	remote string
	ref    string
}

// fakeGit is a scripted GitRepo: merge bases, commit ranges, fetches
// and ancestry are seeded per test. Synthesized commits register their
// own metadata so Lookup works on them.
type fakeGit struct {
	mergeBases map[string]models.Hash
	ranges     map[string][]models.CommitMetadata
	ancestors  map[string]bool
	trees      map[models.Hash]models.Hash
	commits    map[models.Hash]models.CommitMetadata
	fetches    map[string]models.Hash
	mergeErr   error
	// commitTreeResult forces the hash CommitTree returns.
	commitTreeResult models.Hash

	checkouts   []models.Hash
	treeCalls   []commitTreeCall
	pushes      []pushCall
	amendedWith string
	nextID      int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		mergeBases: make(map[string]models.Hash),
		ranges:     make(map[string][]models.CommitMetadata),
		ancestors:  make(map[string]bool),
		trees:      make(map[models.Hash]models.Hash),
		commits:    make(map[models.Hash]models.CommitMetadata),
		fetches:    make(map[string]models.Hash),
	}
}

func pairKey(a, b models.Hash) string { return a.Hex() + "|" + b.Hex() }

func (g *fakeGit) synthetic() models.Hash {
	g.nextID++
	return models.Hash(fmt.Sprintf("%040d", g.nextID))
}

func (g *fakeGit) Fetch(_ context.Context, _, ref string) (models.Hash, error) {
	if hash, ok := g.fetches[ref]; ok {
		return hash, nil
	}
	return "", fmt.Errorf("no fetch scripted for %s", ref)
}

func (g *fakeGit) Checkout(_ context.Context, hash models.Hash) error {
	g.checkouts = append(g.checkouts, hash)
	return nil
}

func (g *fakeGit) Merge(_ context.Context, _ models.Hash) error {
	return g.mergeErr
}

func (g *fakeGit) Commit(_ context.Context, message, name, email string) (models.Hash, error) {
	hash := g.synthetic()
	identity := models.Author{Name: name, Email: email}
	g.commits[hash] = models.CommitMetadata{
		Hash: hash, Author: identity, Committer: identity,
		Message: strings.Split(message, "\n"),
	}
	return hash, nil
}

func (g *fakeGit) CommitTree(_ context.Context, message string, author, committer models.Author,
	parents []models.Hash, tree models.Hash) (models.Hash, error) {
	g.treeCalls = append(g.treeCalls, commitTreeCall{
		message: message, author: author, committer: committer, parents: parents, tree: tree,
	})
	hash := g.commitTreeResult
	if hash == "" {
		hash = g.synthetic()
	}
	g.commits[hash] = models.CommitMetadata{
		Hash: hash, Parents: parents, Author: author, Committer: committer,
		Message: strings.Split(message, "\n"),
	}
	return hash, nil
}

func (g *fakeGit) Amend(_ context.Context, message string) (models.Hash, error) {
	g.amendedWith = message
	return g.synthetic(), nil
}

func (g *fakeGit) Tree(_ context.Context, hash models.Hash) (models.Hash, error) {
	if tree, ok := g.trees[hash]; ok {
		return tree, nil
	}
	return "", fmt.Errorf("no tree for %s", hash)
}

func (g *fakeGit) MergeBase(_ context.Context, a, b models.Hash) (models.Hash, error) {
	if base, ok := g.mergeBases[pairKey(a, b)]; ok {
		return base, nil
	}
	return "", fmt.Errorf("no merge base for %s %s", a, b)
}

func (g *fakeGit) IsAncestor(_ context.Context, ancestor, descendant models.Hash) (bool, error) {
	return g.ancestors[pairKey(ancestor, descendant)], nil
}

func (g *fakeGit) CommitMetadata(_ context.Context, from, to models.Hash) ([]models.CommitMetadata, error) {
	return g.ranges[pairKey(from, to)], nil
}

func (g *fakeGit) Lookup(_ context.Context, hash models.Hash) (models.CommitMetadata, error) {
	if commit, ok := g.commits[hash]; ok {
		return commit, nil
	}
	return models.CommitMetadata{}, fmt.Errorf("unknown commit %s", hash)
}

func (g *fakeGit) Push(_ context.Context, hash models.Hash, remote, ref string) error {
	g.pushes = append(g.pushes, pushCall{hash: hash, remote: remote, ref: ref})
	return nil
}

var (
	checkBot       = models.HostUser{ID: "1", Username: "mergebot"}
	checkAuthor    = models.HostUser{ID: "2", Username: "jdoe", FullName: "Jane Doe"}
	checkCommitter = models.HostUser{ID: "3", Username: "asmith", FullName: "Alice Smith"}
)

func checkCensus() census.Instance {
	return census.New("project.example.com",
		[]census.Contributor{
			{Username: "jdoe", FullName: "Jane Doe", ForgeID: "2"},
			{Username: "asmith", FullName: "Alice Smith", ForgeID: "3"},
		},
		[]string{"jdoe"},
		[]string{"asmith"},
		[]string{"asmith"})
}

func checkHash(b byte) models.Hash {
	return models.Hash(strings.Repeat(string([]byte{b}), 40))
}

func newCheckableFixture(t *testing.T, title string, author models.HostUser) (*forgetest.PullRequest, *fakeGit) {
	t.Helper()
	f := forgetest.NewForge(checkBot)
	repo := f.AddRepository("project/repo", "file:///tmp/repo", map[string]models.Hash{
		"master": checkHash('a'),
	})
	pr := repo.AddPullRequest("1", title, "", author, checkHash('b'), "master")
	return pr, newFakeGit()
}

func TestMergeTargetFastPathWhenTargetUnchanged(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head := checkHash('a'), checkHash('b')
	git.mergeBases[pairKey(target, head)] = target

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	var reply strings.Builder
	merged, ok, err := c.MergeTarget(context.Background(), &reply)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, head, merged)
	require.Empty(t, reply.String())
}

func TestMergeTargetConflictAsksForManualRebase(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head, base := checkHash('a'), checkHash('b'), checkHash('0')
	git.mergeBases[pairKey(target, head)] = base
	git.ranges[pairKey(base, target)] = []models.CommitMetadata{
		{Hash: checkHash('c'), Message: []string{"Another change"}},
	}
	git.mergeErr = errors.New("CONFLICT (content)")

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	var reply strings.Builder
	_, ok, err := c.MergeTarget(context.Background(), &reply)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reply.String(), "1 commit pushed to the `master` branch")
	require.Contains(t, reply.String(), "not possible to rebase your changes automatically")
}

func TestMergeTargetAutoMergesCleanly(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head, base := checkHash('a'), checkHash('b'), checkHash('0')
	git.mergeBases[pairKey(target, head)] = base
	git.ranges[pairKey(base, target)] = []models.CommitMetadata{
		{Hash: checkHash('c'), Message: []string{"Another change"}},
	}

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	var reply strings.Builder
	merged, ok, err := c.MergeTarget(context.Background(), &reply)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, head, merged)
	require.Contains(t, reply.String(), "automatically rebased without conflicts")
	// The merge happens on a checkout of the PR head.
	require.Equal(t, []models.Hash{head}, git.checkouts)
}

func TestCommitSquashedParentsOnTarget(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head := checkHash('a'), checkHash('b')
	tree := checkHash('7')
	git.trees[head] = tree

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	commit, err := c.Commit(context.Background(), head, checkCensus(), "")
	require.NoError(t, err)
	require.NotEmpty(t, commit)

	require.Len(t, git.treeCalls, 1)
	call := git.treeCalls[0]
	require.Equal(t, []models.Hash{target}, call.parents)
	require.Equal(t, tree, call.tree)
	require.True(t, strings.HasPrefix(call.message, "8000001: Fix the frobnicator"))
	// Census-resolved author identity.
	require.Equal(t, models.Author{Name: "Jane Doe", Email: "jdoe@project.example.com"}, call.author)
	require.Equal(t, call.author, call.committer)
	// The synthesized commit ends up checked out.
	require.Equal(t, []models.Hash{commit}, git.checkouts)
}

func TestCommitSponsorBecomesCommitter(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head := checkHash('a'), checkHash('b')
	git.trees[head] = checkHash('7')

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	_, err := c.Commit(context.Background(), head, checkCensus(), "3")
	require.NoError(t, err)

	require.Len(t, git.treeCalls, 1)
	call := git.treeCalls[0]
	require.Equal(t, models.Author{Name: "Jane Doe", Email: "jdoe@project.example.com"}, call.author)
	require.Equal(t, models.Author{Name: "Alice Smith", Email: "asmith@project.example.com"}, call.committer)
}

func TestCommitRejectsUnresolvableSponsor(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, checkHash('a'), true)

	_, err := c.Commit(context.Background(), checkHash('b'), checkCensus(), "999")
	var failure *CommitFailure
	require.True(t, errors.As(err, &failure))
	require.Contains(t, failure.Reason, "sponsor could not be resolved")
}

func TestCommitMergeRequiresQualifyingMergeCommit(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "Merge jdk:master", checkCommitter)
	target, head, base := checkHash('a'), checkHash('b'), checkHash('0')
	git.mergeBases[pairKey(target, head)] = base
	// Only linear commits in the range.
	git.ranges[pairKey(base, head)] = []models.CommitMetadata{
		{Hash: checkHash('c'), Parents: []models.Hash{base}, Message: []string{"A change"}},
		{Hash: head, Parents: []models.Hash{checkHash('c')}, Message: []string{"Head"}},
	}

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	_, err := c.Commit(context.Background(), head, checkCensus(), "")
	var failure *CommitFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "No qualifying merge commit could be found in this pull request.", failure.Reason)
}

func TestCommitMergeReplacesTargetParent(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "Merge jdk:master", checkCommitter)
	target, head, base := checkHash('a'), checkHash('b'), checkHash('0')
	onTarget, incoming := checkHash('d'), checkHash('e')
	mergeHash := checkHash('f')
	git.mergeBases[pairKey(target, head)] = base
	git.ranges[pairKey(base, head)] = []models.CommitMetadata{
		{Hash: mergeHash, Parents: []models.Hash{incoming, onTarget}, Message: []string{"Merge branch"}},
		{Hash: head, Parents: []models.Hash{mergeHash}, Message: []string{"Head"}},
	}
	git.ancestors[pairKey(onTarget, base)] = true
	git.ancestors[pairKey(onTarget, target)] = true
	git.trees[head] = checkHash('7')

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	_, err := c.Commit(context.Background(), head, checkCensus(), "")
	require.NoError(t, err)

	require.Len(t, git.treeCalls, 1)
	// The target-chaining parent is replaced by the merge base in its
	// original slot; the incoming parent keeps position.
	require.Equal(t, []models.Hash{incoming, base}, git.treeCalls[0].parents)
}

func TestCommitMergeRejectsUnknownAuthor(t *testing.T) {
	t.Parallel()

	f := forgetest.NewForge(checkBot)
	repo := f.AddRepository("project/repo", "file:///tmp/repo", map[string]models.Hash{
		"master": checkHash('a'),
	})
	outsider := models.HostUser{ID: "99", Username: "rando"}
	pr := repo.AddPullRequest("1", "Merge jdk:master", "", outsider, checkHash('b'), "master")
	git := newFakeGit()

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, checkHash('a'), true)
	_, err := c.Commit(context.Background(), checkHash('b'), checkCensus(), "")
	var failure *CommitFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "Merge pull requests can only be created by known contributors.", failure.Reason)
}

func TestCommitMessageCountsOnlyFreshApprovals(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target, head := checkHash('a'), checkHash('b')
	git.trees[head] = checkHash('7')
	base := time.Unix(1700000000, 0)
	reviews := []models.Review{
		{Reviewer: models.HostUser{ID: "3", Username: "asmith"}, Verdict: models.VerdictApproved,
			Hash: head, CreatedAt: base},
		{Reviewer: models.HostUser{ID: "4", Username: "stale"}, Verdict: models.VerdictApproved,
			Hash: checkHash('9'), CreatedAt: base.Add(time.Second)},
	}

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, reviews, target, true)
	_, err := c.Commit(context.Background(), head, checkCensus(), "")
	require.NoError(t, err)

	require.Len(t, git.treeCalls, 1)
	message := git.treeCalls[0].message
	require.Contains(t, message, "Reviewed-by: asmith")
	require.NotContains(t, message, "stale")
}

func TestAmendManualReviewersOnlyWhenMessageChanges(t *testing.T) {
	t.Parallel()

	pr, git := newCheckableFixture(t, "8000001: Fix the frobnicator", checkAuthor)
	target := checkHash('a')
	commit := checkHash('5')

	c := NewCheckable(pr, git, checkBot, "bot@example.com", nil, nil, target, true)
	unchanged, err := c.AmendManualReviewers(context.Background(), commit, checkCensus())
	require.NoError(t, err)
	require.Equal(t, commit, unchanged)
	require.Empty(t, git.amendedWith)

	// A manually credited reviewer changes the rendering.
	comments := []models.Comment{{
		ID: "m", Author: checkBot,
		Body:      marker.AddReviewer("asmith"),
		CreatedAt: time.Unix(1700000000, 0),
	}}
	c = NewCheckable(pr, git, checkBot, "bot@example.com", comments, nil, target, true)
	amended, err := c.AmendManualReviewers(context.Background(), commit, checkCensus())
	require.NoError(t, err)
	require.NotEqual(t, commit, amended)
	require.Contains(t, git.amendedWith, "Reviewed-by: asmith")
}
