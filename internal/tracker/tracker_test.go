package tracker

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mergebot/internal/marker"
	"github.com/mergebot/pkg/models"
)

var (
	botUser   = models.HostUser{ID: "1", Username: "mergebot"}
	otherUser = models.HostUser{ID: "2", Username: "jdoe"}
)

// stream builds bot comments with strictly increasing timestamps.
func stream(bodies ...string) []models.Comment {
	base := time.Unix(1700000000, 0)
	comments := make([]models.Comment, len(bodies))
	for i, body := range bodies {
		comments[i] = models.Comment{
			ID:        string(rune('a' + i)),
			Author:    botUser,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return comments
}

func TestContributorsAddRemoveReAdd(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.AddContributor("a@x.com"),
		marker.AddContributor("b@x.com"),
		marker.RemoveContributor("a@x.com"),
		marker.AddContributor("a@x.com"),
	)
	got := Contributors(botUser, comments)
	// Removal drops the slot; re-adding appends at the end.
	require.Equal(t, []string{"b@x.com", "a@x.com"}, got)
}

func TestContributorsIdempotentAdd(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.AddContributor("a@x.com"),
		marker.AddContributor("a@x.com"),
	)
	require.Equal(t, []string{"a@x.com"}, Contributors(botUser, comments))
}

func TestNonBotCommentsNeverContribute(t *testing.T) {
	t.Parallel()

	comments := []models.Comment{{
		ID:        "x",
		Author:    otherUser,
		Body:      marker.AddContributor("a@x.com"),
		CreatedAt: time.Unix(1700000000, 0),
	}}
	require.Empty(t, Contributors(botUser, comments))
}

func TestReplayOrderFollowsCreationTimeNotSliceOrder(t *testing.T) {
	t.Parallel()

	later := models.Comment{ID: "b", Author: botUser,
		Body: marker.RemoveLabel("foo"), CreatedAt: time.Unix(1700000100, 0)}
	earlier := models.Comment{ID: "a", Author: botUser,
		Body: marker.AddLabel("foo"), CreatedAt: time.Unix(1700000000, 0)}

	// Slice order is reversed; creation time must win.
	require.Empty(t, Labels(botUser, []models.Comment{later, earlier}))
}

func TestSolvedIssuesUpdateInPlace(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.SetSolves(models.Issue{ID: "100", Description: "First"}),
		marker.SetSolves(models.Issue{ID: "200", Description: "Second"}),
		marker.SetSolves(models.Issue{ID: "100", Description: "First, revised"}),
	)
	got := SolvedIssues(botUser, comments)
	want := []models.Issue{
		{ID: "100", Description: "First, revised"},
		{ID: "200", Description: "Second"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("solved issues mismatch (-want +got):\n%s", diff)
	}
}

func TestSolvedIssuesRemoval(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.SetSolves(models.Issue{ID: "100", Description: "First"}),
		marker.RemoveSolves(models.Issue{ID: "100"}),
	)
	require.Empty(t, SolvedIssues(botUser, comments))
}

func TestVetoClearedByApproval(t *testing.T) {
	t.Parallel()

	comments := stream(marker.Veto("jdoe"), marker.Veto("asmith"), marker.Approval("jdoe"))
	require.Equal(t, []string{"asmith"}, Vetoes(botUser, comments))
}

func TestIntegrationRequestedLastWriteWins(t *testing.T) {
	t.Parallel()

	first := models.Hash(strings.Repeat("aa", 20))
	second := models.Hash(strings.Repeat("bb", 20))
	comments := stream(
		marker.SetIntegrationRequested(first),
		marker.SetIntegrationRequested(second),
	)
	got, ok := IntegrationRequested(botUser, comments)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestSummaryBlankClears(t *testing.T) {
	t.Parallel()

	comments := stream(marker.SetSummary("some text"), marker.ClearSummary())
	_, ok := Summary(botUser, comments)
	require.False(t, ok)

	comments = stream(marker.ClearSummary(), marker.SetSummary("kept"))
	text, ok := Summary(botUser, comments)
	require.True(t, ok)
	require.Equal(t, "kept", text)
}

func TestAuthorOverrideReplay(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.SetAuthor("Jane Doe <jane@example.com>"),
		marker.ClearAuthor(),
		marker.SetAuthor("John Roe <john@example.com>"),
	)
	author, ok := AuthorOverride(botUser, comments)
	require.True(t, ok)
	require.Equal(t, models.Author{Name: "John Roe", Email: "john@example.com"}, author)
}

func TestAdditionalRequiredReviewersLastWriteWins(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.SetRequiredReviewers(1, "reviewers"),
		marker.SetRequiredReviewers(3, "committers"),
	)
	got, ok := AdditionalRequiredReviewers(botUser, comments)
	require.True(t, ok)
	require.Equal(t, RequiredReviewers{Count: 3, Role: "committers"}, got)
}

func TestReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	comments := stream(
		marker.AddContributor("a@x.com"),
		marker.Veto("jdoe"),
		marker.SetSummary("text"),
	)
	for i := 0; i < 3; i++ {
		require.Equal(t, []string{"a@x.com"}, Contributors(botUser, comments))
		require.Equal(t, []string{"jdoe"}, Vetoes(botUser, comments))
		text, ok := Summary(botUser, comments)
		require.True(t, ok)
		require.Equal(t, "text", text)
	}
}

func TestActiveReviewsKeepLatestPerReviewer(t *testing.T) {
	t.Parallel()

	rev1 := models.HostUser{ID: "10", Username: "rev1"}
	rev2 := models.HostUser{ID: "11", Username: "rev2"}
	base := time.Unix(1700000000, 0)
	hash := models.Hash(strings.Repeat("cc", 20))
	reviews := []models.Review{
		{Reviewer: rev1, Verdict: models.VerdictChangesRequested, Hash: hash, CreatedAt: base},
		{Reviewer: rev2, Verdict: models.VerdictApproved, Hash: hash, CreatedAt: base.Add(time.Second)},
		{Reviewer: rev1, Verdict: models.VerdictApproved, Hash: hash, CreatedAt: base.Add(2 * time.Second)},
	}
	active := ActiveReviews(reviews)
	require.Len(t, active, 2)
	// First-seen reviewer order is preserved.
	require.Equal(t, rev1.ID, active[0].Reviewer.ID)
	require.Equal(t, models.VerdictApproved, active[0].Verdict)
	require.Equal(t, rev2.ID, active[1].Reviewer.ID)
}

func TestProcessedCommandsSet(t *testing.T) {
	t.Parallel()

	comments := stream(marker.CommandProcessed("a-0"), marker.CommandProcessed("b-0"))
	processed := ProcessedCommands(botUser, comments)
	require.True(t, processed["a-0"])
	require.True(t, processed["b-0"])
	require.False(t, processed["c-0"])
}
