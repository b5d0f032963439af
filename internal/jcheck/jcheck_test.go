package jcheck

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mergebot/pkg/models"
)

func validCommit() models.CommitMetadata {
	return models.CommitMetadata{
		Hash:      models.Hash(strings.Repeat("a", 40)),
		Author:    models.Author{Name: "Jane Doe", Email: "jdoe@project.example.com"},
		Committer: models.Author{Name: "Jane Doe", Email: "jdoe@project.example.com"},
		Message:   []string{"8000001: Fix the frobnicator", "", "Reviewed-by: rlee"},
	}
}

func checkNames(issues []Issue) []string {
	var names []string
	for _, issue := range issues {
		names = append(names, issue.Check)
	}
	return names
}

func TestCleanCommitPasses(t *testing.T) {
	t.Parallel()

	issues, err := (&RuleSet{}).Check(context.Background(), validCommit())
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestIncompleteIdentities(t *testing.T) {
	t.Parallel()

	commit := validCommit()
	commit.Author.Email = ""
	commit.Committer = models.Author{}

	issues, err := (&RuleSet{}).Check(context.Background(), commit)
	require.NoError(t, err)
	require.Equal(t, []string{"author", "committer"}, checkNames(issues))
}

func TestEmptyMessage(t *testing.T) {
	t.Parallel()

	commit := validCommit()
	commit.Message = []string{"   "}

	issues, err := (&RuleSet{}).Check(context.Background(), commit)
	require.NoError(t, err)
	require.Equal(t, []string{"message"}, checkNames(issues))
}

func TestTitleLengthBound(t *testing.T) {
	t.Parallel()

	commit := validCommit()
	commit.Message[0] = strings.Repeat("x", 121)
	issues, err := (&RuleSet{}).Check(context.Background(), commit)
	require.NoError(t, err)
	require.Equal(t, []string{"message"}, checkNames(issues))
	require.Contains(t, issues[0].Message, "120 characters")

	// A custom bound overrides the default.
	issues, err = (&RuleSet{MaxTitleLength: 200}).Check(context.Background(), commit)
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestTrailingWhitespaceReportedOnce(t *testing.T) {
	t.Parallel()

	commit := validCommit()
	commit.Message = []string{"8000001: Fix the frobnicator", "", "line one ", "line two\t"}

	issues, err := (&RuleSet{}).Check(context.Background(), commit)
	require.NoError(t, err)
	require.Equal(t, []string{"whitespace"}, checkNames(issues))
}

func TestIssueString(t *testing.T) {
	t.Parallel()

	issue := Issue{Check: "author", Message: "the commit author identity is incomplete"}
	require.Equal(t, "author: the commit author identity is incomplete", issue.String())
}
