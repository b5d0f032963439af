package vcs

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mergebot/pkg/models"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestCommitUsesGivenIdentity(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ctx := context.Background()
	repo, err := Init(ctx, filepath.Join(t.TempDir(), "repo"))
	require.NoError(t, err)

	commit, err := repo.Commit(ctx, "initial", "mergebot", "bot@example.com")
	require.NoError(t, err)

	meta, err := repo.Lookup(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, models.Author{Name: "mergebot", Email: "bot@example.com"}, meta.Author)
	require.Equal(t, meta.Author, meta.Committer)
	require.Equal(t, []string{"initial"}, meta.Message)
}

func TestAmendKeepsCommitIdentities(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ctx := context.Background()
	repo, err := Init(ctx, filepath.Join(t.TempDir(), "repo"))
	require.NoError(t, err)

	base, err := repo.Commit(ctx, "initial", "mergebot", "bot@example.com")
	require.NoError(t, err)
	tree, err := repo.Tree(ctx, base)
	require.NoError(t, err)

	author := models.Author{Name: "Jane Doe", Email: "jdoe@project.example.com"}
	committer := models.Author{Name: "Alice Smith", Email: "asmith@project.example.com"}
	commit, err := repo.CommitTree(ctx, "8000001: Fix the frobnicator", author, committer,
		[]models.Hash{base}, tree)
	require.NoError(t, err)
	require.NoError(t, repo.Checkout(ctx, commit))

	amended, err := repo.Amend(ctx, "8000001: Fix the frobnicator\n\nReviewed-by: rlee")
	require.NoError(t, err)
	require.NotEqual(t, commit, amended)

	meta, err := repo.Lookup(ctx, amended)
	require.NoError(t, err)
	require.Equal(t, author, meta.Author)
	require.Equal(t, committer, meta.Committer)
	require.Equal(t, "8000001: Fix the frobnicator", meta.Message[0])
	require.Equal(t, []models.Hash{base}, meta.Parents)
}
