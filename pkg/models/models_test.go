package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashValidation(t *testing.T) {
	t.Parallel()

	valid := Hash(strings.Repeat("a1", 20))
	require.True(t, valid.IsValid())
	require.False(t, Hash("abc123").IsValid())
	require.False(t, Hash(strings.Repeat("g", 40)).IsValid())
	require.False(t, Hash("").IsValid())
}

func TestHashAbbreviate(t *testing.T) {
	t.Parallel()

	hash := Hash("0123456789abcdef0123456789abcdef01234567")
	require.Equal(t, "01234567", hash.Abbreviate())
}

func TestIssueFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Issue
		ok    bool
	}{
		{"1234", Issue{ID: "1234"}, true},
		{"1234: Fix the frobnicator", Issue{ID: "1234", Description: "Fix the frobnicator"}, true},
		{"PROJ-42: Add widgets", Issue{ID: "PROJ-42", Description: "Add widgets"}, true},
		{"  8000001: Trimmed  ", Issue{ID: "8000001", Description: "Trimmed"}, true},
		{"no issue here", Issue{}, false},
		{"", Issue{}, false},
		{"PROJ-", Issue{}, false},
	}
	for _, tt := range tests {
		got, ok := IssueFromString(tt.input)
		require.Equal(t, tt.ok, ok, "input %q", tt.input)
		if ok {
			require.Equal(t, tt.want, got, "input %q", tt.input)
		}
	}
}

func TestAuthorFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Author
		ok    bool
	}{
		{"Jane Doe <jane@example.com>", Author{Name: "Jane Doe", Email: "jane@example.com"}, true},
		{"<jane@example.com>", Author{Email: "jane@example.com"}, true},
		{"jane@example.com", Author{Email: "jane@example.com"}, true},
		{"", Author{}, false},
		{"not an email", Author{}, false},
	}
	for _, tt := range tests {
		got, ok := AuthorFromString(tt.input)
		require.Equal(t, tt.ok, ok, "input %q", tt.input)
		if ok {
			require.Equal(t, tt.want, got, "input %q", tt.input)
		}
	}
}

func TestAuthorString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Jane Doe <jane@example.com>", Author{Name: "Jane Doe", Email: "jane@example.com"}.String())
	require.Equal(t, "jane@example.com", Author{Email: "jane@example.com"}.String())
}

func TestCommitMetadataIsMerge(t *testing.T) {
	t.Parallel()

	single := CommitMetadata{Parents: []Hash{Hash(strings.Repeat("a", 40))}}
	require.False(t, single.IsMerge())

	merge := CommitMetadata{Parents: []Hash{
		Hash(strings.Repeat("a", 40)),
		Hash(strings.Repeat("b", 40)),
	}}
	require.True(t, merge.IsMerge())
}
