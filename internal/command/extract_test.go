package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mergebot/pkg/models"
)

func known(name string) bool {
	return DefaultRegistry().Known(name)
}

func TestExtractSingleCommand(t *testing.T) {
	t.Parallel()

	comment := models.Comment{
		ID:        "42",
		Author:    models.HostUser{ID: "2", Username: "jdoe"},
		Body:      "/integrate",
		CreatedAt: time.Unix(1700000000, 0),
	}
	invs := ExtractFromComment(comment, known)
	require.Len(t, invs, 1)
	require.Equal(t, "integrate", invs[0].Name)
	require.Equal(t, "42-0", invs[0].ID)
	require.Empty(t, invs[0].Args)
	require.False(t, invs[0].FromBody)
}

func TestExtractMultiLineCapture(t *testing.T) {
	t.Parallel()

	body := "/summary\nFirst line\nSecond line\n/integrate auto"
	comment := models.Comment{ID: "7", Body: body}
	invs := ExtractFromComment(comment, known)
	require.Len(t, invs, 2)
	require.Equal(t, "summary", invs[0].Name)
	require.Equal(t, []string{"First line", "Second line"}, invs[0].Body)
	require.Equal(t, "integrate", invs[1].Name)
	require.Equal(t, "auto", invs[1].Args)
	require.Equal(t, "7-1", invs[1].ID)
}

func TestExtractIgnoresUnknownAndMidLineSlashes(t *testing.T) {
	t.Parallel()

	body := "See /usr/bin/env for details\n/frobnicate now\ntext /integrate text"
	invs := ExtractFromComment(models.Comment{ID: "9", Body: body}, known)
	require.Empty(t, invs)
}

func TestExtractFromBodyAttributesAuthor(t *testing.T) {
	t.Parallel()

	author := models.HostUser{ID: "2", Username: "jdoe"}
	invs := ExtractFromBody("11", author, "Description text\n\n/contributor add jane@example.com", known)
	require.Len(t, invs, 1)
	require.Equal(t, "body-11-0", invs[0].ID)
	require.Equal(t, "contributor", invs[0].Name)
	require.Equal(t, "add jane@example.com", invs[0].Args)
	require.True(t, invs[0].FromBody)
	require.Equal(t, author, invs[0].User)
}

func TestExtractCommandNameIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	invs := ExtractFromComment(models.Comment{ID: "3", Body: "/Integrate"}, known)
	require.Len(t, invs, 1)
	require.Equal(t, "integrate", invs[0].Name)
}
