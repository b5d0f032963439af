// Package commitmsg assembles the canonical commit message from
// replayed tracker state. The output is deterministic for a given
// state snapshot: it is used both to produce the pushed commit and to
// decide whether late manual reviewer credit would change anything.
package commitmsg

import (
	"strings"

	"github.com/mergebot/pkg/models"
)

// Message is the canonical commit message structure. The primary issue
// (or free-form title) comes first, then additional solved issues in
// insertion order, then the summary, then contributor and reviewer
// trailers.
type Message struct {
	Title        string
	Issues       []models.Issue
	Summary      string
	Contributors []models.Author
	Reviewers    []string
}

// Title starts a message from a free-form title line.
func Title(title string) *Message {
	return &Message{Title: title}
}

// FromIssue starts a message from the primary solved issue.
func FromIssue(issue models.Issue) *Message {
	return &Message{Issues: []models.Issue{issue}}
}

// AddIssues appends additional solved issues.
func (m *Message) AddIssues(issues []models.Issue) *Message {
	m.Issues = append(m.Issues, issues...)
	return m
}

// SetSummary sets the summary paragraph.
func (m *Message) SetSummary(summary string) *Message {
	m.Summary = summary
	return m
}

// AddContributors appends co-author credits.
func (m *Message) AddContributors(contributors []models.Author) *Message {
	m.Contributors = append(m.Contributors, contributors...)
	return m
}

// AddReviewers appends reviewer credits, skipping duplicates while
// preserving order.
func (m *Message) AddReviewers(reviewers []string) *Message {
	seen := make(map[string]bool, len(m.Reviewers))
	for _, r := range m.Reviewers {
		seen[r] = true
	}
	for _, r := range reviewers {
		if !seen[r] {
			seen[r] = true
			m.Reviewers = append(m.Reviewers, r)
		}
	}
	return m
}

// Format renders the message in the frozen v1 layout.
func (m *Message) Format() string {
	var lines []string
	if len(m.Issues) > 0 {
		for _, issue := range m.Issues {
			lines = append(lines, issue.String())
		}
	} else {
		lines = append(lines, m.Title)
	}

	if m.Summary != "" {
		lines = append(lines, "")
		lines = append(lines, strings.Split(strings.TrimSpace(m.Summary), "\n")...)
	}

	if len(m.Contributors) > 0 || len(m.Reviewers) > 0 {
		lines = append(lines, "")
		for _, contributor := range m.Contributors {
			lines = append(lines, "Co-authored-by: "+contributor.String())
		}
		if len(m.Reviewers) > 0 {
			lines = append(lines, "Reviewed-by: "+strings.Join(m.Reviewers, ", "))
		}
	}

	return strings.Join(lines, "\n")
}
