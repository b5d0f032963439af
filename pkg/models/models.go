package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Hash is a git object hash in hex form.
type Hash string

var hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// IsValid reports whether h looks like a full 40-character hex hash.
func (h Hash) IsValid() bool {
	return hashPattern.MatchString(string(h))
}

// Hex returns the hash as a hex string.
func (h Hash) Hex() string {
	return string(h)
}

// Abbreviate returns a short form suitable for replies and log lines.
func (h Hash) Abbreviate() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

func (h Hash) String() string {
	return string(h)
}

// HostUser is a forge-side user identity. Two users are the same when
// their IDs match; usernames can be renamed on most forges.
type HostUser struct {
	ID       string
	Username string
	FullName string
}

// Equals compares users by forge-side ID.
func (u HostUser) Equals(other HostUser) bool {
	return u.ID == other.ID
}

// Comment is an immutable forge comment. Replay ordering is by
// CreatedAt, never by ID.
type Comment struct {
	ID        string
	Author    HostUser
	Body      string
	CreatedAt time.Time
}

// Verdict is the outcome of a review.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictApproved
	VerdictChangesRequested
)

func (v Verdict) String() string {
	switch v {
	case VerdictApproved:
		return "approved"
	case VerdictChangesRequested:
		return "changes-requested"
	default:
		return "none"
	}
}

// Review is one review event. Only the chronologically latest review
// per reviewer is considered active.
type Review struct {
	Reviewer  HostUser
	Verdict   Verdict
	Hash      Hash
	CreatedAt time.Time
}

// Issue is a tracked issue reference, optionally with a description.
type Issue struct {
	ID          string
	Description string
}

var issuePattern = regexp.MustCompile(`^((?:[A-Z][A-Z0-9]*-)?[0-9]+)(?::\s+(.*))?$`)

// IssueFromString parses "1234: Description" style references. The
// description part is optional.
func IssueFromString(s string) (Issue, bool) {
	m := issuePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Issue{}, false
	}
	return Issue{ID: m[1], Description: m[2]}, true
}

func (i Issue) String() string {
	if i.Description == "" {
		return i.ID
	}
	return i.ID + ": " + i.Description
}

// Author is a commit author or committer identity.
type Author struct {
	Name  string
	Email string
}

var authorPattern = regexp.MustCompile(`^(?:(.*?)\s*)?<(.*)>$`)

// AuthorFromString parses "Full Name <email>" as well as a bare email
// address.
func AuthorFromString(s string) (Author, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Author{}, false
	}
	if m := authorPattern.FindStringSubmatch(s); m != nil {
		return Author{Name: m[1], Email: m[2]}, true
	}
	if strings.Contains(s, " ") {
		return Author{}, false
	}
	return Author{Email: s}, true
}

func (a Author) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// PullRequestState is the open/closed state of a pull request.
type PullRequestState int

const (
	PullRequestOpen PullRequestState = iota
	PullRequestClosed
)

// CommitMetadata is the metadata of one local commit.
type CommitMetadata struct {
	Hash      Hash
	Parents   []Hash
	Author    Author
	Committer Author
	Message   []string
}

// IsMerge reports whether the commit has more than one parent.
func (c CommitMetadata) IsMerge() bool {
	return len(c.Parents) > 1
}
