// Package jcheck is the validation-rule engine boundary. The real rule
// engine is an external collaborator; the bot only depends on the
// Checker interface. A small built-in ruleset covers the universal
// commit hygiene rules and serves as the test double.
package jcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/pkg/models"
)

// Issue is one policy violation found in a synthesized commit.
type Issue struct {
	Check   string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Check, i.Message)
}

// Checker validates a synthesized commit before it may be pushed. Any
// returned issue aborts the push.
type Checker interface {
	Check(ctx context.Context, commit models.CommitMetadata) ([]Issue, error)
}

// RuleSet is the built-in checker.
type RuleSet struct {
	// MaxTitleLength bounds the first message line; zero means the
	// default of 120.
	MaxTitleLength int
}

func (r *RuleSet) maxTitle() int {
	if r.MaxTitleLength > 0 {
		return r.MaxTitleLength
	}
	return 120
}

func (r *RuleSet) Check(_ context.Context, commit models.CommitMetadata) ([]Issue, error) {
	var issues []Issue
	if commit.Author.Name == "" || commit.Author.Email == "" {
		issues = append(issues, Issue{Check: "author", Message: "the commit author identity is incomplete"})
	}
	if commit.Committer.Name == "" || commit.Committer.Email == "" {
		issues = append(issues, Issue{Check: "committer", Message: "the commit committer identity is incomplete"})
	}
	if len(commit.Message) == 0 || strings.TrimSpace(commit.Message[0]) == "" {
		issues = append(issues, Issue{Check: "message", Message: "the commit message is empty"})
	} else if len(commit.Message[0]) > r.maxTitle() {
		issues = append(issues, Issue{
			Check:   "message",
			Message: fmt.Sprintf("the first line of the commit message exceeds %d characters", r.maxTitle()),
		})
	}
	for _, line := range commit.Message {
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, Issue{Check: "whitespace", Message: "the commit message contains trailing whitespace"})
			break
		}
	}
	return issues, nil
}
