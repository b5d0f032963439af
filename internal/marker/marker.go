// Package marker encodes and decodes the machine-readable directives
// embedded in bot comments. Each domain has one frozen grammar; decode
// is total and skips anything that does not match, so replay survives
// grammar drift between bot versions.
package marker

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mergebot/pkg/models"
)

// Op distinguishes add and remove events in set-valued domains.
type Op int

const (
	OpAdd Op = iota
	OpRemove
)

func encodePayload(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodePayload returns false for payloads that are not valid base64.
// Callers treat that as an absent marker.
func decodePayload(s string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Solved issues: an empty description payload removes the issue.

var solvesPattern = regexp.MustCompile(`<!-- solves: '([^']*)' '([^']*)' -->`)

// SolvesEvent is one solved-issue transition.
type SolvesEvent struct {
	ID          string
	Description string
	Remove      bool
}

// SetSolves formats the marker that records issue as solved.
func SetSolves(issue models.Issue) string {
	return fmt.Sprintf("<!-- solves: '%s' '%s' -->", issue.ID, encodePayload(issue.Description))
}

// RemoveSolves formats the marker that retracts a solved issue.
func RemoveSolves(issue models.Issue) string {
	return fmt.Sprintf("<!-- solves: '%s' '' -->", issue.ID)
}

// Solves extracts solved-issue events from a comment body.
func Solves(body string) []SolvesEvent {
	var events []SolvesEvent
	for _, m := range solvesPattern.FindAllStringSubmatch(body, -1) {
		if m[2] == "" {
			events = append(events, SolvesEvent{ID: m[1], Remove: true})
			continue
		}
		desc, ok := decodePayload(m[2])
		if !ok {
			continue
		}
		events = append(events, SolvesEvent{ID: m[1], Description: desc})
	}
	return events
}

// Labels.

var (
	addedLabelPattern   = regexp.MustCompile(`<!-- added label: '([^']+)' -->`)
	removedLabelPattern = regexp.MustCompile(`<!-- removed label: '([^']+)' -->`)
)

// LabelEvent is one label add/remove transition.
type LabelEvent struct {
	Op   Op
	Name string
}

func AddLabel(name string) string {
	return fmt.Sprintf("<!-- added label: '%s' -->", name)
}

func RemoveLabel(name string) string {
	return fmt.Sprintf("<!-- removed label: '%s' -->", name)
}

// Labels extracts label events from a comment body, in order.
func Labels(body string) []LabelEvent {
	return setEvents(body, addedLabelPattern, removedLabelPattern, func(op Op, v string) LabelEvent {
		return LabelEvent{Op: op, Name: v}
	})
}

// Contributors.

var (
	addContributorPattern    = regexp.MustCompile(`<!-- add contributor: '([^']+)' -->`)
	removeContributorPattern = regexp.MustCompile(`<!-- remove contributor: '([^']+)' -->`)
)

// ContributorEvent is one contributor add/remove transition. The value
// is a full "Name <email>" attribution or a bare email.
type ContributorEvent struct {
	Op          Op
	Attribution string
}

func AddContributor(attribution string) string {
	return fmt.Sprintf("<!-- add contributor: '%s' -->", attribution)
}

func RemoveContributor(attribution string) string {
	return fmt.Sprintf("<!-- remove contributor: '%s' -->", attribution)
}

// Contributors extracts contributor events from a comment body.
func Contributors(body string) []ContributorEvent {
	return setEvents(body, addContributorPattern, removeContributorPattern, func(op Op, v string) ContributorEvent {
		return ContributorEvent{Op: op, Attribution: v}
	})
}

// Manually credited reviewers.

var (
	addReviewerPattern    = regexp.MustCompile(`<!-- add reviewer: '([^']+)' -->`)
	removeReviewerPattern = regexp.MustCompile(`<!-- remove reviewer: '([^']+)' -->`)
)

// ReviewerEvent is one manual reviewer credit transition.
type ReviewerEvent struct {
	Op       Op
	Username string
}

func AddReviewer(username string) string {
	return fmt.Sprintf("<!-- add reviewer: '%s' -->", username)
}

func RemoveReviewer(username string) string {
	return fmt.Sprintf("<!-- remove reviewer: '%s' -->", username)
}

// Reviewers extracts manual reviewer credit events from a comment body.
func Reviewers(body string) []ReviewerEvent {
	return setEvents(body, addReviewerPattern, removeReviewerPattern, func(op Op, v string) ReviewerEvent {
		return ReviewerEvent{Op: op, Username: v}
	})
}

// Additional required reviewers override; the latest marker wins.

var requiredReviewersPattern = regexp.MustCompile(`<!-- additional required reviewers id marker \((\d+)\) \((\w+)\) -->`)

// RequiredReviewersEvent is one reviewer-count override.
type RequiredReviewersEvent struct {
	Count int
	Role  string
}

func SetRequiredReviewers(count int, role string) string {
	return fmt.Sprintf("<!-- additional required reviewers id marker (%d) (%s) -->", count, role)
}

// RequiredReviewers extracts reviewer-count overrides from a comment body.
func RequiredReviewers(body string) []RequiredReviewersEvent {
	var events []RequiredReviewersEvent
	for _, m := range requiredReviewersPattern.FindAllStringSubmatch(body, -1) {
		count, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		events = append(events, RequiredReviewersEvent{Count: count, Role: m[2]})
	}
	return events
}

// Sponsor readiness; the latest marker wins.

var integrationRequestedPattern = regexp.MustCompile(`<!-- integration requested: '([0-9a-fA-F]{40})' -->`)

func SetIntegrationRequested(hash models.Hash) string {
	return fmt.Sprintf("<!-- integration requested: '%s' -->", hash.Hex())
}

// IntegrationRequested extracts sponsor-ready hashes from a comment body.
func IntegrationRequested(body string) []models.Hash {
	var hashes []models.Hash
	for _, m := range integrationRequestedPattern.FindAllStringSubmatch(body, -1) {
		hashes = append(hashes, models.Hash(m[1]))
	}
	return hashes
}

// Vetoes: an approval marker clears the veto with the same id.

var (
	vetoPattern     = regexp.MustCompile(`<!-- Veto marker \(([^)]+)\) -->`)
	approvalPattern = regexp.MustCompile(`<!-- Approval marker \(([^)]+)\) -->`)
)

// VetoEvent is one veto place/clear transition keyed by user id.
type VetoEvent struct {
	Op Op
	ID string
}

func Veto(id string) string {
	return fmt.Sprintf("<!-- Veto marker (%s) -->", id)
}

func Approval(id string) string {
	return fmt.Sprintf("<!-- Approval marker (%s) -->", id)
}

// Vetoes extracts veto events from a comment body.
func Vetoes(body string) []VetoEvent {
	return setEvents(body, vetoPattern, approvalPattern, func(op Op, v string) VetoEvent {
		return VetoEvent{Op: op, ID: v}
	})
}

// Summary; a blank payload clears it.

var summaryPattern = regexp.MustCompile(`<!-- summary: '([^']*)' -->`)

// SummaryEvent is one summary transition.
type SummaryEvent struct {
	Text  string
	Clear bool
}

func SetSummary(text string) string {
	return fmt.Sprintf("<!-- summary: '%s' -->", encodePayload(text))
}

func ClearSummary() string {
	return "<!-- summary: '' -->"
}

// Summaries extracts summary events from a comment body.
func Summaries(body string) []SummaryEvent {
	var events []SummaryEvent
	for _, m := range summaryPattern.FindAllStringSubmatch(body, -1) {
		if m[1] == "" {
			events = append(events, SummaryEvent{Clear: true})
			continue
		}
		text, ok := decodePayload(m[1])
		if !ok {
			continue
		}
		events = append(events, SummaryEvent{Text: text})
	}
	return events
}

// Author override; a blank payload clears it.

var setAuthorPattern = regexp.MustCompile(`<!-- set author: '([^']*)' -->`)

// AuthorEvent is one author override transition.
type AuthorEvent struct {
	Author string
	Clear  bool
}

func SetAuthor(attribution string) string {
	return fmt.Sprintf("<!-- set author: '%s' -->", attribution)
}

func ClearAuthor() string {
	return "<!-- set author: '' -->"
}

// Authors extracts author override events from a comment body.
func Authors(body string) []AuthorEvent {
	var events []AuthorEvent
	for _, m := range setAuthorPattern.FindAllStringSubmatch(body, -1) {
		if m[1] == "" {
			events = append(events, AuthorEvent{Clear: true})
		} else {
			events = append(events, AuthorEvent{Author: m[1]})
		}
	}
	return events
}

// Pre-push: written just before a push so an interrupted close can be
// resumed.

var prePushPattern = regexp.MustCompile(`<!-- prepush ([0-9a-fA-F]{40}) -->`)

func PrePush(hash models.Hash) string {
	return fmt.Sprintf("<!-- prepush %s -->", hash.Hex())
}

// PrePushes extracts pre-push hashes from a comment body.
func PrePushes(body string) []models.Hash {
	var hashes []models.Hash
	for _, m := range prePushPattern.FindAllStringSubmatch(body, -1) {
		hashes = append(hashes, models.Hash(m[1]))
	}
	return hashes
}

// Auto-integration attempts, one per head hash, so a failed automatic
// integration is not retried until the pull request changes.

var autoAttemptPattern = regexp.MustCompile(`<!-- auto integration attempted: '([0-9a-fA-F]{40})' -->`)

func AutoAttempt(hash models.Hash) string {
	return fmt.Sprintf("<!-- auto integration attempted: '%s' -->", hash.Hex())
}

// AutoAttempts extracts auto-integration attempt hashes from a comment
// body.
func AutoAttempts(body string) []models.Hash {
	var hashes []models.Hash
	for _, m := range autoAttemptPattern.FindAllStringSubmatch(body, -1) {
		hashes = append(hashes, models.Hash(strings.ToLower(m[1])))
	}
	return hashes
}

// Command bookkeeping.

var commandProcessedPattern = regexp.MustCompile(`<!-- command processed: '([^']+)' -->`)

// ValidSelfCommand marks a bot-authored comment whose commands should
// be dispatched despite the bot being the author.
const ValidSelfCommand = "<!-- Valid self-command -->"

func CommandProcessed(id string) string {
	return fmt.Sprintf("<!-- command processed: '%s' -->", id)
}

// ProcessedCommands extracts processed-command ids from a comment body.
func ProcessedCommands(body string) []string {
	var ids []string
	for _, m := range commandProcessedPattern.FindAllStringSubmatch(body, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// Review notices, posted at most once per distinct (reviewer, verdict,
// hash) triple.

var reviewNoticePattern = regexp.MustCompile(`<!-- review notice: '([^']+)' '([^']+)' '([0-9a-fA-F]{40})' -->`)

// ReviewNotice formats the marker recording that a review has been
// announced.
func ReviewNotice(review models.Review) string {
	return fmt.Sprintf("<!-- review notice: '%s' '%s' '%s' -->",
		review.Reviewer.ID, review.Verdict, review.Hash.Hex())
}

// ReviewNoticeKey is the deduplication key for a review announcement.
func ReviewNoticeKey(review models.Review) string {
	return review.Reviewer.ID + "|" + review.Verdict.String() + "|" + strings.ToLower(review.Hash.Hex())
}

// ReviewNotices extracts announced-review keys from a comment body.
func ReviewNotices(body string) []string {
	var keys []string
	for _, m := range reviewNoticePattern.FindAllStringSubmatch(body, -1) {
		keys = append(keys, m[1]+"|"+m[2]+"|"+strings.ToLower(m[3]))
	}
	return keys
}

// setEvents merges matches of an add pattern and a remove pattern into
// one ordered event list. Order within a single comment follows byte
// position in the body.
func setEvents[E any](body string, add, remove *regexp.Regexp, mk func(Op, string) E) []E {
	type located struct {
		pos   int
		event E
	}
	var all []located
	for _, m := range add.FindAllStringSubmatchIndex(body, -1) {
		all = append(all, located{pos: m[0], event: mk(OpAdd, body[m[2]:m[3]])})
	}
	for _, m := range remove.FindAllStringSubmatchIndex(body, -1) {
		all = append(all, located{pos: m[0], event: mk(OpRemove, body[m[2]:m[3]])})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1].pos > all[j].pos; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
	events := make([]E, 0, len(all))
	for _, l := range all {
		events = append(events, l.event)
	}
	return events
}
