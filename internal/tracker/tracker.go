// Package tracker reconstructs the current logical state of a pull
// request by replaying markers found in bot-authored comments. Every
// fold is a pure function of (ordered comment list, bot identity);
// replaying twice always yields the same state.
package tracker

import (
	"sort"

	"github.com/mergebot/internal/marker"
	"github.com/mergebot/pkg/models"
)

// botBodies returns the bodies of bot-authored comments ordered by
// creation time. Comments from any other author never contribute to
// tracker state.
func botBodies(bot models.HostUser, comments []models.Comment) []string {
	ordered := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		if c.Author.Equals(bot) {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	bodies := make([]string, len(ordered))
	for i, c := range ordered {
		bodies[i] = c.Body
	}
	return bodies
}

// orderedSet folds add/remove events while preserving first-insertion
// order, matching forge-side chronological semantics.
type orderedSet struct {
	keys   []string
	member map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{member: make(map[string]bool)}
}

func (s *orderedSet) add(key string) {
	if !s.member[key] {
		s.member[key] = true
		s.keys = append(s.keys, key)
	}
}

func (s *orderedSet) remove(key string) {
	if !s.member[key] {
		return
	}
	delete(s.member, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

func (s *orderedSet) contains(key string) bool {
	return s.member[key]
}

func (s *orderedSet) values() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Contributors replays the additional-contributor set.
func Contributors(bot models.HostUser, comments []models.Comment) []string {
	set := newOrderedSet()
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Contributors(body) {
			if ev.Op == marker.OpAdd {
				set.add(ev.Attribution)
			} else {
				set.remove(ev.Attribution)
			}
		}
	}
	return set.values()
}

// Reviewers replays the manually credited reviewer set.
func Reviewers(bot models.HostUser, comments []models.Comment) []string {
	set := newOrderedSet()
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Reviewers(body) {
			if ev.Op == marker.OpAdd {
				set.add(ev.Username)
			} else {
				set.remove(ev.Username)
			}
		}
	}
	return set.values()
}

// Labels replays the bot-applied label set.
func Labels(bot models.HostUser, comments []models.Comment) []string {
	set := newOrderedSet()
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Labels(body) {
			if ev.Op == marker.OpAdd {
				set.add(ev.Name)
			} else {
				set.remove(ev.Name)
			}
		}
	}
	return set.values()
}

// SolvedIssues replays the additional solved-issue list in insertion
// order. Setting an already present issue updates its description in
// place.
func SolvedIssues(bot models.HostUser, comments []models.Comment) []models.Issue {
	var order []string
	descs := make(map[string]string)
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Solves(body) {
			if ev.Remove {
				if _, ok := descs[ev.ID]; ok {
					delete(descs, ev.ID)
					for i, id := range order {
						if id == ev.ID {
							order = append(order[:i], order[i+1:]...)
							break
						}
					}
				}
				continue
			}
			if _, ok := descs[ev.ID]; !ok {
				order = append(order, ev.ID)
			}
			descs[ev.ID] = ev.Description
		}
	}
	issues := make([]models.Issue, 0, len(order))
	for _, id := range order {
		issues = append(issues, models.Issue{ID: id, Description: descs[id]})
	}
	return issues
}

// Vetoes replays the active veto set, keyed by the vetoing user's id.
func Vetoes(bot models.HostUser, comments []models.Comment) []string {
	set := newOrderedSet()
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Vetoes(body) {
			if ev.Op == marker.OpAdd {
				set.add(ev.ID)
			} else {
				set.remove(ev.ID)
			}
		}
	}
	return set.values()
}

// IntegrationRequested replays the sponsor-ready hash; the latest
// marker wins.
func IntegrationRequested(bot models.HostUser, comments []models.Comment) (models.Hash, bool) {
	var latest models.Hash
	var found bool
	for _, body := range botBodies(bot, comments) {
		for _, h := range marker.IntegrationRequested(body) {
			latest = h
			found = true
		}
	}
	return latest, found
}

// RequiredReviewers is the replayed reviewer-count override.
type RequiredReviewers struct {
	Count int
	Role  string
}

// AdditionalRequiredReviewers replays the reviewer-count override; the
// latest marker wins.
func AdditionalRequiredReviewers(bot models.HostUser, comments []models.Comment) (RequiredReviewers, bool) {
	var latest RequiredReviewers
	var found bool
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.RequiredReviewers(body) {
			latest = RequiredReviewers{Count: ev.Count, Role: ev.Role}
			found = true
		}
	}
	return latest, found
}

// Summary replays the summary text; the latest marker wins and a blank
// payload clears it.
func Summary(bot models.HostUser, comments []models.Comment) (string, bool) {
	var latest string
	var found bool
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Summaries(body) {
			if ev.Clear {
				latest, found = "", false
			} else {
				latest, found = ev.Text, true
			}
		}
	}
	return latest, found
}

// AuthorOverride replays the commit author override; the latest marker
// wins and a blank payload clears it.
func AuthorOverride(bot models.HostUser, comments []models.Comment) (models.Author, bool) {
	var latest models.Author
	var found bool
	for _, body := range botBodies(bot, comments) {
		for _, ev := range marker.Authors(body) {
			if ev.Clear {
				latest, found = models.Author{}, false
				continue
			}
			if author, ok := models.AuthorFromString(ev.Author); ok {
				latest, found = author, true
			}
		}
	}
	return latest, found
}

// PrePushHashes replays all recorded pre-push hashes, oldest first.
func PrePushHashes(bot models.HostUser, comments []models.Comment) []models.Hash {
	var hashes []models.Hash
	for _, body := range botBodies(bot, comments) {
		hashes = append(hashes, marker.PrePushes(body)...)
	}
	return hashes
}

// AutoAttempts replays the head hashes automatic integration has
// already been requested for.
func AutoAttempts(bot models.HostUser, comments []models.Comment) map[models.Hash]bool {
	hashes := make(map[models.Hash]bool)
	for _, body := range botBodies(bot, comments) {
		for _, hash := range marker.AutoAttempts(body) {
			hashes[hash] = true
		}
	}
	return hashes
}

// ProcessedCommands replays the set of command invocation ids the bot
// has already handled.
func ProcessedCommands(bot models.HostUser, comments []models.Comment) map[string]bool {
	ids := make(map[string]bool)
	for _, body := range botBodies(bot, comments) {
		for _, id := range marker.ProcessedCommands(body) {
			ids[id] = true
		}
	}
	return ids
}

// AnnouncedReviews replays the set of review notices already posted.
func AnnouncedReviews(bot models.HostUser, comments []models.Comment) map[string]bool {
	keys := make(map[string]bool)
	for _, body := range botBodies(bot, comments) {
		for _, key := range marker.ReviewNotices(body) {
			keys[key] = true
		}
	}
	return keys
}

// ActiveReviews keeps the chronologically latest review per reviewer,
// preserving the order in which reviewers first appeared.
func ActiveReviews(reviews []models.Review) []models.Review {
	ordered := make([]models.Review, len(reviews))
	copy(ordered, reviews)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	var order []string
	latest := make(map[string]models.Review)
	for _, r := range ordered {
		if _, ok := latest[r.Reviewer.ID]; !ok {
			order = append(order, r.Reviewer.ID)
		}
		latest[r.Reviewer.ID] = r
	}
	active := make([]models.Review, 0, len(order))
	for _, id := range order {
		active = append(active, latest[id])
	}
	return active
}
