// Package census resolves forge identities to canonical contributor
// records and project roles. The census itself is an external
// collaborator; this package defines the consumer-side interface and a
// file-backed implementation.
package census

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mergebot/pkg/models"
)

// Contributor is one census record.
type Contributor struct {
	Username string `koanf:"username"`
	FullName string `koanf:"full_name"`
	// ForgeID ties the census record to a forge-side user identity.
	ForgeID string `koanf:"forge_id"`
}

// Instance answers role and identity questions for one project.
type Instance interface {
	// Resolve maps a forge user to a census contributor.
	Resolve(user models.HostUser) (Contributor, bool)
	// ResolveUsername maps a census username to a contributor.
	ResolveUsername(username string) (Contributor, bool)
	IsAuthor(user models.HostUser) bool
	IsCommitter(user models.HostUser) bool
	IsReviewer(user models.HostUser) bool
	// Domain is the email domain used for census-resolved commit
	// identities.
	Domain() string
}

// StaticInstance is a census loaded from a TOML file. Suitable for
// self-hosted projects where membership changes go through review.
type StaticInstance struct {
	domain       string
	byForgeID    map[string]Contributor
	byUsername   map[string]Contributor
	authors      map[string]bool
	committers   map[string]bool
	reviewerRole map[string]bool
}

type censusFile struct {
	Domain       string        `koanf:"domain"`
	Contributors []Contributor `koanf:"contributors"`
	Authors      []string      `koanf:"authors"`
	Committers   []string      `koanf:"committers"`
	Reviewers    []string      `koanf:"reviewers"`
}

// Load reads a census file. Role lists reference census usernames.
func Load(path string) (*StaticInstance, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("census file not found: %w", err)
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading census: %w", err)
	}
	var parsed censusFile
	if err := k.Unmarshal("", &parsed); err != nil {
		return nil, fmt.Errorf("error unmarshalling census: %w", err)
	}
	return New(parsed.Domain, parsed.Contributors, parsed.Authors, parsed.Committers, parsed.Reviewers), nil
}

// New builds a static census from explicit records and role lists.
func New(domain string, contributors []Contributor, authors, committers, reviewers []string) *StaticInstance {
	inst := &StaticInstance{
		domain:       domain,
		byForgeID:    make(map[string]Contributor),
		byUsername:   make(map[string]Contributor),
		authors:      make(map[string]bool),
		committers:   make(map[string]bool),
		reviewerRole: make(map[string]bool),
	}
	for _, c := range contributors {
		if c.ForgeID != "" {
			inst.byForgeID[c.ForgeID] = c
		}
		inst.byUsername[c.Username] = c
	}
	for _, u := range authors {
		inst.authors[u] = true
	}
	// Committers are authors, reviewers are committers.
	for _, u := range committers {
		inst.authors[u] = true
		inst.committers[u] = true
	}
	for _, u := range reviewers {
		inst.authors[u] = true
		inst.committers[u] = true
		inst.reviewerRole[u] = true
	}
	return inst
}

func (s *StaticInstance) Resolve(user models.HostUser) (Contributor, bool) {
	c, ok := s.byForgeID[user.ID]
	return c, ok
}

func (s *StaticInstance) ResolveUsername(username string) (Contributor, bool) {
	c, ok := s.byUsername[username]
	return c, ok
}

func (s *StaticInstance) role(user models.HostUser, roles map[string]bool) bool {
	c, ok := s.Resolve(user)
	if !ok {
		return false
	}
	return roles[c.Username]
}

func (s *StaticInstance) IsAuthor(user models.HostUser) bool {
	return s.role(user, s.authors)
}

func (s *StaticInstance) IsCommitter(user models.HostUser) bool {
	return s.role(user, s.committers)
}

func (s *StaticInstance) IsReviewer(user models.HostUser) bool {
	return s.role(user, s.reviewerRole)
}

func (s *StaticInstance) Domain() string {
	return s.domain
}
