// Package forgetest provides an in-memory forge implementation for
// tests. It honours the same ordering semantics as a real forge:
// comments are stamped with strictly increasing creation times.
package forgetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mergebot/internal/forge"
	"github.com/mergebot/pkg/models"
)

// Forge is an in-memory forge.
type Forge struct {
	mu    sync.Mutex
	bot   models.HostUser
	repos map[string]*Repository
}

// NewForge creates a forge authenticated as bot.
func NewForge(bot models.HostUser) *Forge {
	return &Forge{bot: bot, repos: make(map[string]*Repository)}
}

func (f *Forge) CurrentUser() models.HostUser {
	return f.bot
}

func (f *Forge) Repository(_ context.Context, name string) (forge.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[name]
	if !ok {
		return nil, fmt.Errorf("no such repository: %s", name)
	}
	return repo, nil
}

// AddRepository registers a repository with the given branch heads.
func (f *Forge) AddRepository(name, url string, branches map[string]models.Hash) *Repository {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo := &Repository{
		forge:    f,
		name:     name,
		url:      url,
		branches: make(map[string]models.Hash),
		prs:      make(map[string]*PullRequest),
	}
	for ref, hash := range branches {
		repo.branches[ref] = hash
	}
	f.repos[name] = repo
	return repo
}

// Repository is an in-memory hosted repository.
type Repository struct {
	mu       sync.Mutex
	forge    *Forge
	name     string
	url      string
	branches map[string]models.Hash
	prs      map[string]*PullRequest
}

func (r *Repository) Name() string { return r.name }
func (r *Repository) URL() string  { return r.url }

func (r *Repository) BranchHash(_ context.Context, ref string) (models.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.branches[ref]
	if !ok {
		return "", fmt.Errorf("no such branch: %s", ref)
	}
	return hash, nil
}

// SetBranchHash moves a branch head, as a push would.
func (r *Repository) SetBranchHash(ref string, hash models.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[ref] = hash
}

func (r *Repository) PullRequest(_ context.Context, id string) (forge.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.prs[id]
	if !ok {
		return nil, fmt.Errorf("no such pull request: %s", id)
	}
	return pr, nil
}

func (r *Repository) OpenPullRequests(_ context.Context) ([]forge.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []forge.PullRequest
	for _, pr := range r.prs {
		if pr.state == models.PullRequestOpen {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (r *Repository) Forge() forge.Forge { return r.forge }

// AddPullRequest registers an open pull request.
func (r *Repository) AddPullRequest(id, title, body string, author models.HostUser, head models.Hash, targetRef string) *PullRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr := &PullRequest{
		repo:      r,
		id:        id,
		title:     title,
		body:      body,
		author:    author,
		head:      head,
		targetRef: targetRef,
		state:     models.PullRequestOpen,
		labels:    make(map[string]bool),
		clock:     time.Unix(1700000000, 0),
	}
	r.prs[id] = pr
	return pr
}

// PullRequest is an in-memory pull request.
type PullRequest struct {
	mu        sync.Mutex
	repo      *Repository
	id        string
	title     string
	body      string
	author    models.HostUser
	head      models.Hash
	targetRef string
	state     models.PullRequestState
	comments  []models.Comment
	reviews   []models.Review
	labels    map[string]bool
	clock     time.Time
	nextID    int
}

func (p *PullRequest) ID() string                  { return p.id }
func (p *PullRequest) Author() models.HostUser     { return p.author }
func (p *PullRequest) TargetRef() string           { return p.targetRef }
func (p *PullRequest) Repository() forge.Repository { return p.repo }

func (p *PullRequest) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *PullRequest) SetTitle(_ context.Context, title string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
	return nil
}

func (p *PullRequest) Body() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}

func (p *PullRequest) HeadHash() models.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// SetHeadHash simulates a new push to the source branch.
func (p *PullRequest) SetHeadHash(hash models.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head = hash
}

func (p *PullRequest) State() models.PullRequestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PullRequest) SetState(_ context.Context, state models.PullRequestState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	return nil
}

func (p *PullRequest) Comments(_ context.Context) ([]models.Comment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Comment, len(p.comments))
	copy(out, p.comments)
	return out, nil
}

func (p *PullRequest) AddComment(_ context.Context, body string) (models.Comment, error) {
	return p.addCommentFrom(p.repo.forge.bot, body), nil
}

// AddCommentFrom posts a comment as an arbitrary user.
func (p *PullRequest) AddCommentFrom(user models.HostUser, body string) models.Comment {
	return p.addCommentFrom(user, body)
}

func (p *PullRequest) addCommentFrom(user models.HostUser, body string) models.Comment {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.clock = p.clock.Add(time.Second)
	comment := models.Comment{
		ID:        fmt.Sprintf("c%d", p.nextID),
		Author:    user,
		Body:      body,
		CreatedAt: p.clock,
	}
	p.comments = append(p.comments, comment)
	return comment
}

func (p *PullRequest) Reviews(_ context.Context) ([]models.Review, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Review, len(p.reviews))
	copy(out, p.reviews)
	return out, nil
}

// AddReview records a review event.
func (p *PullRequest) AddReview(reviewer models.HostUser, verdict models.Verdict, hash models.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = p.clock.Add(time.Second)
	p.reviews = append(p.reviews, models.Review{
		Reviewer:  reviewer,
		Verdict:   verdict,
		Hash:      hash,
		CreatedAt: p.clock,
	})
}

func (p *PullRequest) LabelNames(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for name := range p.labels {
		out = append(out, name)
	}
	return out, nil
}

func (p *PullRequest) AddLabel(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labels[name] = true
	return nil
}

func (p *PullRequest) RemoveLabel(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.labels, name)
	return nil
}

// HasLabel reports whether the label is currently applied.
func (p *PullRequest) HasLabel(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.labels[name]
}
