// Package gitlab adapts a GitLab instance to the forge interfaces.
// Merge request notes are the comment log; approvals are mapped to
// reviews at the current head.
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/mergebot/internal/forge"
	"github.com/mergebot/pkg/models"
)

// Config contains the connection settings for one GitLab instance.
type Config struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// Forge is a GitLab-backed forge endpoint.
type Forge struct {
	client *gitlab.Client
	http   *httpClient
	config Config
	bot    models.HostUser
}

// New connects to a GitLab instance and resolves the bot identity.
func New(ctx context.Context, config Config) (*Forge, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("gitlab url is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}

	client := gitlab.NewClient(nil, config.Token)
	if err := client.SetBaseURL(fmt.Sprintf("%s/api/v4", config.URL)); err != nil {
		return nil, fmt.Errorf("failed to set GitLab API base URL: %w", err)
	}

	http := newHTTPClient(config.URL, config.Token)
	user, err := http.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot identity: %w", err)
	}

	return &Forge{
		client: client,
		http:   http,
		config: config,
		bot:    convertUser(user),
	}, nil
}

func convertUser(u glUser) models.HostUser {
	return models.HostUser{
		ID:       itoa(u.ID),
		Username: u.Username,
		FullName: u.Name,
	}
}

func (f *Forge) CurrentUser() models.HostUser {
	return f.bot
}

func (f *Forge) Repository(_ context.Context, name string) (forge.Repository, error) {
	return &Repository{forge: f, name: name}, nil
}

// Repository is a GitLab project addressed by its full path.
type Repository struct {
	forge *Forge
	name  string
}

func (r *Repository) Name() string { return r.name }

// URL is the authenticated clone URL used for pushes.
func (r *Repository) URL() string {
	base := strings.TrimPrefix(r.forge.config.URL, "https://")
	return fmt.Sprintf("https://oauth2:%s@%s/%s.git", r.forge.config.Token, base, r.name)
}

func (r *Repository) BranchHash(ctx context.Context, ref string) (models.Hash, error) {
	branch, err := r.forge.http.branch(ctx, r.name, ref)
	if err != nil {
		return "", fmt.Errorf("failed to fetch branch %s: %w", ref, err)
	}
	return models.Hash(branch.Commit.ID), nil
}

func (r *Repository) PullRequest(ctx context.Context, id string) (forge.PullRequest, error) {
	iid, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid merge request id %q: %w", id, err)
	}
	mr, err := r.forge.http.mergeRequest(ctx, r.name, iid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merge request: %w", err)
	}
	return &PullRequest{repo: r, mr: mr}, nil
}

func (r *Repository) OpenPullRequests(ctx context.Context) ([]forge.PullRequest, error) {
	mrs, err := r.forge.http.openMergeRequests(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge requests: %w", err)
	}
	out := make([]forge.PullRequest, 0, len(mrs))
	for i := range mrs {
		out = append(out, &PullRequest{repo: r, mr: &mrs[i]})
	}
	return out, nil
}

func (r *Repository) Forge() forge.Forge { return r.forge }

// PullRequest is a GitLab merge request.
type PullRequest struct {
	repo *Repository
	mr   *glMergeRequest
}

func (p *PullRequest) ID() string {
	return itoa(p.mr.IID)
}

func (p *PullRequest) Title() string {
	return p.mr.Title
}

func (p *PullRequest) SetTitle(ctx context.Context, title string) error {
	if err := p.repo.forge.http.updateMergeRequest(ctx, p.repo.name, p.mr.IID, map[string]string{"title": title}); err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	p.mr.Title = title
	return nil
}

func (p *PullRequest) Body() string {
	return p.mr.Description
}

func (p *PullRequest) Author() models.HostUser {
	return convertUser(p.mr.Author)
}

func (p *PullRequest) HeadHash() models.Hash {
	return models.Hash(p.mr.SHA)
}

func (p *PullRequest) TargetRef() string {
	return p.mr.TargetBranch
}

func (p *PullRequest) State() models.PullRequestState {
	if p.mr.State == "opened" {
		return models.PullRequestOpen
	}
	return models.PullRequestClosed
}

func (p *PullRequest) SetState(ctx context.Context, state models.PullRequestState) error {
	event := "close"
	if state == models.PullRequestOpen {
		event = "reopen"
	}
	if err := p.repo.forge.http.updateMergeRequest(ctx, p.repo.name, p.mr.IID, map[string]string{"state_event": event}); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

func (p *PullRequest) Comments(ctx context.Context) ([]models.Comment, error) {
	notes, err := p.repo.forge.http.notes(ctx, p.repo.name, p.mr.IID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	var comments []models.Comment
	for _, note := range notes {
		if note.System {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, note.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		comments = append(comments, models.Comment{
			ID:        itoa(note.ID),
			Author:    convertUser(note.Author),
			Body:      note.Body,
			CreatedAt: createdAt,
		})
	}
	return comments, nil
}

func (p *PullRequest) AddComment(ctx context.Context, body string) (models.Comment, error) {
	note, err := p.repo.forge.http.createNote(ctx, p.repo.name, p.mr.IID, body)
	if err != nil {
		return models.Comment{}, fmt.Errorf("failed to create note: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, note.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	return models.Comment{
		ID:        itoa(note.ID),
		Author:    convertUser(note.Author),
		Body:      note.Body,
		CreatedAt: createdAt,
	}, nil
}

// Reviews maps merge request approvals to reviews. GitLab does not
// record the reviewed hash with an approval, so approvals count
// against the current head; pushing a new head resets approvals on
// typical instance settings, which preserves the staleness contract.
func (p *PullRequest) Reviews(ctx context.Context) ([]models.Review, error) {
	approvals, err := p.repo.forge.http.approvals(ctx, p.repo.name, p.mr.IID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	var reviews []models.Review
	for _, approval := range approvals.ApprovedBy {
		createdAt, err := time.Parse(time.RFC3339, approval.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		reviews = append(reviews, models.Review{
			Reviewer:  convertUser(approval.User),
			Verdict:   models.VerdictApproved,
			Hash:      models.Hash(p.mr.SHA),
			CreatedAt: createdAt,
		})
	}
	return reviews, nil
}

func (p *PullRequest) LabelNames(_ context.Context) ([]string, error) {
	out := make([]string, len(p.mr.Labels))
	copy(out, p.mr.Labels)
	return out, nil
}

func (p *PullRequest) AddLabel(ctx context.Context, name string) error {
	if err := p.repo.forge.http.updateMergeRequest(ctx, p.repo.name, p.mr.IID, map[string]string{"add_labels": name}); err != nil {
		return fmt.Errorf("failed to add label: %w", err)
	}
	p.mr.Labels = append(p.mr.Labels, name)
	return nil
}

func (p *PullRequest) RemoveLabel(ctx context.Context, name string) error {
	if err := p.repo.forge.http.updateMergeRequest(ctx, p.repo.name, p.mr.IID, map[string]string{"remove_labels": name}); err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	for i, label := range p.mr.Labels {
		if label == name {
			p.mr.Labels = append(p.mr.Labels[:i], p.mr.Labels[i+1:]...)
			break
		}
	}
	return nil
}

func (p *PullRequest) Repository() forge.Repository { return p.repo }
