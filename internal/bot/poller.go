package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mergebot/internal/forge"
)

// Poller periodically lists the open pull requests of each configured
// repository and submits a work item per PR. Forge listing calls are
// rate limited and retried with exponential backoff on transient
// failures.
type Poller struct {
	Forge        forge.Forge
	Repositories []string
	Interval     time.Duration
	Limiter      *rate.Limiter
	Runner       *Runner
	NewItem      func(repo forge.Repository, prID string) WorkItem
	Log          zerolog.Logger
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if err := p.Round(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Error().Err(err).Msg("poll round failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Round performs one poll pass over all repositories.
func (p *Poller) Round(ctx context.Context) error {
	for _, name := range p.Repositories {
		if err := p.Limiter.Wait(ctx); err != nil {
			return err
		}
		repo, prs, err := p.listOpen(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to list open pull requests of %s: %w", name, err)
		}
		for _, pr := range prs {
			p.Runner.Submit(p.NewItem(repo, pr.ID()))
		}
	}
	return nil
}

func (p *Poller) listOpen(ctx context.Context, name string) (forge.Repository, []forge.PullRequest, error) {
	var repo forge.Repository
	var prs []forge.PullRequest
	operation := func() error {
		var err error
		repo, err = p.Forge.Repository(ctx, name)
		if err != nil {
			return err
		}
		prs, err = repo.OpenPullRequests(ctx)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, nil, err
	}
	return repo, prs, nil
}
