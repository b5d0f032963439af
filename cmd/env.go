package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mergebot/internal/bot"
	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/command"
	"github.com/mergebot/internal/config"
	"github.com/mergebot/internal/forge"
	"github.com/mergebot/internal/forge/gitlab"
	"github.com/mergebot/internal/integrate"
	"github.com/mergebot/internal/jcheck"
	"github.com/mergebot/internal/vcs"
)

// environment is the fully wired bot: forge client, census, integrator
// and the scheduling pieces built on top of them.
type environment struct {
	cfg        *config.Config
	forge      forge.Forge
	census     census.Instance
	integrator *integrate.Integrator
	check      *bot.CheckRun
	dispatcher *command.Dispatcher
	log        zerolog.Logger
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func newEnvironment(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*environment, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f, err := gitlab.New(ctx, gitlab.Config{URL: cfg.Forge.URL, Token: cfg.Forge.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to create forge client: %w", err)
	}

	cs, err := census.Load(cfg.CensusFile)
	if err != nil {
		return nil, err
	}

	var ledger *integrate.Ledger
	if cfg.Integration.ControlRepoURL != "" {
		controlDir := filepath.Join(cfg.Integration.WorkDir, "control")
		control, err := materializeControl(ctx, cfg.Integration.ControlRepoURL, controlDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare control repository: %w", err)
		}
		ledger = integrate.NewLedger(control, cfg.Integration.ControlRepoURL,
			cfg.Integration.ControlRepoBranch, cfg.Bot.Name, cfg.Bot.Email, log)
	}

	integrator := &integrate.Integrator{
		Locks:              integrate.NewInMemoryLocks(),
		LockTimeout:        cfg.LockTimeout(),
		Ledger:             ledger,
		Checker:            &jcheck.RuleSet{},
		Census:             cs,
		IgnoreStaleReviews: cfg.Integration.IgnoreStaleReviews,
		BotEmail:           cfg.Bot.Email,
		Materialize:        materializer(cfg.Integration.WorkDir),
		Log:                log,
	}

	env := &environment{
		cfg:        cfg,
		forge:      f,
		census:     cs,
		integrator: integrator,
		check: &bot.CheckRun{
			Census:             cs,
			IgnoreStaleReviews: cfg.Integration.IgnoreStaleReviews,
			Log:                log,
		},
		dispatcher: &command.Dispatcher{
			Registry: command.DefaultRegistry(),
			Log:      log,
		},
		log: log,
	}
	return env, nil
}

// newItem builds the standard reconcile work item for one PR.
func (e *environment) newItem(repo forge.Repository, prID string) bot.WorkItem {
	log := e.log.With().Str("repo", repo.Name()).Str("pr", prID).Logger()
	return bot.NewPullRequestWorkItem(repo, prID, e.check, e.dispatcher,
		func(ctx context.Context, pr forge.PullRequest) (*command.Env, error) {
			comments, err := pr.Comments(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch comments: %w", err)
			}
			return &command.Env{
				PR:         pr,
				Comments:   comments,
				Bot:        repo.Forge().CurrentUser(),
				Census:     e.census,
				Integrator: e.integrator,
				Log:        log,
			}, nil
		}, log)
}

func (e *environment) newPoller(runner *bot.Runner) *bot.Poller {
	names := make([]string, 0, len(e.cfg.Repositories))
	for name := range e.cfg.Repositories {
		names = append(names, name)
	}
	return &bot.Poller{
		Forge:        e.forge,
		Repositories: names,
		Interval:     e.cfg.PollInterval(),
		Limiter:      rate.NewLimiter(rate.Limit(e.cfg.Scheduler.RequestsPerSecond), 1),
		Runner:       runner,
		NewItem:      e.newItem,
		Log:          e.log,
	}
}

// materializer clones (or reuses) a local mirror of the PR's
// repository and checks out the PR head with the target ref fetched.
func materializer(workDir string) func(ctx context.Context, pr forge.PullRequest) (integrate.GitRepo, error) {
	return func(ctx context.Context, pr forge.PullRequest) (integrate.GitRepo, error) {
		repo := pr.Repository()
		dir := filepath.Join(workDir, strings.ReplaceAll(repo.Name(), "/", "-"))
		local, err := vcs.Open(dir)
		if err != nil {
			local, err = vcs.Clone(ctx, repo.URL(), dir)
			if err != nil {
				return nil, fmt.Errorf("failed to clone %s: %w", repo.Name(), err)
			}
		}
		if _, err := local.Fetch(ctx, repo.URL(), pr.TargetRef()); err != nil {
			return nil, fmt.Errorf("failed to fetch target ref: %w", err)
		}
		// GitLab publishes merge request heads under a well-known ref.
		if _, err := local.Fetch(ctx, repo.URL(), "refs/merge-requests/"+pr.ID()+"/head"); err != nil {
			return nil, fmt.Errorf("failed to fetch merge request head: %w", err)
		}
		if err := local.Checkout(ctx, pr.HeadHash()); err != nil {
			return nil, fmt.Errorf("failed to check out merge request head: %w", err)
		}
		return local, nil
	}
}

func materializeControl(ctx context.Context, url, dir string) (*vcs.Repository, error) {
	if local, err := vcs.Open(dir); err == nil {
		return local, nil
	}
	return vcs.Clone(ctx, url, dir)
}
