package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mergebot/internal/command"
	"github.com/mergebot/internal/forge"
)

// WorkItem is one schedulable unit. Items with the same Key reconcile
// the same pull request and must never run concurrently.
type WorkItem interface {
	ID() string
	Key() string
	Run(ctx context.Context) error
}

// ConcurrentWith reports whether two items may be in flight together.
func ConcurrentWith(a, b WorkItem) bool {
	return a.Key() != b.Key()
}

// Runner executes work items on a bounded worker pool, serializing
// items that share a key. Because every run is a full reconcile, at
// most one item per key is kept waiting; extra submissions collapse
// into it.
type Runner struct {
	log   zerolog.Logger
	group *errgroup.Group
	ctx   context.Context
	slots chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
	deferred map[string]WorkItem
}

func NewRunner(ctx context.Context, workers int, log zerolog.Logger) *Runner {
	group, ctx := errgroup.WithContext(ctx)
	return &Runner{
		log:      log,
		group:    group,
		ctx:      ctx,
		slots:    make(chan struct{}, workers),
		inFlight: make(map[string]bool),
		deferred: make(map[string]WorkItem),
	}
}

// Submit schedules an item. Safe to call from any goroutine.
func (r *Runner) Submit(item WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[item.Key()] {
		r.deferred[item.Key()] = item
		return
	}
	r.start(item)
}

// start assumes r.mu is held. The worker limit is a semaphore taken
// inside the goroutine rather than errgroup's SetLimit: with SetLimit,
// Go blocks on a full pool, and a completing worker restarting a
// deferred item while holding r.mu would wedge the whole runner.
func (r *Runner) start(item WorkItem) {
	r.inFlight[item.Key()] = true
	r.group.Go(func() error {
		select {
		case r.slots <- struct{}{}:
			log := r.log.With().Str("item", item.ID()).Str("key", item.Key()).Logger()
			if err := item.Run(r.ctx); err != nil {
				// The item will be rebuilt on the next poll round;
				// errors here are operational, not a reason to stop
				// the pool.
				log.Error().Err(err).Msg("work item failed")
			}
			<-r.slots
		case <-r.ctx.Done():
		}
		r.mu.Lock()
		delete(r.inFlight, item.Key())
		if next, ok := r.deferred[item.Key()]; ok {
			delete(r.deferred, item.Key())
			r.start(next)
		}
		r.mu.Unlock()
		return nil
	})
}

// Wait blocks until all in-flight and deferred items have finished.
func (r *Runner) Wait() error {
	return r.group.Wait()
}

// PullRequestWorkItem reconciles one pull request: a check round
// followed by a command dispatch round.
type PullRequestWorkItem struct {
	id         string
	Repository forge.Repository
	PRID       string
	Check      *CheckRun
	Dispatcher *command.Dispatcher
	NewEnv     func(ctx context.Context, pr forge.PullRequest) (*command.Env, error)
	Log        zerolog.Logger
}

func NewPullRequestWorkItem(repo forge.Repository, prID string, check *CheckRun,
	dispatcher *command.Dispatcher, newEnv func(ctx context.Context, pr forge.PullRequest) (*command.Env, error),
	log zerolog.Logger) *PullRequestWorkItem {
	return &PullRequestWorkItem{
		id:         uuid.NewString(),
		Repository: repo,
		PRID:       prID,
		Check:      check,
		Dispatcher: dispatcher,
		NewEnv:     newEnv,
		Log:        log,
	}
}

func (w *PullRequestWorkItem) ID() string { return w.id }

func (w *PullRequestWorkItem) Key() string {
	return w.Repository.Name() + "#" + w.PRID
}

func (w *PullRequestWorkItem) Run(ctx context.Context) error {
	pr, err := w.Repository.PullRequest(ctx, w.PRID)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request %s: %w", w.Key(), err)
	}
	bot := w.Repository.Forge().CurrentUser()

	if _, err := w.Check.Run(ctx, pr, bot); err != nil {
		return fmt.Errorf("check round failed for %s: %w", w.Key(), err)
	}

	env, err := w.NewEnv(ctx, pr)
	if err != nil {
		return err
	}
	if err := w.Dispatcher.Process(ctx, env); err != nil {
		return fmt.Errorf("command round failed for %s: %w", w.Key(), err)
	}
	return nil
}
