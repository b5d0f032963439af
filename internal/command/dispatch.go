package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mergebot/internal/census"
	"github.com/mergebot/internal/forge"
	"github.com/mergebot/internal/integrate"
	"github.com/mergebot/internal/marker"
	"github.com/mergebot/internal/tracker"
	"github.com/mergebot/pkg/models"
)

// Env is the per-pull-request state handlers operate on. Comments is
// the snapshot the dispatcher extracted commands from; handlers that
// replay markers use the same snapshot for consistency.
type Env struct {
	PR         forge.PullRequest
	Comments   []models.Comment
	Bot        models.HostUser
	Census     census.Instance
	Integrator *integrate.Integrator
	Log        zerolog.Logger
}

// Handler processes one named command. Handle writes the user-facing
// reply; a returned error is an operational fault, not a refusal.
type Handler interface {
	Name() string
	Description() string
	AllowedInBody() bool
	Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error
}

// Registry holds the known handlers in help-listing order.
type Registry struct {
	order    []string
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.order = append(r.order, h.Name())
		r.handlers[h.Name()] = h
	}
	return r
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Known(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Dispatcher extracts unprocessed invocations and runs them in order.
type Dispatcher struct {
	Registry *Registry
	Log      zerolog.Logger
}

// pending returns the invocations that have no processed marker yet,
// in PR-body-then-comment order.
func (d *Dispatcher) pending(env *Env) []Invocation {
	processed := tracker.ProcessedCommands(env.Bot, env.Comments)
	var out []Invocation
	for _, inv := range ExtractFromBody(env.PR.ID(), env.PR.Author(), env.PR.Body(), d.Registry.Known) {
		if !processed[inv.ID] {
			out = append(out, inv)
		}
	}
	for _, comment := range env.Comments {
		selfCommand := comment.Author.Equals(env.Bot)
		if selfCommand && !strings.Contains(comment.Body, marker.ValidSelfCommand) {
			continue
		}
		for _, inv := range ExtractFromComment(comment, d.Registry.Known) {
			if selfCommand {
				// Self-commands act on behalf of the PR author, so
				// auto-integration passes the author check.
				inv.User = env.PR.Author()
			}
			if !processed[inv.ID] {
				out = append(out, inv)
			}
		}
	}
	return out
}

// Process runs every pending command and posts one reply comment per
// invocation. Each reply carries the processed marker, so a crash
// between handling and replying means the command runs again; handlers
// are idempotent against the markers they post.
func (d *Dispatcher) Process(ctx context.Context, env *Env) error {
	for _, inv := range d.pending(env) {
		var reply strings.Builder
		handler, _ := d.Registry.Lookup(inv.Name)
		if inv.FromBody && !handler.AllowedInBody() {
			fmt.Fprintf(&reply, "The command `%s` can only be used in pull request comments.", inv.Name)
		} else if err := handler.Handle(ctx, env, inv, &reply); err != nil {
			if isHalting(err) {
				return err
			}
			d.Log.Error().Err(err).
				Str("command", inv.Name).
				Str("pr", env.PR.ID()).
				Msg("command handler failed")
			reply.Reset()
			reply.WriteString("An error occurred while processing this command. " +
				"It has been logged and will be investigated. Feel free to retry the command.")
		}
		body := marker.CommandProcessed(inv.ID) + "\n" +
			"@" + inv.User.Username + " " + strings.TrimRight(reply.String(), "\n") + "\n"
		if _, err := env.PR.AddComment(ctx, body); err != nil {
			return fmt.Errorf("failed to post command reply: %w", err)
		}
		// The reply changes the comment stream; refresh so later
		// commands in this round see the new markers.
		comments, err := env.PR.Comments(ctx)
		if err != nil {
			return fmt.Errorf("failed to refresh comments: %w", err)
		}
		env.Comments = comments
	}
	return nil
}

// isHalting reports whether the error must stop all processing for
// this branch rather than be reported to the command author.
func isHalting(err error) bool {
	var integrity *integrate.IntegrityError
	return errors.As(err, &integrity)
}
