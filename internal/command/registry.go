package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergebot/pkg/models"
)

// DefaultRegistry contains every command the bot understands.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&HelpHandler{},
		&IntegrateHandler{},
		&SponsorHandler{},
		&ContributorHandler{},
		&ReviewerHandler{},
		&ReviewersHandler{},
		&SummaryHandler{},
		&IssueHandler{name: "issue"},
		&IssueHandler{name: "solves"},
		&LabelHandler{},
		&AuthorHandler{},
		&VetoHandler{name: "reject"},
		&VetoHandler{name: "allow"},
		&OpenHandler{},
	)
}

func isPRAuthor(env *Env, user models.HostUser) bool {
	return env.PR.Author().Equals(user)
}

// HelpHandler lists the available commands.
type HelpHandler struct{}

func (h *HelpHandler) Name() string        { return "help" }
func (h *HelpHandler) Description() string { return "shows this text" }
func (h *HelpHandler) AllowedInBody() bool { return false }

func (h *HelpHandler) Handle(ctx context.Context, env *Env, inv Invocation, reply *strings.Builder) error {
	reply.WriteString("Available commands:\n")
	registry := DefaultRegistry()
	for _, name := range registry.Names() {
		handler, _ := registry.Lookup(name)
		fmt.Fprintf(reply, " * `/%s` - %s\n", name, handler.Description())
	}
	return nil
}
