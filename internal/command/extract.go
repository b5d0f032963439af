// Package command implements the slash-command surface of the bot:
// extracting invocations from comment bodies, dispatching them to
// handlers with per-command authorization, and replying with a
// processed marker so no command runs twice.
package command

import (
	"fmt"
	"strings"

	"github.com/mergebot/pkg/models"
)

// Invocation is one command occurrence. ID is stable across runs so
// processed markers can refer back to it.
type Invocation struct {
	ID       string
	Name     string
	Args     string
	Body     []string
	User     models.HostUser
	FromBody bool
}

// commandLine matches "/name rest" at the start of a line. Only names
// present in the registry count; anything else is left alone so code
// snippets containing slashes are not swallowed.
func commandLine(line string, known func(name string) bool) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	rest := trimmed[1:]
	name, args, _ = strings.Cut(rest, " ")
	name = strings.ToLower(name)
	if name == "" || !known(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

// extract pulls all invocations out of one body. Multi-line commands
// capture every following line until the next command or end of body.
func extract(idPrefix string, user models.HostUser, body string, fromBody bool, known func(string) bool) []Invocation {
	var out []Invocation
	var current *Invocation
	for _, line := range strings.Split(body, "\n") {
		if name, args, ok := commandLine(line, known); ok {
			if current != nil {
				out = append(out, *current)
			}
			current = &Invocation{
				ID:       fmt.Sprintf("%s-%d", idPrefix, len(out)),
				Name:     name,
				Args:     args,
				User:     user,
				FromBody: fromBody,
			}
			continue
		}
		if current != nil {
			current.Body = append(current.Body, line)
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

// ExtractFromComment returns the invocations in one comment.
func ExtractFromComment(comment models.Comment, known func(string) bool) []Invocation {
	return extract(comment.ID, comment.Author, comment.Body, false, known)
}

// ExtractFromBody returns the invocations in the pull request
// description, attributed to the PR author.
func ExtractFromBody(prID string, author models.HostUser, body string, known func(string) bool) []Invocation {
	return extract("body-"+prID, author, body, true, known)
}
