package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mergebot/internal/forge"
)

// Server receives forge webhook deliveries and turns them into work
// items. Deliveries are at-least-once; the work items are full
// reconciles, so duplicates are harmless.
type Server struct {
	echo    *echo.Echo
	port    int
	secret  string
	forge   forge.Forge
	runner  *Runner
	newItem func(repo forge.Repository, prID string) WorkItem
	log     zerolog.Logger
}

func NewServer(port int, secret string, f forge.Forge, runner *Runner,
	newItem func(repo forge.Repository, prID string) WorkItem, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		port:    port,
		secret:  secret,
		forge:   f,
		runner:  runner,
		newItem: newItem,
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.echo.POST("/webhook/gitlab", s.handleGitLab)
}

// mergeRequestEvent is the subset of the GitLab webhook payload the
// bot needs to locate the pull request.
type mergeRequestEvent struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes struct {
		IID int `json:"iid"`
	} `json:"object_attributes"`
	// Note events reference the merge request separately.
	MergeRequest struct {
		IID int `json:"iid"`
	} `json:"merge_request"`
}

func (e *mergeRequestEvent) iid() int {
	if e.ObjectAttributes.IID != 0 && e.ObjectKind == "merge_request" {
		return e.ObjectAttributes.IID
	}
	return e.MergeRequest.IID
}

func (s *Server) handleGitLab(c echo.Context) error {
	if s.secret != "" && c.Request().Header.Get("X-Gitlab-Token") != s.secret {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid webhook token"})
	}

	var event mergeRequestEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	}
	if event.ObjectKind != "merge_request" && event.ObjectKind != "note" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if event.Project.PathWithNamespace == "" || event.iid() == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing project or merge request id"})
	}

	repo, err := s.forge.Repository(c.Request().Context(), event.Project.PathWithNamespace)
	if err != nil {
		s.log.Error().Err(err).Str("repo", event.Project.PathWithNamespace).Msg("unknown repository in webhook")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown repository"})
	}
	s.runner.Submit(s.newItem(repo, fmt.Sprintf("%d", event.iid())))

	return c.JSON(http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// Start runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
