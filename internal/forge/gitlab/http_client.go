package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// httpClient is a small GitLab API client for the endpoints the bot
// needs. The official client is kept for connection setup and URL
// validation; direct requests avoid its endpoint quirks for the note
// and approval listings.
type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPClient(baseURL, token string) *httpClient {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &httpClient{
		baseURL: fmt.Sprintf("%s/api/v4", baseURL),
		token:   token,
		client:  &http.Client{},
	}
}

type glUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type glMergeRequest struct {
	IID          int      `json:"iid"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	State        string   `json:"state"`
	SHA          string   `json:"sha"`
	TargetBranch string   `json:"target_branch"`
	Labels       []string `json:"labels"`
	Author       glUser   `json:"author"`
	WebURL       string   `json:"web_url"`
}

type glNote struct {
	ID        int    `json:"id"`
	Body      string `json:"body"`
	Author    glUser `json:"author"`
	CreatedAt string `json:"created_at"`
	System    bool   `json:"system"`
}

type glApproval struct {
	User      glUser `json:"user"`
	CreatedAt string `json:"created_at"`
}

type glApprovals struct {
	ApprovedBy []glApproval `json:"approved_by"`
}

type glBranch struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

func (c *httpClient) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *httpClient) currentUser(ctx context.Context) (glUser, error) {
	var user glUser
	err := c.do(ctx, http.MethodGet, "/user", nil, &user)
	return user, err
}

func (c *httpClient) mergeRequest(ctx context.Context, projectID string, iid int) (*glMergeRequest, error) {
	var mr glMergeRequest
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d", url.PathEscape(projectID), iid)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *httpClient) openMergeRequests(ctx context.Context, projectID string) ([]glMergeRequest, error) {
	var all []glMergeRequest
	for page := 1; ; page++ {
		var batch []glMergeRequest
		endpoint := fmt.Sprintf("/projects/%s/merge_requests?state=opened&per_page=100&page=%d",
			url.PathEscape(projectID), page)
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

func (c *httpClient) updateMergeRequest(ctx context.Context, projectID string, iid int, payload map[string]string) error {
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d", url.PathEscape(projectID), iid)
	return c.do(ctx, http.MethodPut, endpoint, payload, nil)
}

func (c *httpClient) notes(ctx context.Context, projectID string, iid int) ([]glNote, error) {
	var all []glNote
	for page := 1; ; page++ {
		var batch []glNote
		endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d/notes?sort=asc&order_by=created_at&per_page=100&page=%d",
			url.PathEscape(projectID), iid, page)
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

func (c *httpClient) createNote(ctx context.Context, projectID string, iid int, body string) (*glNote, error) {
	var note glNote
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", url.PathEscape(projectID), iid)
	if err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *httpClient) approvals(ctx context.Context, projectID string, iid int) (*glApprovals, error) {
	var approvals glApprovals
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d/approvals", url.PathEscape(projectID), iid)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &approvals); err != nil {
		return nil, err
	}
	return &approvals, nil
}

func (c *httpClient) branch(ctx context.Context, projectID, name string) (*glBranch, error) {
	var branch glBranch
	endpoint := fmt.Sprintf("/projects/%s/repository/branches/%s", url.PathEscape(projectID), url.PathEscape(name))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func itoa(i int) string { return strconv.Itoa(i) }
