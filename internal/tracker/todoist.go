package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TodoistClient implements Client against the Todoist REST API.
type TodoistClient struct {
	client *resty.Client
}

// NewTodoistClient builds a tracker client for the given API base URL.
func NewTodoistClient(baseURL string, timeout time.Duration) (*TodoistClient, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("tracker base url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := resty.New()
	c.SetBaseURL(base)
	c.SetTimeout(timeout)

	return &TodoistClient{client: c}, nil
}

func (t *TodoistClient) post(ctx context.Context, token, path string, body, result any) error {
	req := t.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("tracker request %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("tracker status %d: %s", resp.StatusCode(), snippet(resp.Body()))
	}
	return nil
}

// CreateProject creates a project and returns its id.
func (t *TodoistClient) CreateProject(ctx context.Context, token, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"name": name}
	if err := t.post(ctx, token, "/projects", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("tracker returned project without id")
	}
	return out.ID, nil
}

// CreateSection creates a section inside a project and returns its id.
func (t *TodoistClient) CreateSection(ctx context.Context, token, projectID, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"name": name, "project_id": projectID}
	if err := t.post(ctx, token, "/sections", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("tracker returned section without id")
	}
	return out.ID, nil
}

// CreateTask creates one task.
func (t *TodoistClient) CreateTask(ctx context.Context, token string, task Task) error {
	return t.post(ctx, token, "/tasks", task, nil)
}

func snippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
