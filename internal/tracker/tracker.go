package tracker

import "context"

// Package tracker defines the task-tracker surface the pipeline pushes course
// items into. Tokens are per-account; one client serves all users.

// Task is one item to be created in the tracker.
type Task struct {
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	SectionID   string   `json:"section_id,omitempty"`
	DueString   string   `json:"due_string,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Client is the tracker API surface. CreateProject and CreateSection are used
// once at registration to provision the account's workspace; CreateTask is
// the hot path.
type Client interface {
	CreateProject(ctx context.Context, token, name string) (projectID string, err error)
	CreateSection(ctx context.Context, token, projectID, name string) (sectionID string, err error)
	CreateTask(ctx context.Context, token string, task Task) error
}
