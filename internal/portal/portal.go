package portal

import (
	"context"

	"github.com/campushq/campus-courier/internal/domain"
)

// Package portal defines the contract of the external portal gateway: the
// service that owns credential validation and the actual content extraction.
// The pipeline treats it as an opaque function of the account's credentials.

// Item is one piece of course material as reported by the gateway, before it
// is keyed to a user.
type Item struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	WeekStart   string `json:"week_start"`
}

// CourseContent is the current full state of one course.
type CourseContent struct {
	Announcement string `json:"announcement"`
	Items        []Item `json:"items"`
}

// Credentials is a portal username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client is the portal gateway surface the workers depend on. Validate
// returns domain.ErrInvalidCredentials when the portal rejects the pair.
type Client interface {
	Validate(ctx context.Context, creds Credentials) error
	FetchCourses(ctx context.Context, creds Credentials) ([]domain.CourseRef, error)
	FetchCourseContent(ctx context.Context, creds Credentials, course domain.CourseRef) (CourseContent, error)
	FetchMailIDs(ctx context.Context, creds Credentials) ([]string, error)
	ForwardMail(ctx context.Context, creds Credentials, mailID, to string) error
}
