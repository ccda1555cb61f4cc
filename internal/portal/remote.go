package portal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/campushq/campus-courier/internal/domain"
)

// RemoteClient talks to the portal gateway's JSON API. Calls are rate limited
// so concurrent scrape workers cannot hammer the upstream portal through the
// gateway.
type RemoteClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// RemoteOptions configures the gateway client.
type RemoteOptions struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// NewRemoteClient builds a gateway client.
func NewRemoteClient(opts RemoteOptions) (*RemoteClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("portal base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	c := resty.New()
	c.SetBaseURL(base)
	c.SetTimeout(opts.Timeout)

	return &RemoteClient{
		client:  c,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
	}, nil
}

func (r *RemoteClient) post(ctx context.Context, path string, body, result any) (*resty.Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("portal request %s: %w", path, err)
	}
	return resp, nil
}

// Validate checks the credential pair against the portal.
func (r *RemoteClient) Validate(ctx context.Context, creds Credentials) error {
	resp, err := r.post(ctx, "/v1/validate", creds, nil)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return domain.ErrInvalidCredentials
	case resp.IsError():
		return fmt.Errorf("portal validate status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	return nil
}

// FetchCourses returns the account's current course list.
func (r *RemoteClient) FetchCourses(ctx context.Context, creds Credentials) ([]domain.CourseRef, error) {
	var out struct {
		Courses []domain.CourseRef `json:"courses"`
	}
	resp, err := r.post(ctx, "/v1/courses", creds, &out)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return nil, domain.ErrInvalidCredentials
	case resp.IsError():
		return nil, fmt.Errorf("portal courses status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	return out.Courses, nil
}

// FetchCourseContent returns the full current content of one course.
func (r *RemoteClient) FetchCourseContent(ctx context.Context, creds Credentials, course domain.CourseRef) (CourseContent, error) {
	body := struct {
		Credentials
		CourseID string `json:"course_id"`
		Semester string `json:"semester"`
	}{Credentials: creds, CourseID: course.ID, Semester: course.Semester}

	var out CourseContent
	resp, err := r.post(ctx, "/v1/course-content", body, &out)
	if err != nil {
		return CourseContent{}, err
	}
	if resp.IsError() {
		return CourseContent{}, fmt.Errorf("portal course content status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	return out, nil
}

// FetchMailIDs returns the ids of every mail currently in the portal inbox.
func (r *RemoteClient) FetchMailIDs(ctx context.Context, creds Credentials) ([]string, error) {
	var out struct {
		MailIDs []string `json:"mail_ids"`
	}
	resp, err := r.post(ctx, "/v1/mail", creds, &out)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("portal mail status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	return out.MailIDs, nil
}

// ForwardMail asks the gateway to forward one portal mail to an external address.
func (r *RemoteClient) ForwardMail(ctx context.Context, creds Credentials, mailID, to string) error {
	body := struct {
		Credentials
		MailID string `json:"mail_id"`
		To     string `json:"to"`
	}{Credentials: creds, MailID: mailID, To: to}

	resp, err := r.post(ctx, "/v1/mail/forward", body, nil)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("portal forward status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	return nil
}

func bodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
