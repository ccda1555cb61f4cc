package workers

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/portal"
	"github.com/campushq/campus-courier/internal/storage"
	"github.com/campushq/campus-courier/internal/tracker"
)

// Shared fakes and fixtures for the worker tests. The store is the real
// bbolt-backed one; only the external collaborators are faked.

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "courier.db"), storage.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBus(t *testing.T) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemory(bus.DefaultTopology(), nil)
	t.Cleanup(func() { b.Close() })
	return b
}

func mustTopic(t *testing.T, b bus.Bus, name string) bus.Topic {
	t.Helper()
	topic, err := b.Topic(name)
	if err != nil {
		t.Fatalf("Topic(%s): %v", name, err)
	}
	return topic
}

func receiveOne(t *testing.T, b bus.Bus, queue string) *bus.Delivery {
	t.Helper()
	q, err := b.Queue(queue)
	if err != nil {
		t.Fatalf("Queue(%s): %v", queue, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive(%s): %v", queue, err)
	}
	return d
}

func expectEmpty(t *testing.T, b bus.Bus, queue string) {
	t.Helper()
	q, err := b.Queue(queue)
	if err != nil {
		t.Fatalf("Queue(%s): %v", queue, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if d, err := q.Receive(ctx); err == nil {
		t.Fatalf("queue %s not empty, got envelope %s", queue, d.Envelope.ID)
	}
}

func userEnvelope(t *testing.T, username string) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(bus.TopicUserEvents, username, domain.UserEvent{Username: username})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func itemEnvelope(t *testing.T, ev domain.CourseItemEvent) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(bus.TopicCourseItemEvents, ev.Item.DedupKey(), ev)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func testAccount(username string) domain.Account {
	return domain.Account{
		Username:    username,
		Password:    "secret",
		Email:       username + "@student.edu",
		Courses:     []domain.CourseRef{{ID: "c1", Code: "CSEN 701", Name: "Embedded Systems"}},
		Preferences: domain.DefaultPreferences(),
	}
}

type fakePortal struct {
	mu        sync.Mutex
	courses   []domain.CourseRef
	content   map[string]portal.CourseContent
	mailIDs   []string
	forwarded []string

	coursesErr error
	contentErr error
	forwardErr error
}

func (f *fakePortal) Validate(ctx context.Context, creds portal.Credentials) error {
	return f.coursesErr
}

func (f *fakePortal) FetchCourses(ctx context.Context, creds portal.Credentials) ([]domain.CourseRef, error) {
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	return f.courses, nil
}

func (f *fakePortal) FetchCourseContent(ctx context.Context, creds portal.Credentials, course domain.CourseRef) (portal.CourseContent, error) {
	if f.contentErr != nil {
		return portal.CourseContent{}, f.contentErr
	}
	return f.content[course.ID], nil
}

func (f *fakePortal) FetchMailIDs(ctx context.Context, creds portal.Credentials) ([]string, error) {
	return f.mailIDs, nil
}

func (f *fakePortal) ForwardMail(ctx context.Context, creds portal.Credentials, mailID, to string) error {
	if f.forwardErr != nil {
		return f.forwardErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, mailID+"->"+to)
	return nil
}

type fakeTracker struct {
	mu       sync.Mutex
	projects []string
	sections []string
	tasks    []tracker.Task

	projectErr error
	taskErr    error
}

func (f *fakeTracker) CreateProject(ctx context.Context, token, name string) (string, error) {
	if f.projectErr != nil {
		return "", f.projectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, name)
	return fmt.Sprintf("proj-%d", len(f.projects)), nil
}

func (f *fakeTracker) CreateSection(ctx context.Context, token, projectID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections = append(f.sections, name)
	return fmt.Sprintf("sec-%d", len(f.sections)), nil
}

func (f *fakeTracker) CreateTask(ctx context.Context, token string, task tracker.Task) error {
	if f.taskErr != nil {
		return f.taskErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeMail struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeMail) Send(ctx context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+": "+subject)
	return nil
}

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
