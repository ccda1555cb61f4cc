package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/campushq/campus-courier/internal/domain"
)

func exportEvent(username, url string) domain.CourseItemEvent {
	return domain.CourseItemEvent{
		Username: username,
		Item: domain.CourseItem{
			Username: username,
			URL:      url,
			Title:    "Lecture 1",
			Type:     "lecture",
			CourseID: "c1",
		},
		Course: domain.CourseRef{ID: "c1", Code: "CSEN 701"},
	}
}

func trackerAccount(username string) domain.Account {
	a := testAccount(username)
	a.TrackerToken = "tok-1"
	a.TrackerExport = true
	a.TrackerProjectID = "proj-1"
	a.CourseSectionIDs = map[string]string{"c1": "sec-1"}
	return a
}

func TestTaskExporterCreatesTaskOnce(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(trackerAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	tk := &fakeTracker{}
	e := NewTaskExporter(store, tk, nil)
	ev := exportEvent("alice", "/a")

	if err := e.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// At-least-once redelivery of the same event is absorbed by the ledger.
	if err := e.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(tk.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tk.tasks))
	}
	task := tk.tasks[0]
	if task.Content != "[Lecture 1](/a)" {
		t.Fatalf("content = %s", task.Content)
	}
	if task.ProjectID != "proj-1" || task.SectionID != "sec-1" {
		t.Fatalf("task routing = %#v", task)
	}
	if len(task.Labels) != 1 || task.Labels[0] != "lecture" {
		t.Fatalf("labels = %v", task.Labels)
	}
}

func TestTaskExporterFailedCreateRetries(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(trackerAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	tk := &fakeTracker{taskErr: errors.New("tracker 500")}
	e := NewTaskExporter(store, tk, nil)
	ev := exportEvent("alice", "/a")

	if err := e.Handle(context.Background(), itemEnvelope(t, ev)); err == nil {
		t.Fatalf("expected error from failed create")
	}

	// No ledger entry was written, so the redelivery succeeds.
	tk.taskErr = nil
	if err := e.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(tk.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tk.tasks))
	}
}

func TestTaskExporterSkipsAccountsWithoutExport(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	tk := &fakeTracker{}
	e := NewTaskExporter(store, tk, nil)
	if err := e.Handle(context.Background(), itemEnvelope(t, exportEvent("alice", "/a"))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(tk.tasks) != 0 {
		t.Fatalf("task created for non-export account")
	}
}

func TestTaskExporterMalformedEvent(t *testing.T) {
	store := newTestStore(t)
	e := NewTaskExporter(store, &fakeTracker{}, nil)

	env := itemEnvelope(t, exportEvent("alice", "/a"))
	env.Body = []byte("{")
	if err := e.Handle(context.Background(), env); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}
