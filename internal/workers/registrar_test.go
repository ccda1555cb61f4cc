package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
)

func TestRegisterProvisionsAndPublishes(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	p := &fakePortal{courses: []domain.CourseRef{
		{ID: "c1", Code: "CSEN 701"},
		{ID: "c2", Code: "MATH 203"},
	}}
	tk := &fakeTracker{}

	r := NewRegistrar(p, tk, store, mustTopic(t, b, bus.TopicUserEvents), nil, nil)
	account, err := r.Register(context.Background(), RegistrationInput{
		Username:      "alice",
		Password:      "secret",
		Email:         "alice@student.edu",
		TrackerToken:  "tok-1",
		TrackerExport: true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if account.TrackerProjectID == "" {
		t.Fatalf("no tracker project provisioned")
	}
	if len(account.CourseSectionIDs) != 2 {
		t.Fatalf("sections = %v", account.CourseSectionIDs)
	}
	if !account.Preferences.Announcements || !account.Preferences.Mails {
		t.Fatalf("default preferences not applied: %#v", account.Preferences)
	}

	stored, err := store.GetAccount("alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if stored.TrackerProjectID != account.TrackerProjectID {
		t.Fatalf("stored account differs: %#v", stored)
	}

	// Registration triggers the first collection without waiting for a sweep.
	d := receiveOne(t, b, bus.QueueCourseScrape)
	var ev domain.UserEvent
	if err := d.Envelope.Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Username != "alice" {
		t.Fatalf("username = %s", ev.Username)
	}
}

func TestRegisterRejectedCredentialsLeaveNoTrace(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	p := &fakePortal{coursesErr: domain.ErrInvalidCredentials}
	tk := &fakeTracker{}

	r := NewRegistrar(p, tk, store, mustTopic(t, b, bus.TopicUserEvents), nil, nil)
	_, err := r.Register(context.Background(), RegistrationInput{
		Username:      "alice",
		Password:      "wrong",
		Email:         "alice@student.edu",
		TrackerToken:  "tok-1",
		TrackerExport: true,
	})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	if _, err := store.GetAccount("alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("account stored despite rejected credentials")
	}
	if len(tk.projects) != 0 {
		t.Fatalf("tracker provisioned despite rejected credentials")
	}
	expectEmpty(t, b, bus.QueueCourseScrape)
}

func TestRegisterTrackerFailureLeavesNoAccount(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	p := &fakePortal{courses: []domain.CourseRef{{ID: "c1", Code: "CSEN 701"}}}
	tk := &fakeTracker{projectErr: errors.New("tracker unavailable")}

	r := NewRegistrar(p, tk, store, mustTopic(t, b, bus.TopicUserEvents), nil, nil)
	_, err := r.Register(context.Background(), RegistrationInput{
		Username:      "alice",
		Password:      "secret",
		Email:         "alice@student.edu",
		TrackerToken:  "tok-1",
		TrackerExport: true,
	})
	if err == nil {
		t.Fatalf("expected provisioning error")
	}
	if _, err := store.GetAccount("alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("account stored despite provisioning failure")
	}
}

func TestRegisterMissingFields(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	r := NewRegistrar(&fakePortal{}, &fakeTracker{}, store, mustTopic(t, b, bus.TopicUserEvents), nil, nil)

	_, err := r.Register(context.Background(), RegistrationInput{Username: "alice"})
	if !errors.Is(err, domain.ErrMissingFields) {
		t.Fatalf("err = %v, want ErrMissingFields", err)
	}
}

func TestRegisterWithoutTrackerTokenSkipsProvisioning(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	p := &fakePortal{courses: []domain.CourseRef{{ID: "c1"}}}
	tk := &fakeTracker{}

	r := NewRegistrar(p, tk, store, mustTopic(t, b, bus.TopicUserEvents), nil, nil)
	account, err := r.Register(context.Background(), RegistrationInput{
		Username:      "bob",
		Password:      "secret",
		Email:         "bob@student.edu",
		TrackerExport: true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if account.TrackerExport {
		t.Fatalf("export enabled without a token")
	}
	if len(tk.projects) != 0 {
		t.Fatalf("tracker called without a token")
	}
}
