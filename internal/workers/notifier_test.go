package workers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/campushq/campus-courier/internal/domain"
)

func TestEmailNotifierSendsOnce(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	mail := &fakeMail{}
	n := NewEmailNotifier(store, mail, nil)
	ev := exportEvent("alice", "/a")

	if err := n.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := n.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if mail.count() != 1 {
		t.Fatalf("sent = %d, want 1", mail.count())
	}
	if !strings.Contains(mail.sent[0], "New lecture in CSEN 701") {
		t.Fatalf("sent[0] = %s", mail.sent[0])
	}
}

func TestEmailNotifierIndependentOfTrackerLedger(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(trackerAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	// The exporter has already handled this item; the notifier's own ledger
	// namespace must not see that entry.
	tk := &fakeTracker{}
	e := NewTaskExporter(store, tk, nil)
	ev := exportEvent("alice", "/a")
	if err := e.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("exporter: %v", err)
	}

	mail := &fakeMail{}
	n := NewEmailNotifier(store, mail, nil)
	if err := n.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if mail.count() != 1 {
		t.Fatalf("sent = %d, want 1", mail.count())
	}
}

func TestEmailNotifierHonorsPreference(t *testing.T) {
	store := newTestStore(t)
	account := testAccount("alice")
	account.Preferences.CourseItems = false
	if err := store.PutAccount(account); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	mail := &fakeMail{}
	n := NewEmailNotifier(store, mail, nil)
	if err := n.Handle(context.Background(), itemEnvelope(t, exportEvent("alice", "/a"))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mail.count() != 0 {
		t.Fatalf("sent despite disabled preference")
	}
}

func TestEmailNotifierFailedSendRetries(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	mail := &fakeMail{sendErr: errors.New("smtp down")}
	n := NewEmailNotifier(store, mail, nil)
	ev := exportEvent("alice", "/a")

	if err := n.Handle(context.Background(), itemEnvelope(t, ev)); err == nil {
		t.Fatalf("expected error from failed send")
	}

	mail.sendErr = nil
	if err := n.Handle(context.Background(), itemEnvelope(t, ev)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if mail.count() != 1 {
		t.Fatalf("sent = %d, want 1", mail.count())
	}
}

func TestEmailNotifierMalformedEvent(t *testing.T) {
	store := newTestStore(t)
	n := NewEmailNotifier(store, &fakeMail{}, nil)

	env := itemEnvelope(t, exportEvent("alice", "/a"))
	env.Body = []byte(`{"username":"alice","item":{}}`)
	if err := n.Handle(context.Background(), env); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}
