package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/campushq/campus-courier/internal/domain"
)

func TestMailScraperForwardsUnseenOnly(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	p := &fakePortal{mailIDs: []string{"m1", "m2"}}
	s := NewMailScraper(store, p, nil)

	if err := s.Handle(context.Background(), userEnvelope(t, "alice")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(p.forwarded) != 2 {
		t.Fatalf("forwarded = %v", p.forwarded)
	}

	// Replay forwards nothing; m3 appearing later is forwarded once.
	p.mailIDs = []string{"m1", "m2", "m3"}
	if err := s.Handle(context.Background(), userEnvelope(t, "alice")); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(p.forwarded) != 3 {
		t.Fatalf("forwarded after replay = %v", p.forwarded)
	}
	if p.forwarded[2] != "m3->alice@student.edu" {
		t.Fatalf("forwarded[2] = %s", p.forwarded[2])
	}
}

func TestMailScraperFailedForwardRetries(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	p := &fakePortal{mailIDs: []string{"m1"}, forwardErr: errors.New("gateway 502")}
	s := NewMailScraper(store, p, nil)

	if err := s.Handle(context.Background(), userEnvelope(t, "alice")); err == nil {
		t.Fatalf("expected error from failed forward")
	}

	// Not recorded as seen, so the redelivery forwards it.
	p.forwardErr = nil
	if err := s.Handle(context.Background(), userEnvelope(t, "alice")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(p.forwarded) != 1 {
		t.Fatalf("forwarded = %v", p.forwarded)
	}
}

func TestMailScraperHonorsPreference(t *testing.T) {
	store := newTestStore(t)
	account := testAccount("alice")
	account.Preferences.Mails = false
	if err := store.PutAccount(account); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	p := &fakePortal{mailIDs: []string{"m1"}}
	s := NewMailScraper(store, p, nil)
	if err := s.Handle(context.Background(), userEnvelope(t, "alice")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(p.forwarded) != 0 {
		t.Fatalf("forwarded despite disabled preference: %v", p.forwarded)
	}
}

func TestMailScraperMalformedEvent(t *testing.T) {
	store := newTestStore(t)
	s := NewMailScraper(store, &fakePortal{}, nil)

	env := userEnvelope(t, "alice")
	env.Body = []byte(`{"username":""}`)
	if err := s.Handle(context.Background(), env); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}
