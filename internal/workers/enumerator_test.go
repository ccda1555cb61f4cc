package workers

import (
	"context"
	"testing"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
)

func TestEnumeratorPublishesEveryAccountAcrossPages(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := store.PutAccount(testAccount(u)); err != nil {
			t.Fatalf("PutAccount(%s): %v", u, err)
		}
	}

	e := NewEnumerator(store, mustTopic(t, b, bus.TopicUserEvents), 2, nil, nil)
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		d := receiveOne(t, b, bus.QueueCourseScrape)
		var ev domain.UserEvent
		if err := d.Envelope.Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		seen[ev.Username] = true
		_ = d.Ack(context.Background())
	}
	expectEmpty(t, b, bus.QueueCourseScrape)

	for _, u := range []string{"alice", "bob", "carol"} {
		if !seen[u] {
			t.Fatalf("no event for %s", u)
		}
	}
}

func TestEnumeratorFansOutToBothScrapeQueues(t *testing.T) {
	store := newTestStore(t)
	b := newTestBus(t)
	if err := store.PutAccount(testAccount("alice")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	e := NewEnumerator(store, mustTopic(t, b, bus.TopicUserEvents), 0, nil, nil)
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, q := range []string{bus.QueueCourseScrape, bus.QueueMailScrape} {
		d := receiveOne(t, b, q)
		var ev domain.UserEvent
		if err := d.Envelope.Decode(&ev); err != nil {
			t.Fatalf("decode on %s: %v", q, err)
		}
		if ev.Username != "alice" {
			t.Fatalf("username on %s = %s", q, ev.Username)
		}
		_ = d.Ack(context.Background())
	}
}
