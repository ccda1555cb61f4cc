package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/campushq/campus-courier/internal/bus"
)

type stubSink struct {
	id    string
	typ   string
	err   error
	calls int
}

func (s *stubSink) ID() string   { return s.id }
func (s *stubSink) Type() string { return s.typ }

func (s *stubSink) Send(_ context.Context, _ bus.Envelope) error {
	s.calls++
	return s.err
}

func testEnvelope(t *testing.T) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope("user-events", "alice", map[string]string{"username": "alice"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestFanoutPublishesToAllSinks(t *testing.T) {
	a := &stubSink{id: "a", typ: TypeLog}
	b := &stubSink{id: "b", typ: TypeLog}
	f := NewFanout([]Sink{a, nil, b})

	n, err := f.Publish(context.Background(), testEnvelope(t))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 2 {
		t.Fatalf("successful = %d, want 2", n)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d", a.calls, b.calls)
	}
}

func TestFanoutCollectsFailures(t *testing.T) {
	a := &stubSink{id: "a", typ: TypeHTTP, err: errors.New("endpoint down")}
	b := &stubSink{id: "b", typ: TypeLog}
	f := NewFanout([]Sink{a, b})

	n, err := f.Publish(context.Background(), testEnvelope(t))
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if n != 1 {
		t.Fatalf("successful = %d, want 1", n)
	}
	if b.calls != 1 {
		t.Fatalf("healthy sink skipped")
	}
}

func TestFanoutEmpty(t *testing.T) {
	f := NewFanout(nil)
	n, err := f.Publish(context.Background(), testEnvelope(t))
	if err != nil || n != 0 {
		t.Fatalf("empty fanout: n=%d err=%v", n, err)
	}
	if f.Size() != 0 {
		t.Fatalf("Size = %d", f.Size())
	}
}
