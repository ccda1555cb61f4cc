package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/campushq/campus-courier/internal/bus"
)

// Fanout dispatches envelopes to all configured sinks.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a dispatcher that fans envelopes out across sinks.
func NewFanout(all []Sink) *Fanout {
	cp := make([]Sink, 0, len(all))
	for _, s := range all {
		if s == nil {
			continue
		}
		cp = append(cp, s)
	}
	return &Fanout{sinks: cp}
}

// Publish forwards the envelope to every registered sink.
// It returns the number of sinks that successfully handled the envelope.
func (f *Fanout) Publish(ctx context.Context, env bus.Envelope) (int, error) {
	if f == nil || len(f.sinks) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, s := range f.sinks {
		if err := s.Send(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("%s sink[%s]: %w", s.Type(), s.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Send satisfies bus.MirrorSender.
func (f *Fanout) Send(ctx context.Context, env bus.Envelope) error {
	_, err := f.Publish(ctx, env)
	return err
}

// Size returns the number of active sinks.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}
