package sinks

import (
	"context"

	"github.com/campushq/campus-courier/internal/bus"
)

// Sink forwards published envelopes to an out-of-band destination (HTTP
// endpoint, external broker). Sinks mirror bus traffic; they never affect
// queue delivery.
type Sink interface {
	ID() string
	Type() string
	Send(ctx context.Context, env bus.Envelope) error
}
