package sinks

import (
	"context"

	"github.com/campushq/campus-courier/internal/bus"
)

// logSink writes every envelope to the logger. Useful in development and as
// a cheap audit trail.
type logSink struct {
	id  string
	typ string
	log Logger
}

func newLogSink(_ context.Context, cfg SinkConfig, log Logger) (Sink, error) {
	return &logSink{id: cfg.ID, typ: TypeLog, log: ensureLogger(log)}, nil
}

func (l *logSink) ID() string   { return l.id }
func (l *logSink) Type() string { return l.typ }

func (l *logSink) Send(_ context.Context, env bus.Envelope) error {
	l.log.InfoObj("envelope mirrored", "sink_log", map[string]any{
		"sink_id": l.id,
		"id":      env.ID,
		"topic":   env.Topic,
		"key":     env.Key,
	})
	return nil
}
