package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Package bus implements the notification fan-out: topics that copy every
// published envelope to each subscribed queue, and queues with per-message
// visibility leases. Delivery is at-least-once on every backend.

// Envelope wraps a domain event for transport. Key is the stable dedup
// identity consumers use to suppress duplicate side effects.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	Body        json.RawMessage `json:"body"`
	PublishedAt time.Time       `json:"published_at"`

	// Deliveries is the receive count of this copy, set by the queue on
	// receive. Not part of the wire payload.
	Deliveries int `json:"-"`
}

// NewEnvelope builds an envelope around the JSON encoding of payload.
func NewEnvelope(topic, key string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{
		ID:          uuid.NewString(),
		Topic:       topic,
		Key:         key,
		Body:        body,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope body into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode %s envelope %s: %w", e.Topic, e.ID, err)
	}
	return nil
}

// Topic is a publish point fanning out to every subscribed queue.
type Topic interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

// Queue hands out leased deliveries. A delivery neither acked nor nacked
// becomes visible again after the queue's visibility window.
type Queue interface {
	Name() string
	Receive(ctx context.Context) (*Delivery, error)
}

// Bus groups the topics and queues of one backend.
type Bus interface {
	Topic(name string) (Topic, error)
	Queue(name string) (Queue, error)
	// Requeue puts an envelope directly onto a single queue, bypassing
	// topic fan-out. Used to restore quarantined messages.
	Requeue(ctx context.Context, queue string, env Envelope) error
	Close() error
}

// Delivery is one leased message. Exactly one of Ack or Nack should be
// called; calling neither leaves redelivery to the visibility window.
type Delivery struct {
	Envelope Envelope

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// NewDelivery is used by queue backends to assemble a delivery.
func NewDelivery(env Envelope, ack, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{Envelope: env, ack: ack, nack: nack}
}

// Ack removes the message from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack releases the lease, making the message immediately visible again.
func (d *Delivery) Nack(ctx context.Context) error {
	if d == nil || d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// QuarantineFunc receives messages whose delivery count exceeded the queue's
// budget, or that could not be decoded at all. Implemented by the quarantine
// store; a failing quarantine write must not lose the message, so callers
// only remove the original after the func returns nil.
type QuarantineFunc func(queue string, env Envelope, reason string) error

// MirrorSender forwards published envelopes to out-of-band sinks (webhooks,
// external brokers). Mirror delivery is best-effort and never affects queue
// semantics.
type MirrorSender interface {
	Send(ctx context.Context, env Envelope) error
}

// mirroredTopic decorates a topic with best-effort mirror delivery.
type mirroredTopic struct {
	Topic
	mirror MirrorSender
	onErr  func(topic string, err error)
}

// WithMirror wraps t so every successful publish is also handed to mirror.
func WithMirror(t Topic, mirror MirrorSender, onErr func(topic string, err error)) Topic {
	if mirror == nil {
		return t
	}
	if onErr == nil {
		onErr = func(string, error) {}
	}
	return &mirroredTopic{Topic: t, mirror: mirror, onErr: onErr}
}

func (m *mirroredTopic) Publish(ctx context.Context, env Envelope) error {
	if err := m.Topic.Publish(ctx, env); err != nil {
		return err
	}
	if err := m.mirror.Send(ctx, env); err != nil {
		m.onErr(m.Name(), err)
	}
	return nil
}
