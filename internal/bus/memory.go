package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBus is the in-process backend. Queues honor the same contract as the
// aws backend: independent copies per queue, visibility leases, redelivery on
// lease expiry, quarantine once the delivery budget is exhausted.
type MemoryBus struct {
	topics map[string]*memoryTopic
	queues map[string]*memoryQueue
}

// NewMemory builds an in-process bus for the given topology.
func NewMemory(topo Topology, quarantine QuarantineFunc) *MemoryBus {
	if quarantine == nil {
		quarantine = func(string, Envelope, string) error { return nil }
	}

	b := &MemoryBus{
		topics: make(map[string]*memoryTopic, len(topo.Topics)),
		queues: make(map[string]*memoryQueue),
	}
	for _, tc := range topo.Topics {
		topic := &memoryTopic{name: tc.Name}
		for _, qc := range tc.Queues {
			q := newMemoryQueue(qc, quarantine)
			b.queues[qc.Name] = q
			topic.queues = append(topic.queues, q)
		}
		b.topics[tc.Name] = topic
	}
	return b
}

// Topic returns the named topic.
func (b *MemoryBus) Topic(name string) (Topic, error) {
	t, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", name)
	}
	return t, nil
}

// Queue returns the named queue.
func (b *MemoryBus) Queue(name string) (Queue, error) {
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, nil
}

// Requeue enqueues an envelope on a single queue with a fresh delivery count.
func (b *MemoryBus) Requeue(_ context.Context, queue string, env Envelope) error {
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	q.enqueue(env)
	return nil
}

// Close is a no-op; memory queues hold no external resources.
func (b *MemoryBus) Close() error { return nil }

type memoryTopic struct {
	name   string
	queues []*memoryQueue
}

func (t *memoryTopic) Name() string { return t.name }

// Publish copies the envelope into every subscribed queue.
func (t *memoryTopic) Publish(_ context.Context, env Envelope) error {
	for _, q := range t.queues {
		q.enqueue(env)
	}
	return nil
}

type memMsg struct {
	env        Envelope
	deliveries int
}

type lease struct {
	msg      *memMsg
	deadline time.Time
}

type memoryQueue struct {
	name          string
	visibility    time.Duration
	maxDeliveries int
	quarantine    QuarantineFunc

	mu     sync.Mutex
	ready  []*memMsg
	leases map[string]*lease
	notify chan struct{}
}

func newMemoryQueue(cfg QueueConfig, quarantine QuarantineFunc) *memoryQueue {
	if quarantine == nil {
		// No quarantine store configured: past-budget messages are dropped.
		quarantine = func(string, Envelope, string) error { return nil }
	}
	return &memoryQueue{
		name:          cfg.Name,
		visibility:    cfg.Visibility(),
		maxDeliveries: cfg.MaxDeliveries,
		quarantine:    quarantine,
		leases:        make(map[string]*lease),
		notify:        make(chan struct{}, 1),
	}
}

func (q *memoryQueue) Name() string { return q.name }

func (q *memoryQueue) enqueue(env Envelope) {
	q.mu.Lock()
	q.ready = append(q.ready, &memMsg{env: env})
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// reapExpired returns expired leases to the ready list. Caller holds q.mu.
func (q *memoryQueue) reapExpired(now time.Time) {
	for id, l := range q.leases {
		if !l.deadline.After(now) {
			delete(q.leases, id)
			q.ready = append(q.ready, l.msg)
		}
	}
}

// Receive blocks until a message is available or ctx is done.
func (q *memoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		now := time.Now()
		q.reapExpired(now)

		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			msg.deliveries++

			if msg.deliveries > q.maxDeliveries {
				q.mu.Unlock()
				if err := q.quarantine(q.name, msg.env, fmt.Sprintf("exceeded %d deliveries", q.maxDeliveries)); err != nil {
					// Keep the message; quarantine storage failed.
					q.mu.Lock()
					q.ready = append(q.ready, msg)
					q.mu.Unlock()
					return nil, fmt.Errorf("quarantine %s: %w", msg.env.ID, err)
				}
				continue
			}

			q.leases[msg.env.ID] = &lease{msg: msg, deadline: now.Add(q.visibility)}
			env := msg.env
			env.Deliveries = msg.deliveries
			q.mu.Unlock()

			return NewDelivery(env,
				func(context.Context) error { q.drop(env.ID); return nil },
				func(context.Context) error { q.release(env.ID); return nil },
			), nil
		}

		wait := q.nextWakeup(now)
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextWakeup picks how long Receive may sleep: until the earliest lease
// expires, or a coarse idle interval when nothing is in flight. Caller holds
// q.mu.
func (q *memoryQueue) nextWakeup(now time.Time) time.Duration {
	wait := time.Minute
	for _, l := range q.leases {
		if d := l.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// drop acks a leased message. A lease already reaped by redelivery makes this
// a no-op, same as deleting with a stale receipt handle.
func (q *memoryQueue) drop(id string) {
	q.mu.Lock()
	delete(q.leases, id)
	q.mu.Unlock()
}

// release nacks a leased message, making it immediately visible again.
func (q *memoryQueue) release(id string) {
	q.mu.Lock()
	l, ok := q.leases[id]
	if ok {
		delete(q.leases, id)
		q.ready = append(q.ready, l.msg)
	}
	q.mu.Unlock()
	if ok {
		q.signal()
	}
}

// depth reports ready + in-flight counts, used by tests and metrics.
func (q *memoryQueue) depth() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.leases)
}
