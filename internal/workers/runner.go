package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/metrics"
)

// Handler processes one envelope from a queue. A nil return acks the message;
// an error wrapping domain.ErrMalformedMessage quarantines it; any other error
// nacks it for redelivery.
type Handler interface {
	Handle(ctx context.Context, env bus.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env bus.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env bus.Envelope) error {
	return f(ctx, env)
}

// Runner drives a single consume loop over one queue.
type Runner struct {
	queue      bus.Queue
	handler    Handler
	timeout    time.Duration
	quarantine bus.QuarantineFunc
	metrics    *metrics.Metrics
	log        logger.Logger
}

// NewRunner wires a consume loop. timeout bounds each handler invocation and
// should stay below the queue's visibility window.
func NewRunner(queue bus.Queue, handler Handler, timeout time.Duration, quarantine bus.QuarantineFunc, m *metrics.Metrics, log logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Runner{
		queue:      queue,
		handler:    handler,
		timeout:    timeout,
		quarantine: quarantine,
		metrics:    m,
		log:        log,
	}
}

// Run consumes until ctx is canceled. Handler panics are contained to the
// message that caused them.
func (r *Runner) Run(ctx context.Context) {
	for {
		d, err := r.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WarnObj("receive failed", "error", map[string]string{
				"queue": r.queue.Name(),
				"error": err.Error(),
			})
			continue
		}
		r.process(ctx, d)
	}
}

func (r *Runner) process(ctx context.Context, d *bus.Delivery) {
	start := time.Now()
	err := r.invoke(ctx, d.Envelope)

	// Settlement uses a fresh short context so a canceled run can still
	// release or remove the message it holds.
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if ackErr := d.Ack(settleCtx); ackErr != nil {
			r.log.WarnObj("ack failed", "error", map[string]string{
				"queue": r.queue.Name(),
				"id":    d.Envelope.ID,
				"error": ackErr.Error(),
			})
		}
		r.metrics.ObserveProcessed(r.queue.Name(), metrics.OutcomeAck, time.Since(start))

	case errors.Is(err, domain.ErrMalformedMessage):
		// Retrying a message we cannot decode would burn the delivery
		// budget for nothing. Park it and remove the original.
		if r.quarantine != nil {
			if qErr := r.quarantine(r.queue.Name(), d.Envelope, err.Error()); qErr != nil {
				r.log.ErrorObj("quarantine failed, leaving message for redelivery", "error", map[string]string{
					"queue": r.queue.Name(),
					"id":    d.Envelope.ID,
					"error": qErr.Error(),
				})
				_ = d.Nack(settleCtx)
				r.metrics.ObserveProcessed(r.queue.Name(), metrics.OutcomeNack, time.Since(start))
				return
			}
		}
		_ = d.Ack(settleCtx)
		r.metrics.ObserveProcessed(r.queue.Name(), metrics.OutcomeQuarantined, time.Since(start))

	default:
		r.log.WarnObj("handler failed, message will be redelivered", "error", map[string]string{
			"queue": r.queue.Name(),
			"id":    d.Envelope.ID,
			"error": err.Error(),
		})
		if nackErr := d.Nack(settleCtx); nackErr != nil {
			r.log.WarnObj("nack failed", "error", map[string]string{
				"queue": r.queue.Name(),
				"id":    d.Envelope.ID,
				"error": nackErr.Error(),
			})
		}
		r.metrics.ObserveProcessed(r.queue.Name(), metrics.OutcomeNack, time.Since(start))
	}
}

func (r *Runner) invoke(ctx context.Context, env bus.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic on %s: %v", env.ID, rec)
		}
	}()
	hCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.handler.Handle(hCtx, env)
}

// Pool runs n concurrent runners over the same queue.
type Pool struct {
	runner *Runner
	size   int
	wg     sync.WaitGroup
}

// NewPool builds a pool of size concurrent consumers sharing one runner.
func NewPool(runner *Runner, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{runner: runner, size: size}
}

// Start launches the consumers. They stop when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runner.Run(ctx)
		}()
	}
}

// Wait blocks until every consumer has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
