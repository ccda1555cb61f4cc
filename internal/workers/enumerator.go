package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/metrics"
	"github.com/campushq/campus-courier/internal/storage"
)

// Enumerator sweeps the account directory and publishes one UserEvent per
// account. Each sweep is a full scan; a publish failure for one account does
// not stop the sweep for the others.
type Enumerator struct {
	accounts storage.AccountStore
	topic    bus.Topic
	pageSize int
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewEnumerator builds the sweep worker. topic must be the user-events topic.
func NewEnumerator(accounts storage.AccountStore, topic bus.Topic, pageSize int, m *metrics.Metrics, log logger.Logger) *Enumerator {
	if pageSize <= 0 {
		pageSize = 100
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Enumerator{accounts: accounts, topic: topic, pageSize: pageSize, metrics: m, log: log}
}

// Run performs one full sweep. A directory page failure aborts the run; per
// account publish failures are collected and joined.
func (e *Enumerator) Run(ctx context.Context) error {
	e.metrics.EnumerationRuns.Inc()

	var (
		cursor    string
		published int
		errs      []error
	)
	for {
		accounts, next, err := e.accounts.ListAccounts(cursor, e.pageSize)
		if err != nil {
			return fmt.Errorf("list accounts from %q: %w", cursor, err)
		}
		for _, a := range accounts {
			if err := e.publishOne(ctx, a); err != nil {
				errs = append(errs, err)
				continue
			}
			published++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	e.log.InfoObj("enumeration sweep finished", "sweep", map[string]int{
		"published": published,
		"failed":    len(errs),
	})
	return errors.Join(errs...)
}

func (e *Enumerator) publishOne(ctx context.Context, a domain.Account) error {
	env, err := bus.NewEnvelope(e.topic.Name(), a.Username, domain.UserEvent{Username: a.Username})
	if err != nil {
		return fmt.Errorf("envelope for %s: %w", a.Username, err)
	}
	if err := e.topic.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish user event for %s: %w", a.Username, err)
	}
	e.metrics.EventsPublished.WithLabelValues(e.topic.Name()).Inc()
	return nil
}
