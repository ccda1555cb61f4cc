package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/storage"
	"github.com/campushq/campus-courier/internal/tracker"
)

// ledgerTracker namespaces the exporter's idempotency entries.
const ledgerTracker = "tracker"

// ExporterStore is the storage slice the task exporter needs.
type ExporterStore interface {
	storage.AccountStore
	storage.LedgerStore
}

// TaskExporter consumes CourseItemEvents and creates one tracker task per
// item. The ledger entry is written only after the task call succeeds, so a
// redelivered event after a crash creates the task again at most once more.
type TaskExporter struct {
	store   ExporterStore
	tracker tracker.Client
	log     logger.Logger
}

// NewTaskExporter wires the tracker export worker.
func NewTaskExporter(store ExporterStore, t tracker.Client, log logger.Logger) *TaskExporter {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &TaskExporter{store: store, tracker: t, log: log}
}

// Handle processes one tracker-export delivery.
func (e *TaskExporter) Handle(ctx context.Context, env bus.Envelope) error {
	var ev domain.CourseItemEvent
	if err := env.Decode(&ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.Username == "" || ev.Item.URL == "" {
		return fmt.Errorf("%w: course item event missing identity", domain.ErrMalformedMessage)
	}

	account, err := e.store.GetAccount(ev.Username)
	if errors.Is(err, domain.ErrNotFound) {
		e.log.WarnObj("dropping event for unknown account", "username", ev.Username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", ev.Username, err)
	}
	if !account.TrackerExport || account.TrackerToken == "" {
		return nil
	}

	key := ev.Item.DedupKey()
	seen, err := e.store.LedgerSeen(ledgerTracker, key)
	if err != nil {
		return fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	if seen {
		return nil
	}

	task := buildTask(account, ev)
	if err := e.tracker.CreateTask(ctx, account.TrackerToken, task); err != nil {
		return fmt.Errorf("create task for %s: %w", key, err)
	}
	if err := e.store.LedgerMark(ledgerTracker, key); err != nil {
		return fmt.Errorf("ledger mark %s: %w", key, err)
	}
	return nil
}

func buildTask(account domain.Account, ev domain.CourseItemEvent) tracker.Task {
	content := ev.Item.Title
	if content == "" {
		content = ev.Item.URL
	}
	if ev.Item.URL != "" {
		content = fmt.Sprintf("[%s](%s)", content, ev.Item.URL)
	}

	task := tracker.Task{
		Content:     content,
		Description: ev.Item.Description,
		ProjectID:   account.TrackerProjectID,
		SectionID:   account.CourseSectionIDs[ev.Item.CourseID],
		DueString:   "today",
	}
	if ev.Item.Type != "" {
		task.Labels = []string{ev.Item.Type}
	}
	return task
}
