package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/mailer"
	"github.com/campushq/campus-courier/internal/storage"
)

// ledgerEmail namespaces the notifier's idempotency entries.
const ledgerEmail = "email"

// NotifierStore is the storage slice the email notifier needs.
type NotifierStore interface {
	storage.AccountStore
	storage.LedgerStore
}

// EmailNotifier consumes CourseItemEvents and emails the account one message
// per new item. Mirrors the exporter's send-then-mark ordering.
type EmailNotifier struct {
	store NotifierStore
	mail  mailer.Transport
	log   logger.Logger
}

// NewEmailNotifier wires the notification worker.
func NewEmailNotifier(store NotifierStore, mail mailer.Transport, log logger.Logger) *EmailNotifier {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &EmailNotifier{store: store, mail: mail, log: log}
}

// Handle processes one email-notify delivery.
func (n *EmailNotifier) Handle(ctx context.Context, env bus.Envelope) error {
	var ev domain.CourseItemEvent
	if err := env.Decode(&ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.Username == "" || ev.Item.URL == "" {
		return fmt.Errorf("%w: course item event missing identity", domain.ErrMalformedMessage)
	}

	account, err := n.store.GetAccount(ev.Username)
	if errors.Is(err, domain.ErrNotFound) {
		n.log.WarnObj("dropping event for unknown account", "username", ev.Username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", ev.Username, err)
	}
	if n.mail == nil || !account.Preferences.CourseItems || account.Email == "" {
		return nil
	}

	key := ev.Item.DedupKey()
	seen, err := n.store.LedgerSeen(ledgerEmail, key)
	if err != nil {
		return fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	if seen {
		return nil
	}

	subject, body := buildNotification(ev)
	if err := n.mail.Send(ctx, account.Email, subject, body); err != nil {
		return fmt.Errorf("notify %s about %s: %w", account.Username, key, err)
	}
	if err := n.store.LedgerMark(ledgerEmail, key); err != nil {
		return fmt.Errorf("ledger mark %s: %w", key, err)
	}
	return nil
}

func buildNotification(ev domain.CourseItemEvent) (subject, body string) {
	label := courseLabel(ev.Course)
	kind := ev.Item.Type
	if kind == "" {
		kind = "material"
	}
	subject = fmt.Sprintf("New %s in %s", kind, label)

	var b strings.Builder
	if ev.Item.Title != "" {
		b.WriteString(ev.Item.Title)
		b.WriteString("\n\n")
	}
	if ev.Item.Description != "" {
		b.WriteString(mailer.PlainText(ev.Item.Description))
		b.WriteString("\n\n")
	}
	if ev.Item.WeekStart != "" {
		b.WriteString("Week of ")
		b.WriteString(ev.Item.WeekStart)
		b.WriteString("\n")
	}
	b.WriteString(ev.Item.URL)
	b.WriteString("\n")
	return subject, b.String()
}
