package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/portal"
	"github.com/campushq/campus-courier/internal/storage"
)

// MailScrapeStore is the storage slice the mail scraper needs.
type MailScrapeStore interface {
	storage.AccountStore
	storage.MailStore
}

// MailScraper consumes UserEvents and forwards unseen portal mail to the
// account's email address. Forward-then-record ordering means a crash between
// the two can forward a mail twice; the mail table only guards against that
// within what it has recorded.
type MailScraper struct {
	store  MailScrapeStore
	portal portal.Client
	log    logger.Logger
}

// NewMailScraper wires the mail forwarding worker.
func NewMailScraper(store MailScrapeStore, p portal.Client, log logger.Logger) *MailScraper {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &MailScraper{store: store, portal: p, log: log}
}

// Handle processes one user-events delivery.
func (s *MailScraper) Handle(ctx context.Context, env bus.Envelope) error {
	var ev domain.UserEvent
	if err := env.Decode(&ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.Username == "" {
		return fmt.Errorf("%w: user event without username", domain.ErrMalformedMessage)
	}

	account, err := s.store.GetAccount(ev.Username)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.WarnObj("dropping event for unknown account", "username", ev.Username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", ev.Username, err)
	}
	if !account.Preferences.Mails || account.Email == "" {
		return nil
	}

	creds := portal.Credentials{Username: account.Username, Password: account.Password}
	ids, err := s.portal.FetchMailIDs(ctx, creds)
	if err != nil {
		return fmt.Errorf("fetch mail ids for %s: %w", account.Username, err)
	}

	var errs []error
	forwarded := 0
	for _, id := range ids {
		seen, err := s.store.SeenMail(account.Username, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("mail %s lookup: %w", id, err))
			continue
		}
		if seen {
			continue
		}
		if err := s.portal.ForwardMail(ctx, creds, id, account.Email); err != nil {
			errs = append(errs, fmt.Errorf("forward mail %s: %w", id, err))
			continue
		}
		if err := s.store.PutMail(domain.Mail{
			Username: account.Username,
			MailID:   id,
			SeenAt:   time.Now().UTC(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("record mail %s: %w", id, err))
			continue
		}
		forwarded++
	}

	if forwarded > 0 {
		s.log.InfoObj("forwarded portal mail", "mail", map[string]any{
			"username":  account.Username,
			"forwarded": forwarded,
		})
	}
	return errors.Join(errs...)
}
