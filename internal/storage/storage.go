package storage

import (
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
)

// Package storage provides the durable per-user state tables backing the
// pipeline's idempotency contracts.

// AccountStore is the directory of registered users. Single writer: the
// registrar. Read by the enumerator and the scrapers.
type AccountStore interface {
	PutAccount(a domain.Account) error
	GetAccount(username string) (domain.Account, error)
	// ListAccounts pages through the directory. Pass an empty cursor to
	// start; an empty next cursor means the scan is complete.
	ListAccounts(cursor string, limit int) (accounts []domain.Account, next string, err error)
}

// CourseItemStore records previously seen course items keyed (username, url).
// A stored item means it was reported downstream at least once — except when
// Published is still false, which marks an interrupted store-then-publish
// sequence the scraper must reconcile.
type CourseItemStore interface {
	GetCourseItem(username, url string) (domain.CourseItem, error)
	PutCourseItem(item domain.CourseItem) error
	MarkCourseItemPublished(username, url string) error
	UnpublishedCourseItems(username string) ([]domain.CourseItem, error)
}

// AnnouncementStore tracks the current announcement body per (username, courseId).
type AnnouncementStore interface {
	// AnnouncementChanged reports whether body differs from the stored
	// record (or no record exists).
	AnnouncementChanged(username, courseID, body string) (bool, error)
	PutAnnouncement(a domain.Announcement) error
}

// MailStore records forwarded portal mail keyed (username, mailId). Append-only.
type MailStore interface {
	SeenMail(username, mailID string) (bool, error)
	PutMail(m domain.Mail) error
}

// LedgerStore is the idempotency ledger for terminal consumers. Entries are
// TTL-bounded; an expired entry reads as unseen.
type LedgerStore interface {
	LedgerSeen(consumer, key string) (bool, error)
	LedgerMark(consumer, key string) error
}

// QuarantinedMessage is a delivery pulled out of circulation, kept for
// operator inspection.
type QuarantinedMessage struct {
	ID            string       `json:"id"`
	Queue         string       `json:"queue"`
	Reason        string       `json:"reason"`
	Envelope      bus.Envelope `json:"envelope"`
	QuarantinedAt time.Time    `json:"quarantined_at"`
}

// QuarantineStore holds quarantined deliveries.
type QuarantineStore interface {
	Quarantine(q QuarantinedMessage) error
	GetQuarantined(id string) (QuarantinedMessage, error)
	ListQuarantined() ([]QuarantinedMessage, error)
	DeleteQuarantined(id string) error
}

// Store groups every table behind one handle.
type Store interface {
	AccountStore
	CourseItemStore
	AnnouncementStore
	MailStore
	LedgerStore
	QuarantineStore
	Close() error
}

// Options controls retention characteristics for the ledger.
type Options struct {
	LedgerTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultLedgerTTL       = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

func normalizeOptions(opts Options) Options {
	if opts.LedgerTTL <= 0 {
		opts.LedgerTTL = defaultLedgerTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

// NewStore opens the bbolt-backed store at path.
func NewStore(path string, opts Options) (Store, error) {
	return openBolt(path, normalizeOptions(opts))
}
