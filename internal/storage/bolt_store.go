package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/campushq/campus-courier/internal/domain"
)

const (
	accountBucket      = "accounts"
	courseItemBucket   = "course_items"
	announcementBucket = "announcements"
	mailBucket         = "mails"
	ledgerBucket       = "ledger"
	quarantineBucket   = "quarantine"

	expiryValueBytes = 8
	keySeparator     = "|"
)

// boltStore implements Store backed by BoltDB.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	ledgerTTL       time.Duration
	cleanupInterval time.Duration
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	buckets := []string{accountBucket, courseItemBucket, announcementBucket, mailBucket, ledgerBucket, quarantineBucket}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	store := &boltStore{
		db:              db,
		ledgerTTL:       opts.LedgerTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	store.lastCleanup.Store(time.Now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func compoundKey(parts ...string) []byte {
	out := parts[0]
	for _, p := range parts[1:] {
		out += keySeparator + p
	}
	return []byte(out)
}

func putJSON(tx *bolt.Tx, bucket string, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", bucket, err)
	}
	bkt := tx.Bucket([]byte(bucket))
	if bkt == nil {
		return fmt.Errorf("%s bucket missing", bucket)
	}
	return bkt.Put(key, raw)
}

func getJSON(tx *bolt.Tx, bucket string, key []byte, v any) error {
	bkt := tx.Bucket([]byte(bucket))
	if bkt == nil {
		return fmt.Errorf("%s bucket missing", bucket)
	}
	raw := bkt.Get(key)
	if raw == nil {
		return domain.ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s record: %w", bucket, err)
	}
	return nil
}

// PutAccount upserts the account record; last write wins.
func (b *boltStore) PutAccount(a domain.Account) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, accountBucket, []byte(a.Username), a)
	})
}

// GetAccount returns the account or domain.ErrNotFound.
func (b *boltStore) GetAccount(username string) (domain.Account, error) {
	var a domain.Account
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, accountBucket, []byte(username), &a)
	})
	return a, err
}

// ListAccounts pages through the directory in key order. The cursor is the
// last username of the previous page.
func (b *boltStore) ListAccounts(cursor string, limit int) ([]domain.Account, string, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		accounts []domain.Account
		next     string
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(accountBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", accountBucket)
		}

		c := bkt.Cursor()
		var k, v []byte
		if cursor == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(cursor))
			if k != nil && bytes.Equal(k, []byte(cursor)) {
				k, v = c.Next()
			}
		}

		for ; k != nil && len(accounts) < limit; k, v = c.Next() {
			var a domain.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshal account %q: %w", k, err)
			}
			accounts = append(accounts, a)
		}
		if k != nil {
			next = accounts[len(accounts)-1].Username
		}
		return nil
	})
	return accounts, next, err
}

// GetCourseItem returns the item or domain.ErrNotFound.
func (b *boltStore) GetCourseItem(username, url string) (domain.CourseItem, error) {
	var item domain.CourseItem
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, courseItemBucket, compoundKey(username, url), &item)
	})
	return item, err
}

// PutCourseItem upserts the item record.
func (b *boltStore) PutCourseItem(item domain.CourseItem) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, courseItemBucket, compoundKey(item.Username, item.URL), item)
	})
}

// MarkCourseItemPublished flips the published flag of a stored item.
func (b *boltStore) MarkCourseItemPublished(username, url string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		key := compoundKey(username, url)
		var item domain.CourseItem
		if err := getJSON(tx, courseItemBucket, key, &item); err != nil {
			return err
		}
		item.Published = true
		return putJSON(tx, courseItemBucket, key, item)
	})
}

// UnpublishedCourseItems returns the user's stored items whose event never
// made it to the bus.
func (b *boltStore) UnpublishedCourseItems(username string) ([]domain.CourseItem, error) {
	var items []domain.CourseItem
	prefix := []byte(username + keySeparator)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(courseItemBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", courseItemBucket)
		}
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item domain.CourseItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshal course item %q: %w", k, err)
			}
			if !item.Published {
				items = append(items, item)
			}
		}
		return nil
	})
	return items, err
}

// AnnouncementChanged reports whether body differs from the stored record.
func (b *boltStore) AnnouncementChanged(username, courseID, body string) (bool, error) {
	changed := true
	err := b.db.View(func(tx *bolt.Tx) error {
		var a domain.Announcement
		err := getJSON(tx, announcementBucket, compoundKey(username, courseID), &a)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		changed = a.Body != body
		return nil
	})
	return changed, err
}

// PutAnnouncement upserts the current announcement body.
func (b *boltStore) PutAnnouncement(a domain.Announcement) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, announcementBucket, compoundKey(a.Username, a.CourseID), a)
	})
}

// SeenMail checks whether (username, mailId) was recorded before.
func (b *boltStore) SeenMail(username, mailID string) (bool, error) {
	seen := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(mailBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", mailBucket)
		}
		seen = bkt.Get(compoundKey(username, mailID)) != nil
		return nil
	})
	return seen, err
}

// PutMail records a mail id. Append-only.
func (b *boltStore) PutMail(m domain.Mail) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, mailBucket, compoundKey(m.Username, m.MailID), m)
	})
}

// LedgerSeen checks the idempotency ledger for (consumer, key), treating
// expired entries as unseen.
func (b *boltStore) LedgerSeen(consumer, key string) (bool, error) {
	if err := b.maybeCleanupExpired(time.Now()); err != nil {
		return false, err
	}

	var exists bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ledgerBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", ledgerBucket)
		}

		k := compoundKey(consumer, key)
		value := bkt.Get(k)
		if value == nil {
			exists = false
			return nil
		}

		expiry, ok := decodeExpiry(value)
		if !ok || !expiry.After(time.Now()) {
			exists = false
			return bkt.Delete(k)
		}

		exists = true
		return nil
	})
	return exists, err
}

// LedgerMark records (consumer, key) with the configured TTL.
func (b *boltStore) LedgerMark(consumer, key string) error {
	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ledgerBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", ledgerBucket)
		}
		buf := make([]byte, expiryValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(b.ledgerTTL).Unix()))
		return bkt.Put(compoundKey(consumer, key), buf)
	})
}

// Quarantine stores a pulled delivery for inspection.
func (b *boltStore) Quarantine(q QuarantinedMessage) error {
	if q.QuarantinedAt.IsZero() {
		q.QuarantinedAt = time.Now().UTC()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, quarantineBucket, []byte(q.ID), q)
	})
}

// GetQuarantined returns one quarantined message or domain.ErrNotFound.
func (b *boltStore) GetQuarantined(id string) (QuarantinedMessage, error) {
	var q QuarantinedMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, quarantineBucket, []byte(id), &q)
	})
	return q, err
}

// ListQuarantined returns every quarantined message in key order.
func (b *boltStore) ListQuarantined() ([]QuarantinedMessage, error) {
	var out []QuarantinedMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(quarantineBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", quarantineBucket)
		}
		return bkt.ForEach(func(k, v []byte) error {
			var q QuarantinedMessage
			if err := json.Unmarshal(v, &q); err != nil {
				return fmt.Errorf("unmarshal quarantined %q: %w", k, err)
			}
			out = append(out, q)
			return nil
		})
	})
	return out, err
}

// DeleteQuarantined removes one quarantined message.
func (b *boltStore) DeleteQuarantined(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(quarantineBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", quarantineBucket)
		}
		return bkt.Delete([]byte(id))
	})
}

// maybeCleanupExpired removes expired ledger entries on a fixed cadence to
// avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ledgerBucket))
		if bkt == nil {
			return fmt.Errorf("%s bucket missing", ledgerBucket)
		}

		cursor := bkt.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// decodeExpiry decodes the expiry time from the stored byte slice.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) != expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
