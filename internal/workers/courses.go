package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/mailer"
	"github.com/campushq/campus-courier/internal/metrics"
	"github.com/campushq/campus-courier/internal/portal"
	"github.com/campushq/campus-courier/internal/storage"
)

// CourseScrapeStore is the storage slice the course scraper needs.
type CourseScrapeStore interface {
	storage.AccountStore
	storage.CourseItemStore
	storage.AnnouncementStore
}

// CourseScraper consumes UserEvents and diffs each enrolled course against the
// item store. New items are stored, published as CourseItemEvents, then marked
// published; a crash between store and publish leaves an unpublished record
// the next run re-emits before scraping anything.
type CourseScraper struct {
	store   CourseScrapeStore
	portal  portal.Client
	topic   bus.Topic
	mail    mailer.Transport
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewCourseScraper wires the course diffing worker. topic must be the
// course-item-events topic; mail may be nil to disable announcement emails.
func NewCourseScraper(store CourseScrapeStore, p portal.Client, topic bus.Topic, mail mailer.Transport, m *metrics.Metrics, log logger.Logger) *CourseScraper {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &CourseScraper{store: store, portal: p, topic: topic, mail: mail, metrics: m, log: log}
}

// Handle processes one user-events delivery.
func (s *CourseScraper) Handle(ctx context.Context, env bus.Envelope) error {
	var ev domain.UserEvent
	if err := env.Decode(&ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.Username == "" {
		return fmt.Errorf("%w: user event without username", domain.ErrMalformedMessage)
	}

	account, err := s.store.GetAccount(ev.Username)
	if errors.Is(err, domain.ErrNotFound) {
		// The account was removed after the event was published. Nothing
		// left to scrape for it.
		s.log.WarnObj("dropping event for unknown account", "username", ev.Username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", ev.Username, err)
	}

	var errs []error
	if err := s.reconcile(ctx, account); err != nil {
		errs = append(errs, err)
	}

	creds := portal.Credentials{Username: account.Username, Password: account.Password}
	for _, course := range account.Courses {
		if err := s.scrapeCourse(ctx, account, creds, course); err != nil {
			errs = append(errs, fmt.Errorf("course %s: %w", course.ID, err))
		}
	}
	return errors.Join(errs...)
}

// reconcile re-publishes items stored by an interrupted previous run.
func (s *CourseScraper) reconcile(ctx context.Context, account domain.Account) error {
	pending, err := s.store.UnpublishedCourseItems(account.Username)
	if err != nil {
		return fmt.Errorf("scan unpublished items: %w", err)
	}

	var errs []error
	for _, item := range pending {
		course := courseByID(account.Courses, item.CourseID)
		if err := s.publishItem(ctx, account.Username, item, course); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.store.MarkCourseItemPublished(item.Username, item.URL); err != nil {
			errs = append(errs, fmt.Errorf("mark %s published: %w", item.URL, err))
		}
	}
	if len(pending) > 0 {
		s.log.InfoObj("re-emitted interrupted items", "reconcile", map[string]any{
			"username": account.Username,
			"pending":  len(pending),
			"failed":   len(errs),
		})
	}
	return errors.Join(errs...)
}

func (s *CourseScraper) scrapeCourse(ctx context.Context, account domain.Account, creds portal.Credentials, course domain.CourseRef) error {
	content, err := s.portal.FetchCourseContent(ctx, creds, course)
	if err != nil {
		return fmt.Errorf("fetch content: %w", err)
	}

	var errs []error
	for _, raw := range content.Items {
		if err := s.handleItem(ctx, account, course, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.handleAnnouncement(ctx, account, course, content.Announcement); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *CourseScraper) handleItem(ctx context.Context, account domain.Account, course domain.CourseRef, raw portal.Item) error {
	if raw.URL == "" {
		return nil
	}
	if _, err := s.store.GetCourseItem(account.Username, raw.URL); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lookup item %s: %w", raw.URL, err)
	}

	item := domain.CourseItem{
		Username:    account.Username,
		URL:         raw.URL,
		Title:       raw.Title,
		Description: raw.Description,
		Type:        raw.Type,
		CourseID:    course.ID,
		WeekStart:   raw.WeekStart,
		FirstSeen:   time.Now().UTC(),
	}
	// Store first so a crash after publish cannot re-emit the item as new
	// on the next run. The unpublished record is the crash marker.
	if err := s.store.PutCourseItem(item); err != nil {
		return fmt.Errorf("store item %s: %w", raw.URL, err)
	}
	if err := s.publishItem(ctx, account.Username, item, course); err != nil {
		return err
	}
	if err := s.store.MarkCourseItemPublished(item.Username, item.URL); err != nil {
		return fmt.Errorf("mark %s published: %w", raw.URL, err)
	}
	return nil
}

func (s *CourseScraper) publishItem(ctx context.Context, username string, item domain.CourseItem, course domain.CourseRef) error {
	ev := domain.CourseItemEvent{Username: username, Item: item, Course: course}
	env, err := bus.NewEnvelope(s.topic.Name(), item.DedupKey(), ev)
	if err != nil {
		return err
	}
	if err := s.topic.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish item %s: %w", item.URL, err)
	}
	s.metrics.EventsPublished.WithLabelValues(s.topic.Name()).Inc()
	return nil
}

// handleAnnouncement emails the new body before storing it, so a failed send
// is retried on the next delivery instead of being swallowed.
func (s *CourseScraper) handleAnnouncement(ctx context.Context, account domain.Account, course domain.CourseRef, body string) error {
	if body == "" || !account.Preferences.Announcements {
		return nil
	}
	changed, err := s.store.AnnouncementChanged(account.Username, course.ID, body)
	if err != nil {
		return fmt.Errorf("announcement lookup: %w", err)
	}
	if !changed {
		return nil
	}

	if s.mail != nil && account.Email != "" {
		subject := fmt.Sprintf("New announcement in %s", courseLabel(course))
		if err := s.mail.Send(ctx, account.Email, subject, mailer.PlainText(body)); err != nil {
			return fmt.Errorf("announcement email: %w", err)
		}
	}
	return s.store.PutAnnouncement(domain.Announcement{
		Username: account.Username,
		CourseID: course.ID,
		Body:     body,
		SeenAt:   time.Now().UTC(),
	})
}

func courseByID(courses []domain.CourseRef, id string) domain.CourseRef {
	for _, c := range courses {
		if c.ID == id {
			return c
		}
	}
	return domain.CourseRef{ID: id}
}

func courseLabel(course domain.CourseRef) string {
	if course.Code != "" {
		return course.Code
	}
	if course.Name != "" {
		return course.Name
	}
	return course.ID
}
