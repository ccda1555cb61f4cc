package domain

import "time"

// Domain contains core models shared across workers and stores.

// CourseRef identifies one course an account is enrolled in, captured at
// registration time so scrape runs do not have to re-discover enrollment.
type CourseRef struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Semester string `json:"semester"`
}

// Preferences controls which notification paths are active for an account.
type Preferences struct {
	Announcements bool `json:"announcements"`
	CourseItems   bool `json:"course_items"`
	Mails         bool `json:"mails"`
}

// DefaultPreferences enables every notification path.
func DefaultPreferences() Preferences {
	return Preferences{Announcements: true, CourseItems: true, Mails: true}
}

// Account is a registered portal user. Username is the unique key;
// re-registration overwrites the record (last write wins).
type Account struct {
	Username         string            `json:"username"`
	Password         string            `json:"password"`
	Email            string            `json:"email"`
	TrackerToken     string            `json:"tracker_token"`
	TrackerProjectID string            `json:"tracker_project_id"`
	CourseSectionIDs map[string]string `json:"course_section_ids"`
	Courses          []CourseRef       `json:"courses"`
	Preferences      Preferences       `json:"preferences"`
	TrackerExport    bool              `json:"tracker_export"`
	RegisteredAt     time.Time         `json:"registered_at"`
}

// CourseItem is one piece of course material, keyed (username, url).
// Published records whether the corresponding CourseItemEvent has been handed
// to the bus; a stored item with Published=false is an interrupted
// store-then-publish sequence awaiting reconciliation.
type CourseItem struct {
	Username    string    `json:"username"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	CourseID    string    `json:"course_id"`
	WeekStart   string    `json:"week_start"`
	FirstSeen   time.Time `json:"first_seen"`
	Published   bool      `json:"published"`
}

// DedupKey is the stable identity of an item across redeliveries.
func (c CourseItem) DedupKey() string {
	return c.Username + "|" + c.URL
}

// Announcement is the current course-level announcement body for
// (username, courseId). Re-stored only when the body changes.
type Announcement struct {
	Username string    `json:"username"`
	CourseID string    `json:"course_id"`
	Body     string    `json:"body"`
	SeenAt   time.Time `json:"seen_at"`
}

// Mail records one forwarded portal mail, keyed (username, mailId).
// Append-only; never updated after creation.
type Mail struct {
	Username string    `json:"username"`
	MailID   string    `json:"mail_id"`
	SeenAt   time.Time `json:"seen_at"`
}

// UserEvent is published on the user-events topic once per known account.
// Consumers look the full account up from the directory.
type UserEvent struct {
	Username string `json:"username"`
}

// CourseItemEvent is published on the course-item-events topic once per newly
// discovered item. Course metadata rides along so terminal consumers can label
// tasks and emails without a second portal round trip; the dedup identity
// stays (username, url).
type CourseItemEvent struct {
	Username string     `json:"username"`
	Item     CourseItem `json:"item"`
	Course   CourseRef  `json:"course"`
}
