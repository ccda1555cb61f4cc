package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/metrics"
	"github.com/campushq/campus-courier/internal/portal"
	"github.com/campushq/campus-courier/internal/storage"
	"github.com/campushq/campus-courier/internal/tracker"
)

// trackerProjectName is the workspace project provisioned per account.
const trackerProjectName = "University"

// RegistrationInput is a validated registration request.
type RegistrationInput struct {
	Username      string
	Password      string
	Email         string
	TrackerToken  string
	TrackerExport bool
	Preferences   *domain.Preferences
}

// Registrar onboards accounts: it validates credentials against the portal,
// snapshots enrollment, provisions the tracker workspace when export is
// requested, persists the account, and publishes the first UserEvent so
// collection starts without waiting for the next sweep.
type Registrar struct {
	portal   portal.Client
	tracker  tracker.Client
	accounts storage.AccountStore
	topic    bus.Topic
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewRegistrar wires the onboarding worker. topic must be the user-events topic.
func NewRegistrar(p portal.Client, t tracker.Client, accounts storage.AccountStore, topic bus.Topic, m *metrics.Metrics, log logger.Logger) *Registrar {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Registrar{portal: p, tracker: t, accounts: accounts, topic: topic, metrics: m, log: log}
}

// Register performs the full onboarding flow. Credential validation happens
// before any write: a rejected pair leaves no trace in the directory or the
// tracker.
func (r *Registrar) Register(ctx context.Context, in RegistrationInput) (domain.Account, error) {
	if err := checkInput(in); err != nil {
		return domain.Account{}, err
	}

	creds := portal.Credentials{Username: in.Username, Password: in.Password}
	courses, err := r.portal.FetchCourses(ctx, creds)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch courses for %s: %w", in.Username, err)
	}

	prefs := domain.DefaultPreferences()
	if in.Preferences != nil {
		prefs = *in.Preferences
	}

	account := domain.Account{
		Username:      in.Username,
		Password:      in.Password,
		Email:         in.Email,
		TrackerToken:  in.TrackerToken,
		Courses:       courses,
		Preferences:   prefs,
		TrackerExport: in.TrackerExport && in.TrackerToken != "",
		RegisteredAt:  time.Now().UTC(),
	}

	if account.TrackerExport {
		projectID, sections, err := r.provisionTracker(ctx, in.TrackerToken, courses)
		if err != nil {
			return domain.Account{}, fmt.Errorf("provision tracker for %s: %w", in.Username, err)
		}
		account.TrackerProjectID = projectID
		account.CourseSectionIDs = sections
	}

	if err := r.accounts.PutAccount(account); err != nil {
		return domain.Account{}, fmt.Errorf("store account %s: %w", in.Username, err)
	}
	r.metrics.AccountsRegistered.Inc()

	// Kick off the first collection immediately. The account is already
	// durable, so a publish failure here only delays collection to the
	// next sweep.
	env, err := bus.NewEnvelope(r.topic.Name(), account.Username, domain.UserEvent{Username: account.Username})
	if err == nil {
		err = r.topic.Publish(ctx, env)
	}
	if err != nil {
		r.log.WarnObj("initial user event not published, next sweep will cover it", "error", map[string]string{
			"username": account.Username,
			"error":    err.Error(),
		})
	} else {
		r.metrics.EventsPublished.WithLabelValues(r.topic.Name()).Inc()
	}

	r.log.InfoObj("account registered", "account", map[string]any{
		"username": account.Username,
		"courses":  len(account.Courses),
		"tracker":  account.TrackerExport,
	})
	return account, nil
}

func (r *Registrar) provisionTracker(ctx context.Context, token string, courses []domain.CourseRef) (string, map[string]string, error) {
	projectID, err := r.tracker.CreateProject(ctx, token, trackerProjectName)
	if err != nil {
		return "", nil, err
	}
	sections := make(map[string]string, len(courses))
	for _, c := range courses {
		name := c.Code
		if name == "" {
			name = c.Name
		}
		sectionID, err := r.tracker.CreateSection(ctx, token, projectID, name)
		if err != nil {
			return "", nil, fmt.Errorf("section for course %s: %w", c.ID, err)
		}
		sections[c.ID] = sectionID
	}
	return projectID, sections, nil
}

func checkInput(in RegistrationInput) error {
	var missing []string
	if strings.TrimSpace(in.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(in.Password) == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingFields, strings.Join(missing, ", "))
	}
	return nil
}
