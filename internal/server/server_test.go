package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/workers"
)

type fakeRegistrar struct {
	got workers.RegistrationInput
	err error
}

func (f *fakeRegistrar) Register(ctx context.Context, in workers.RegistrationInput) (domain.Account, error) {
	f.got = in
	if f.err != nil {
		return domain.Account{}, f.err
	}
	return domain.Account{
		Username:    in.Username,
		Email:       in.Email,
		Courses:     []domain.CourseRef{{ID: "c1", Code: "CSEN 701"}},
		Preferences: domain.DefaultPreferences(),
	}, nil
}

type fakeSweeper struct {
	runs atomic.Int32
}

func (f *fakeSweeper) Run(ctx context.Context) error {
	f.runs.Add(1)
	return nil
}

func newTestServer(t *testing.T, reg *fakeRegistrar, sweeper *fakeSweeper, apiKey string) *httptest.Server {
	t.Helper()
	if reg == nil {
		reg = &fakeRegistrar{}
	}
	if sweeper == nil {
		sweeper = &fakeSweeper{}
	}
	srv := httptest.NewServer(NewRouter(reg, sweeper, prometheus.NewRegistry(), apiKey, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterEndpoint(t *testing.T) {
	reg := &fakeRegistrar{}
	srv := newTestServer(t, reg, nil, "")

	body := `{"username":"alice","password":"secret","email":"alice@student.edu","tracker_token":"tok","tracker_export":true}`
	resp, err := http.Post(srv.URL+"/v1/accounts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if reg.got.Username != "alice" || !reg.got.TrackerExport {
		t.Fatalf("registrar input = %#v", reg.got)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["username"] != "alice" {
		t.Fatalf("response = %v", out)
	}
	if _, leaked := out["password"]; leaked {
		t.Fatalf("password leaked in response")
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t, nil, nil, "")

	body := `{"username":"alice","password":"secret","email":"not-an-email"}`
	resp, err := http.Post(srv.URL+"/v1/accounts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestRegisterInvalidCredentials(t *testing.T) {
	reg := &fakeRegistrar{err: domain.ErrInvalidCredentials}
	srv := newTestServer(t, reg, nil, "")

	body := `{"username":"alice","password":"wrong","email":"alice@student.edu"}`
	resp, err := http.Post(srv.URL+"/v1/accounts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	sweeper := &fakeSweeper{}
	srv := newTestServer(t, nil, sweeper, "sekrit")

	// Missing key is rejected.
	resp, err := http.Post(srv.URL+"/v1/enumerate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Correct key passes.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/enumerate", nil)
	req.Header.Set("X-Api-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}

	waitFor(t, func() bool { return sweeper.runs.Load() == 1 })
}

func TestCorrelationIDEchoed(t *testing.T) {
	srv := newTestServer(t, nil, nil, "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("correlation id = %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
