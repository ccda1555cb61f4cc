package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/campushq/campus-courier/internal/domain"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/workers"
)

// AccountRegistrar is the onboarding surface the API depends on.
type AccountRegistrar interface {
	Register(ctx context.Context, in workers.RegistrationInput) (domain.Account, error)
}

// SweepRunner triggers one enumeration sweep on demand.
type SweepRunner interface {
	Run(ctx context.Context) error
}

var validate = validator.New()

type registerRequest struct {
	Username      string              `json:"username" validate:"required"`
	Password      string              `json:"password" validate:"required"`
	Email         string              `json:"email" validate:"required,email"`
	TrackerToken  string              `json:"tracker_token"`
	TrackerExport bool                `json:"tracker_export"`
	Preferences   *domain.Preferences `json:"preferences"`
}

// registerResponse is the account view returned to the caller. Credentials
// and tokens never leave the service.
type registerResponse struct {
	Username      string             `json:"username"`
	Email         string             `json:"email"`
	Courses       []domain.CourseRef `json:"courses"`
	Preferences   domain.Preferences `json:"preferences"`
	TrackerExport bool               `json:"tracker_export"`
}

// AccountHandler serves the registration endpoint.
type AccountHandler struct {
	registrar AccountRegistrar
	log       logger.Logger
}

func NewAccountHandler(registrar AccountRegistrar, log logger.Logger) *AccountHandler {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &AccountHandler{registrar: registrar, log: log}
}

// Register handles POST /v1/accounts.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	account, err := h.registrar.Register(r.Context(), workers.RegistrationInput{
		Username:      req.Username,
		Password:      req.Password,
		Email:         req.Email,
		TrackerToken:  req.TrackerToken,
		TrackerExport: req.TrackerExport,
		Preferences:   req.Preferences,
	})
	if err != nil {
		h.log.WarnObj("registration failed", "error", map[string]string{
			"username":       req.Username,
			"correlation_id": GetCorrelationID(r.Context()),
			"error":          err.Error(),
		})
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, registerResponse{
		Username:      account.Username,
		Email:         account.Email,
		Courses:       account.Courses,
		Preferences:   account.Preferences,
		TrackerExport: account.TrackerExport,
	})
}

// SweepHandler serves the manual enumeration trigger.
type SweepHandler struct {
	sweeper SweepRunner
	log     logger.Logger
}

func NewSweepHandler(sweeper SweepRunner, log logger.Logger) *SweepHandler {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &SweepHandler{sweeper: sweeper, log: log}
}

// Trigger handles POST /v1/enumerate. The sweep runs in the background; the
// response only acknowledges that it started.
func (h *SweepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.sweeper.Run(context.Background()); err != nil {
			h.log.ErrorObj("manual sweep failed", "error", err.Error())
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}

// Health handles GET /healthz.
func Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
