package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campushq/campus-courier/internal/logger"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	registrar AccountRegistrar,
	sweeper SweepRunner,
	reg prometheus.Gatherer,
	apiKey string,
	log logger.Logger,
) http.Handler {
	if log == nil {
		log = &logger.NopLogger{}
	}

	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(CorrelationID)
	r.Use(RequestLogger(log))

	r.Get("/healthz", Health)
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	ah := NewAccountHandler(registrar, log)
	sh := NewSweepHandler(sweeper, log)

	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKey(apiKey))
		r.Post("/accounts", ah.Register)
		r.Post("/enumerate", sh.Trigger)
	})

	return r
}
