// Package httptransport assembles the public HTTP surface: the referral API,
// the Prometheus scrape endpoint, and the health probe.
package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registrar is anything that can attach its routes to a chi router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports readiness of one dependency; nil error means healthy.
type HealthChecker func() error

// NewRouter wires module handlers and operational endpoints. Health and
// metrics sit outside the authenticated API chain.
func NewRouter(checks map[string]HealthChecker, modules ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handleHealth(checks))

	for _, m := range modules {
		m.Register(r)
	}
	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       http.StatusText(status),
			"dependencies": deps,
		})
	}
}
