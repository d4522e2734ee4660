package test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	httptransport "carelink/internal/transport/http"
	"carelink/pkg/testutil"
)

type noRoutes struct{}

func (noRoutes) Register(chi.Router) {}

func TestOperationalEndpoints(t *testing.T) {
	testutil.Given(t, "the HTTP router with a healthy and an unhealthy dependency", func(t *testing.T) {
		router := httptransport.NewRouter(map[string]httptransport.HealthChecker{
			"database": func() error { return nil },
		}, noRoutes{})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should report healthy", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
		})

		testutil.When(t, "calling GET /metrics", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should expose the Prometheus registry", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
		})
	})

	testutil.Given(t, "a router whose dependency check fails", func(t *testing.T) {
		router := httptransport.NewRouter(map[string]httptransport.HealthChecker{
			"database": func() error { return errors.New("connection refused") },
		}, noRoutes{})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should report unavailable", func(t *testing.T) {
				if rec.Code != http.StatusServiceUnavailable {
					t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
				}
			})
		})
	})
}
