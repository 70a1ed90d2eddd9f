package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether one dependency (DB, broker, ...) is
// currently healthy, grounded on the teacher's BuildReadinessChecks shape
// (a named func(ctx) error per dependency) generalized to an arbitrary
// set of named checks instead of three hardcoded ones.
type ReadinessCheck struct {
	Name string
	Func func(ctx context.Context) error
}

// NewRouter builds the minimal admin surface: liveness, readiness, and
// Prometheus metrics. This is deliberately narrow — book-upload/API
// business endpoints are a named Non-goal; this surface exists strictly
// for operability (load balancer probes, Prometheus scraping).
func NewRouter(checks ...ReadinessCheck) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		result := make(map[string]string, len(checks))
		healthy := true
		for _, c := range checks {
			if err := c.Func(ctx); err != nil {
				result[c.Name] = err.Error()
				healthy = false
				continue
			}
			result[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(mux, Recoverer, RequestID, AccessLog, SecurityHeaders)
}
