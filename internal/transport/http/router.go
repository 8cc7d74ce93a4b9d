// Package httptransport assembles the HTTP surface: the versioned
// correlation API plus the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"correlate/internal/correlation/handler"
	"correlate/pkg/platform/middleware/requestid"
	"correlate/pkg/platform/middleware/requesttime"
)

// NewRouter builds the chi router. Every request gets a request ID and a
// pinned timestamp so services derive deterministic idempotency keys from
// the context rather than calling time.Now in handlers.
func NewRouter(h *handler.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		h.Register(r)
	})

	return r
}
