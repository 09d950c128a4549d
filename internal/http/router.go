package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the API routes. metrics, when non-nil, is served on /metrics.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(tracing)

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/process", h.ProcessOrder)
		r.Get("/{orderId}", h.GetOrder)
	})

	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/{productId}", h.GetAvailability)
		r.Post("/replenish", h.Replenish)
		r.Post("/adjust", h.AdjustAvailability)
	})

	return r
}
