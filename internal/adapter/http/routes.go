package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"` + h.Version + `"}`))
		})

		// Vibe checks
		r.Post("/vibe-checks", h.RunVibeCheck)
		r.Get("/vibe-checks/eligibility", h.CheckEligibility)
		r.Get("/vibe-checks/{id}", h.GetRun)

		// User-scoped reads
		r.Get("/users/{id}/discoveries", h.ListUserDiscoveries)
		r.Get("/users/{id}/ledger", h.GetUserLedger)
	})
}
