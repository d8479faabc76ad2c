package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

// Routes builds the router. Stream endpoints sit outside the timeout and
// compression middleware since they hold the connection open.
func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(m.RateLimit(rateLimitRPM))

		// Live updates
		r.Get("/sessions/{id}/stream", h.StreamSession)
		r.Get("/sessions/{id}/events", h.SessionEvents)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(requestTimeout))

			// Catalog & prices
			r.Get("/chains", h.ListChains)
			r.Get("/tokens", h.ListTokens)
			r.Get("/vaults", h.ListVaults)
			r.Get("/prices/{chain}/{address}", h.GetPrice)

			// Combined position sessions
			r.Post("/sessions", h.CreateSession)
			r.Get("/sessions/{id}", h.GetSession)
			r.Delete("/sessions/{id}", h.DeleteSession)
			r.Post("/sessions/{id}/open", h.OpenSession)
			r.Put("/sessions/{id}/wallet", h.SetWallet)
			r.Post("/sessions/{id}/vaults", h.ToggleVault)
			r.Delete("/sessions/{id}/vaults/{vaultId}", h.RemoveVault)
			r.Put("/sessions/{id}/vaults/{vaultId}/allocation", h.SetAllocation)
			r.Put("/sessions/{id}/amount", h.SetAmount)
			r.Post("/sessions/{id}/quotes", h.FetchQuotes)
			r.Post("/sessions/{id}/deposit/validate", h.ValidateDeposit)
			r.Get("/sessions/{id}/deposit/plan", h.DepositPlan)
			r.Get("/sessions/{id}/runs", h.ListRuns)
		})
	})

	return r
}
