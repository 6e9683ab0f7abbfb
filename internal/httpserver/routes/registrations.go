package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/mw"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
)

func init() { Register(registerRegistrations) }

func registerRegistrations(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		RPS:        d.RateLimitRPS,
		Burst:      d.RateLimitBurst,
		MaxEntries: 10000,
		TrustProxy: d.TrustProxy,
	})

	api := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	api.With(limit, telemetry.Instrument("register")).Post("/v1/registrations", handlers.Register(d))
	api.With(telemetry.Instrument("unregister")).Delete("/v1/registrations/{name}", handlers.Unregister(d))
}
