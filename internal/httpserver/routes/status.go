package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/mw"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
)

func init() { Register(registerStatus) }

func registerStatus(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))

	admin := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	admin.Get("/readyz", handlers.Readyz(d))
	admin.With(telemetry.Instrument("infra")).Get("/infra", handlers.Infra(d))
	admin.Method("GET", "/metrics", telemetry.MetricsHandler())
}
