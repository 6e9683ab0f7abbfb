package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/mw"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
)

func init() { Register(registerReload) }

func registerReload(r chi.Router, d deps.Deps) {
	r.With(
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		telemetry.Instrument("reload"),
	).Post("/reload", handlers.Reload(d))
}
