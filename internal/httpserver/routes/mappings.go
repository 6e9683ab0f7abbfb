package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
)

func init() { Register(registerMappings) }

func registerMappings(r chi.Router, d deps.Deps) {
	r.With(telemetry.Instrument("mappings")).Get("/v1/mappings", handlers.Mappings(d))
	r.With(telemetry.Instrument("watch")).Get("/v1/mappings/watch", handlers.Watch(d))
	r.With(telemetry.Instrument("lookup")).Get("/v1/names/{name}", handlers.Lookup(d))
	r.With(telemetry.Instrument("conflicts")).Get("/v1/conflicts", handlers.Conflicts(d))
}
