package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
)

const loopProbeTimeout = time.Second

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	BuildDate     string  `json:"build_date,omitempty"`
	GoVersion     string  `json:"go_version,omitempty"`
}

// Healthz is healthy while the broker loop still answers.
func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), loopProbeTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if _, err := d.Broker.Stats(ctx); err != nil {
			status, code = "unresponsive", http.StatusServiceUnavailable
		}

		writeJSON(w, code, healthzResponse{
			Status:        status,
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
			UptimeSeconds: time.Since(start).Seconds(),
		})
	}
}
