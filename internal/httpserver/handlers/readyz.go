package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready   bool   `json:"ready"`
	Version uint64 `json:"history_version"`
}

// Readyz reports ready once startup registrations have been submitted.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := d.Ready == nil || d.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, readyzResponse{
			Ready:   ready,
			Version: d.Broker.Dispatcher().Version(),
		})
	}
}
