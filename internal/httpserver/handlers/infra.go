package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/directory"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
)

const componentProbeTimeout = 2 * time.Second

type componentStatus struct {
	OK      bool   `json:"ok"`
	Enabled bool   `json:"enabled"`
	Impact  string `json:"impact,omitempty"`
	Error   string `json:"error,omitempty"`
}

type historyStatus struct {
	Version  uint64 `json:"version"`
	Floor    uint64 `json:"floor"`
	Retained int    `json:"retained"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Directory  *directory.Stats           `json:"directory,omitempty"`
	History    historyStatus              `json:"history"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), componentProbeTimeout)
		defer cancel()

		components := map[string]componentStatus{
			"broker":   checkBroker(ctx, d),
			"redis":    checkRedis(ctx, d),
			"etcd":     checkEtcd(ctx, d),
			"mappings": {OK: true, Enabled: d.MappingsFile != ""},
		}

		var stats *directory.Stats
		if s, err := d.Broker.Stats(ctx); err == nil {
			stats = &s
		}

		hist := d.Broker.History()
		writeJSON(w, http.StatusOK, infraResponse{
			Mode:      determineMode(components),
			Directory: stats,
			History: historyStatus{
				Version:  hist.Version(),
				Floor:    hist.Floor(),
				Retained: hist.Len(),
			},
			Components: components,
		})
	}
}

// determineMode summarizes components: "critical" when the broker loop is
// gone, "degraded" when an enabled integration is down, otherwise
// "clustered" or "standalone".
func determineMode(components map[string]componentStatus) string {
	if b, ok := components["broker"]; ok && !b.OK {
		return "critical"
	}
	for _, c := range components {
		if c.Enabled && !c.OK {
			return "degraded"
		}
	}
	if e, ok := components["etcd"]; ok && e.Enabled {
		return "clustered"
	}
	return "standalone"
}

func checkBroker(ctx context.Context, d deps.Deps) componentStatus {
	if _, err := d.Broker.Stats(ctx); err != nil {
		return componentStatus{Enabled: true, Impact: "registrations-unavailable", Error: err.Error()}
	}
	return componentStatus{OK: true, Enabled: true}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.Store == nil {
		return componentStatus{OK: true, Impact: "registrations-not-persisted"}
	}
	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{Enabled: true, Impact: "registrations-not-persisted", Error: err.Error()}
	}
	return componentStatus{OK: true, Enabled: true}
}

func checkEtcd(ctx context.Context, d deps.Deps) componentStatus {
	if d.EtcdClient == nil {
		return componentStatus{OK: true, Impact: "no-peer-sync"}
	}
	for _, ep := range d.EtcdClient.Endpoints() {
		if _, err := d.EtcdClient.Status(ctx, ep); err == nil {
			return componentStatus{OK: true, Enabled: true}
		}
	}
	return componentStatus{Enabled: true, Impact: "peer-sync-stalled", Error: "no endpoint reachable"}
}
