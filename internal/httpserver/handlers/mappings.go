package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

type conflictResponse struct {
	Mapping  domain.ServiceMapping `json:"mapping"`
	Conflict bool                  `json:"conflict"`
}

// watchError is the last line of a watch stream that cannot continue.
type watchError struct {
	Error   string `json:"error"`
	Version uint64 `json:"version"`
}

// Mappings returns the published snapshot, or the collapsed changes after
// ?since= when given.
func Mappings(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, ok, err := queryVersion(r, "since")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		disp := d.Broker.Dispatcher()
		if !ok {
			writeJSON(w, http.StatusOK, disp.Current())
			return
		}
		writeJSON(w, http.StatusOK, disp.Diff(since))
	}
}

// Watch streams history entries after ?since= as newline-delimited JSON,
// replaying what was retained and then following live changes.
func Watch(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, _, err := queryVersion(r, "since")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		hist := d.Broker.History()
		if since < hist.Floor() {
			writeJSON(w, http.StatusGone, watchError{
				Error:   history.ErrTrimmed.Error(),
				Version: hist.Version(),
			})
			return
		}

		rc := http.NewResponseController(w)
		// the stream outlives the server write timeout
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = rc.Flush()

		ctx := r.Context()
		if d.Streams != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(d.Streams, cancel)
			defer stop()
		}
		enc := json.NewEncoder(w)
		sub := d.Broker.Dispatcher().Subscribe(since)
		for {
			e, err := sub.Next(ctx)
			if err != nil {
				if errors.Is(err, history.ErrTrimmed) {
					_ = enc.Encode(watchError{Error: err.Error(), Version: hist.Version()})
					_ = rc.Flush()
				}
				d.Logger.Debug("watch stream ended",
					logger.Uint64("cursor", sub.Cursor()),
					logger.Error(err))
				return
			}
			if err := enc.Encode(e); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// Lookup returns the directory entry for a name, pending or not.
func Lookup(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		info, ok, err := d.Broker.Lookup(r.Context(), name)
		if err != nil {
			writeBrokerError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "unknown name")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// Conflicts reports whether registering ?name=&spec= would conflict.
func Conflicts(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		m := domain.ServiceMapping{Name: q.Get("name"), Spec: q.Get("spec")}
		if err := m.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		conflict, err := d.Broker.WouldConflict(r.Context(), m)
		if err != nil {
			writeBrokerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conflictResponse{Mapping: m, Conflict: conflict})
	}
}
