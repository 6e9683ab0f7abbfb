package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	redisstore "github.com/MrSnakeDoc/namebroker/internal/store/redis"
)

const (
	defaultRegisterTimeout = 10 * time.Second
	maxRegistrationBody    = 64 << 10
)

type registrationResponse struct {
	Mapping domain.ServiceMapping `json:"mapping"`
	Outcome string                `json:"outcome"`
}

// outcomeStatus maps a registration outcome to its HTTP status.
func outcomeStatus(o domain.Outcome) int {
	switch o {
	case domain.OutcomeSucceeded:
		return http.StatusOK
	case domain.OutcomeConflicted:
		return http.StatusConflict
	case domain.OutcomeCancelled:
		return http.StatusGone
	default:
		return http.StatusAccepted
	}
}

// Register adds a local mapping and waits for its outcome. If the outcome is
// not known before the register timeout, 202 is returned and the
// registration keeps going.
func Register(d deps.Deps) http.HandlerFunc {
	timeout := d.RegisterTimeout
	if timeout <= 0 {
		timeout = defaultRegisterTimeout
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var m domain.ServiceMapping
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := m.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		outcome, err := d.Broker.Register(ctx, m)
		if err != nil && r.Context().Err() != nil {
			// client went away, the registration goes on without it
			d.Logger.Debug("registration request abandoned",
				logger.String("name", m.Name),
				logger.Error(err))
			return
		}

		d.Logger.Info("registration request",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec),
			logger.String("outcome", outcome.String()))

		if outcome == domain.OutcomeSucceeded && d.Store != nil {
			reg := redisstore.Registration{Mapping: m, RegisteredAt: time.Now().UTC()}
			if err := d.Store.SaveRegistration(r.Context(), reg); err != nil {
				d.Logger.Warn("failed to persist registration",
					logger.String("name", m.Name),
					logger.Error(err))
			}
		}

		writeJSON(w, outcomeStatus(outcome), registrationResponse{
			Mapping: m,
			Outcome: outcome.String(),
		})
	}
}

// Unregister removes a local mapping. Unknown or mismatched mappings are
// ignored, so the call is idempotent.
func Unregister(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := domain.ServiceMapping{
			Name: chi.URLParam(r, "name"),
			Spec: r.URL.Query().Get("spec"),
		}
		if err := m.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := d.Broker.Unregister(r.Context(), m); err != nil {
			writeBrokerError(w, err)
			return
		}

		if d.Store != nil {
			if err := d.Store.DeleteRegistration(r.Context(), m); err != nil {
				d.Logger.Warn("failed to delete persisted registration",
					logger.String("name", m.Name),
					logger.Error(err))
			}
		}

		d.Logger.Info("unregistered mapping",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec))
		w.WriteHeader(http.StatusNoContent)
	}
}
