package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/namebroker/internal/broker"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeBrokerError reports a broker call that did not complete.
func writeBrokerError(w http.ResponseWriter, err error) {
	if errors.Is(err, broker.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "broker stopped")
		return
	}
	writeError(w, http.StatusGatewayTimeout, "broker did not answer in time")
}

// queryVersion parses an optional history version from the query string.
func queryVersion(r *http.Request, key string) (v uint64, present bool, err error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, true, nil
}
