package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/coverage-simulator/core"
	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/kb"
)

// ErrInvalidRequest is used for malformed request bodies and parameters.
var ErrInvalidRequest = errors.New("invalid request")

// StatusCode maps engine and store errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, kb.ErrReceiverNotFound),
		errors.Is(err, kb.ErrTransmitterNotFound),
		errors.Is(err, kb.ErrObstacleNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidScenario),
		errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrFormat),
		errors.Is(err, core.ErrPatternNotFound),
		errors.Is(err, kb.ErrInvalidTransmitter),
		errors.Is(err, kb.ErrInvalidReceiver),
		errors.Is(err, kb.ErrInvalidObstacle),
		errors.Is(err, kb.ErrInvalidCanvas):
		return http.StatusBadRequest

	case errors.Is(err, kb.ErrTransmitterExists),
		errors.Is(err, kb.ErrReceiverExists),
		errors.Is(err, kb.ErrObstacleExists),
		errors.Is(err, core.ErrPatternExists):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	log := logging.FromContext(r.Context(), nil)
	if code >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", logging.Int("status", code), logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.Int("status", code), logging.Err(err))
	}
	writeJSON(w, code, errorBody{
		Error:     err.Error(),
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
