package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/tracemark/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// errorStatus maps domain errors onto HTTP statuses and client-safe
// messages. Anything unrecognised is logged and reported as a 500.
func errorStatus(op string, err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status, msg := errorStatus(op, err)
	writeJSON(w, status, errorBody(msg))
}
