package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// WriteError, so all endpoints share one error shape:
//
//	{"error": "invalid API key", "status_code": 401,
//	 "timestamp": "2025-06-01T12:00:00Z", "path": "/active-users"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
}

// writeJSON sends data with the given status. Headers must be set before
// WriteHeader; anything set afterwards is silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are gone already; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// WriteError maps a domain error to its status code and writes the error
// body. It has the auth.ErrorWriter signature so the identity middleware
// reports failures the same way handlers do.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)

	var appErr *apperror.AppError
	if status == http.StatusTooManyRequests && errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{
		Error:      message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
	})
}

// classify picks the status code and the caller-visible message.
//
// Only *apperror.AppError messages reach the caller. Anything else is a
// bug or an infrastructure failure and becomes a generic 500; the raw
// message might carry SQL or file paths.
func classify(err error) (int, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal server error"
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, appErr.Message
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, appErr.Message
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, appErr.Message
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, appErr.Message
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, appErr.Message
	case errors.Is(err, apperror.ErrTooManyRequests):
		return http.StatusTooManyRequests, appErr.Message
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, appErr.Message
	case errors.Is(err, apperror.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, appErr.Message
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func statusOf(err error) int {
	status, _ := classify(err)
	return status
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}
