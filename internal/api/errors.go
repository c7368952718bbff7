package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/identity"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// APIError is the error body of every JSON API failure: {"code": int, "message": string}.
type APIError struct {
	status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errs[0].Error()
		}
		return &APIError{
			status:  status,
			Code:    status,
			Message: msg,
		}
	}
}

// statusFor maps domain errors to an HTTP status and a message safe to show.
// Unknown errors are logged and reported as 500.
func statusFor(err error) (int, string) {
	msg, ok := content.Message(err)
	switch {
	case errors.Is(err, content.ErrInvalidInput):
		return http.StatusBadRequest, msgOr(msg, ok, "invalid input")
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, msgOr(msg, ok, "already exists")
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, msgOr(msg, ok, "not found")
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	}
	slog.Error("request failed", "error", err)
	return http.StatusInternalServerError, "internal error"
}

func msgOr(msg string, ok bool, fallback string) string {
	if ok && msg != "" {
		return msg
	}
	return fallback
}

// apiError converts a domain error into a huma status error.
func apiError(err error) error {
	status, msg := statusFor(err)
	return huma.NewError(status, msg)
}
