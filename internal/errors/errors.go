package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/zhengjr9/foundry-agent/internal/foundry"
)

var (
	ErrFoundryDisabled = errors.New("Foundry is not enabled")
	ErrMissingMessages = errors.New("messages is required")
	ErrMalformedBody   = errors.New("malformed request body")
)

type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps an error from the Foundry client or request handling to the
// HTTP status reported to callers.
func StatusFor(err error) int {
	var (
		statusErr *foundry.StatusError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, ErrFoundryDisabled),
		errors.Is(err, ErrMissingMessages),
		errors.Is(err, ErrMalformedBody),
		errors.Is(err, foundry.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return http.StatusGatewayTimeout
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error body with the status from StatusFor.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSONError(w, StatusFor(err), err.Error())
}
