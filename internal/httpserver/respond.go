package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rbeam/rbeam/internal/apierror"
)

// Envelope is the uniform response wrapper. Every endpoint returns it,
// success or failure; error responses carry the numeric status in the
// payload.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Payload any    `json:"payload"`
}

// Respond writes a success envelope with the given payload.
func Respond(w http.ResponseWriter, payload any) {
	write(w, http.StatusOK, Envelope{Success: true, Payload: payload})
}

// RespondMessage writes a success envelope whose message carries the
// result (used by endpoints that return tokens).
func RespondMessage(w http.ResponseWriter, message string, payload any) {
	write(w, http.StatusOK, Envelope{Success: true, Message: message, Payload: payload})
}

// RespondError writes a failure envelope. The status comes from the
// error taxonomy: 401 NotAllowed, 404 NotFound, 500 otherwise.
func RespondError(w http.ResponseWriter, err error) {
	status := apierror.Status(err)

	message := err.Error()
	var ae *apierror.Error
	if errors.As(err, &ae) {
		// Hide wrapped causes from callers.
		message = ae.Message()
	}

	write(w, status, Envelope{Success: false, Message: message, Payload: status})
}

func write(w http.ResponseWriter, status int, v Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
