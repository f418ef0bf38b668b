package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

const credentialsMessage = "The provided credentials do not match our records."

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeError translates service errors into JSON responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errs, ok := services.IsValidationError(err); ok {
		fields := make(map[string][]string, len(errs))
		keys := make([]string, 0, len(errs))
		for field, fieldErr := range errs {
			fields[field] = []string{fieldErr.Error()}
			keys = append(keys, field)
		}
		sort.Strings(keys)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Message: fields[keys[0]][0], Errors: fields})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Message: credentialsMessage,
			Errors:  map[string][]string{"email": {credentialsMessage}},
		})
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeMessage(w, http.StatusInternalServerError, "Server Error")
	}
}
