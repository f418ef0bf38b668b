package handlers

import (
	"net/http"

	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles the register/login/logout/me/refresh endpoints.
type AuthHandler struct {
	service services.SessionServiceProvider
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service services.SessionServiceProvider) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register handles new user registration.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload services.RegisterInput
	if !decodeJSON(w, r, &payload) {
		return
	}

	resp, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().Str("user_id", resp.User.ID).Msg("User registered")
	writeJSON(w, http.StatusCreated, resp)
}

// Login handles user authentication and token issuance.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginInput
	if !decodeJSON(w, r, &payload) {
		return
	}

	resp, err := h.service.Login(r.Context(), payload)
	if err != nil {
		if _, ok := services.IsValidationError(err); !ok {
			log.Warn().Err(err).Msg("Failed authentication attempt")
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the token the request was authenticated with.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingToken)
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out."})
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		log.Error().Msg("Could not retrieve user from context")
		writeError(w, r, auth.ErrMissingToken)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Refresh rotates the token the request was authenticated with.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	claims, hasClaims := auth.ClaimsFromContext(r.Context())
	if !ok || !hasClaims {
		writeError(w, r, auth.ErrMissingToken)
		return
	}

	resp, err := h.service.Refresh(r.Context(), *user, claims)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
