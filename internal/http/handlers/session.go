package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
)

// SessionHandler expone validación y refresco de la identity session.
type SessionHandler struct {
	deps Deps
}

func NewSession(deps Deps) *SessionHandler { return &SessionHandler{deps: deps} }

func (h *SessionHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/api/v1/session/validate", h.validate)
		r.Post("/api/v1/session/refresh", h.refresh)
		r.Post("/api/v1/session/logout", h.logout)
	})
}

type sessionJSON struct {
	Valid     bool       `json:"valid"`
	UserID    string     `json:"userId,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toSessionJSON(sd *identity.SessionData) sessionJSON {
	exp := sd.ExpiresAt
	return sessionJSON{
		Valid:     true,
		UserID:    sd.UserID,
		Email:     sd.Email,
		Role:      string(sd.Role),
		SessionID: sd.SessionID,
		ExpiresAt: &exp,
	}
}

// validate nunca falla con error: sesión inválida es {valid:false}.
func (h *SessionHandler) validate(w http.ResponseWriter, r *http.Request) {
	sd := h.deps.Sessions.Validate(r.Context(), r)
	if sd == nil {
		helpers.WriteJSON(w, http.StatusOK, sessionJSON{Valid: false})
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toSessionJSON(sd))
}

// refresh rota el token de la sesión y extiende su vigencia.
func (h *SessionHandler) refresh(w http.ResponseWriter, r *http.Request) {
	sd := h.deps.Sessions.Validate(r.Context(), r)
	if sd == nil {
		apperrors.WriteError(w, apperrors.ErrSessionExpired)
		return
	}
	if err := h.deps.Sessions.Refresh(r.Context(), w, sd); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toSessionJSON(sd))
}

// logout desactiva la sesión y limpia la cookie. Idempotente: sin sesión
// vigente igual limpia la cookie y responde éxito.
func (h *SessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if sd := h.deps.Sessions.Validate(r.Context(), r); sd != nil {
		userID = sd.UserID
	}
	if err := h.deps.Sessions.Clear(r.Context(), w, userID); err != nil {
		logger.Named("http").Warn("session logout failed",
			logger.UserID(userID), logger.Err(err))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
