package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/middleware"
	"github.com/skygenesisenterprise/aether-broker/internal/mfa"
	"github.com/skygenesisenterprise/aether-broker/internal/rate"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// MFAHandler expone setup, verificación y baja de MFA.
//
// verify y send-code son parte del flujo de login (el usuario todavía no
// tiene access token), por eso no pasan por Auth; el rate limiter por
// (addr, userId) es la protección contra fuerza bruta.
type MFAHandler struct {
	deps Deps
}

func NewMFA(deps Deps) *MFAHandler { return &MFAHandler{deps: deps} }

func (h *MFAHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Post("/api/v1/mfa/verify", h.verify)
		r.Post("/api/v1/mfa/send-code", h.sendCode)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.deps.Issuer))
		r.Post("/api/v1/mfa/setup", h.setup)
		r.Post("/api/v1/mfa/disable", h.disable)
		r.Get("/api/v1/mfa/status", h.status)
	})
}

func (h *MFAHandler) setup(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var body struct {
		Method      string `json:"method"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.Method == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("method es requerido"))
		return
	}

	res, err := h.deps.MFA.Setup(r.Context(), mfa.SetupRequest{
		UserID:      p.UserID,
		Method:      core.MFAMethod(body.Method),
		PhoneNumber: body.PhoneNumber,
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	helpers.WriteJSON(w, status, res)
}

func (h *MFAHandler) verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
		Code      string `json:"code"`
		Method    string `json:"method"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.UserID == "" || body.SessionID == "" || body.Code == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("userId, sessionId y code son requeridos"))
		return
	}

	key := rate.Key("mfa_verify", middleware.RemoteAddr(r), body.UserID)
	if h.deps.MFALimiter != nil && !h.deps.MFALimiter.Allow(r.Context(), key) {
		apperrors.WriteError(w, apperrors.ErrRateLimitExceeded)
		return
	}

	res, err := h.deps.MFA.Verify(r.Context(), mfa.VerifyRequest{
		UserID:    body.UserID,
		SessionID: body.SessionID,
		Code:      body.Code,
		Method:    core.MFAMethod(body.Method),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if res.Success && h.deps.MFALimiter != nil {
		h.deps.MFALimiter.Reset(r.Context(), key)
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnauthorized
	}
	helpers.WriteJSON(w, status, res)
}

func (h *MFAHandler) sendCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
		Method    string `json:"method"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.UserID == "" || body.SessionID == "" || body.Method == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("userId, sessionId y method son requeridos"))
		return
	}

	key := rate.Key("mfa_send", middleware.RemoteAddr(r), body.UserID)
	if h.deps.MFALimiter != nil && !h.deps.MFALimiter.Allow(r.Context(), key) {
		apperrors.WriteError(w, apperrors.ErrRateLimitExceeded)
		return
	}

	ok := h.deps.MFA.SendCode(r.Context(), body.UserID, body.SessionID, core.MFAMethod(body.Method))
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": ok})
}

func (h *MFAHandler) disable(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var body struct {
		Password string `json:"password"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.Password == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("password es requerido"))
		return
	}

	res, err := h.deps.MFA.Disable(r.Context(), p.UserID, body.Password)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnauthorized
	}
	helpers.WriteJSON(w, status, res)
}

func (h *MFAHandler) status(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())
	helpers.WriteJSON(w, http.StatusOK, h.deps.MFA.GetStatus(r.Context(), p.UserID))
}
