package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
)

// OIDCHandler expone los documentos de descubrimiento OIDC.
type OIDCHandler struct {
	issuer *jwt.Issuer
}

func NewOIDC(issuer *jwt.Issuer) *OIDCHandler { return &OIDCHandler{issuer: issuer} }

func (h *OIDCHandler) Register(r chi.Router) {
	r.Get("/.well-known/openid-configuration", h.discovery)
	r.Get("/.well-known/jwks.json", h.jwks)
}

func (h *OIDCHandler) discovery(w http.ResponseWriter, r *http.Request) {
	iss := h.issuer.Iss
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"issuer":                                iss,
		"authorization_endpoint":                iss + "/api/v1/oauth/authorize",
		"token_endpoint":                        iss + "/api/v1/oauth/token",
		"jwks_uri":                              iss + "/.well-known/jwks.json",
		"end_session_endpoint":                  iss + "/api/v1/oauth/logout",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"EdDSA"},
		"scopes_supported":                      []string{"openid", "profile", "email", "read", "write", "delete", "admin", "organizations"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
	})
}

func (h *OIDCHandler) jwks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(h.issuer.Keys.JWKSJSON())
}
