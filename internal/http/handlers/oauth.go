package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/middleware"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/sso"
)

// OAuthHandler expone los endpoints del flujo OAuth2/SSO.
type OAuthHandler struct {
	deps Deps
}

func NewOAuth(deps Deps) *OAuthHandler { return &OAuthHandler{deps: deps} }

func (h *OAuthHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/api/v1/oauth/authorize", h.authorize)
		r.With(middleware.RateLimit(h.deps.TokenLimiter, "oauth_token", nil)).
			Post("/api/v1/oauth/token", h.token)
		r.Get("/api/v1/oauth/logout", h.identityLogout)

		r.Get("/api/v1/auth/sso/callback", h.loginCallback)
		r.Post("/api/v1/auth/sso/refresh", h.refresh)
		r.Post("/api/v1/auth/sso/logout", h.ssoLogout)
		r.Get("/api/v1/auth/sso/logout/callback", h.logoutCallback)
	})
}

// authorize arranca el flujo: valida el client, crea la authorization
// session y redirige al login o, con identity session vigente, directo al
// callback del client con el código.
func (h *OAuthHandler) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := sso.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		FinalRedirectURL:    q.Get("final_redirect_url"),
	}
	if req.ClientID == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("client_id es requerido"))
		return
	}
	if req.ResponseType == "" {
		req.ResponseType = "code"
	}

	target, err := h.deps.SSO.Authorize(r.Context(), req, r)
	if err != nil {
		apperrors.WriteError(w, mapSSOError(err))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// token atiende authorization_code y refresh_token. Acepta form-urlencoded
// (OAuth2 estándar) y JSON. Los errores salen con el envelope de RFC 6749.
func (h *OAuthHandler) token(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseTokenRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.deps.SSO.Token(r.Context(), req)
	if err != nil {
		apperrors.WriteOAuthError(w, mapSSOError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// refresh rota el par access/refresh. Cualquier falla del token sale como
// invalid_grant con 401; el envelope es el mismo que en /oauth/token.
func (h *OAuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseTokenRequest(w, r)
	if !ok {
		return
	}
	if req.RefreshToken == "" {
		apperrors.WriteOAuthErrorCode(w, http.StatusBadRequest,
			"invalid_request", "refresh_token es requerido")
		return
	}

	resp, err := h.deps.SSO.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		apperrors.WriteOAuthErrorCode(w, http.StatusUnauthorized,
			"invalid_grant", "refresh token inválido o vencido")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

func (h *OAuthHandler) parseTokenRequest(w http.ResponseWriter, r *http.Request) (sso.TokenRequest, bool) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			apperrors.WriteOAuthErrorCode(w, http.StatusBadRequest,
				"invalid_request", "body form-urlencoded malformado")
			return sso.TokenRequest{}, false
		}
		return sso.TokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			Code:         r.PostFormValue("code"),
			ClientID:     r.PostFormValue("client_id"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			RefreshToken: r.PostFormValue("refresh_token"),
		}, true
	}

	var body struct {
		GrantType    string `json:"grant_type"`
		Code         string `json:"code"`
		ClientID     string `json:"client_id"`
		RedirectURI  string `json:"redirect_uri"`
		CodeVerifier string `json:"code_verifier"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil && err != io.EOF {
		apperrors.WriteOAuthErrorCode(w, http.StatusBadRequest,
			"invalid_request", "json inválido")
		return sso.TokenRequest{}, false
	}
	return sso.TokenRequest{
		GrantType:    body.GrantType,
		Code:         body.Code,
		ClientID:     body.ClientID,
		RedirectURI:  body.RedirectURI,
		CodeVerifier: body.CodeVerifier,
		RefreshToken: body.RefreshToken,
	}, true
}

// loginCallback cierra el flujo interactivo: el frontend de login lo invoca
// con el session_id y el usuario autenticado. Crea la identity session
// (habilita el próximo SSO seamless) y redirige al client con el código.
func (h *OAuthHandler) loginCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	userID := r.URL.Query().Get("user_id")
	if sessionID == "" || userID == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("session_id y user_id son requeridos"))
		return
	}

	target, err := h.deps.SSO.CompleteLogin(r.Context(), sessionID, userID)
	if err != nil {
		apperrors.WriteError(w, mapSSOError(err))
		return
	}

	if user, err := h.deps.Store.GetUser(r.Context(), userID); err == nil {
		if _, err := h.deps.Sessions.Create(r.Context(), w, user); err != nil {
			logger.Named("http").Warn("identity session creation failed",
				logger.UserID(userID), logger.Err(err))
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// ssoLogout inicia el logout federado: limpia la identity session local y
// devuelve la URL de logout del lado identidad.
func (h *OAuthHandler) ssoLogout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)

	userID := ""
	if claims, err := h.deps.Issuer.VerifyAccessToken(token); err == nil {
		userID = claims.Subject()
	}
	if err := h.deps.Sessions.Clear(r.Context(), w, userID); err != nil {
		logger.Named("http").Warn("identity session clear failed",
			logger.UserID(userID), logger.Err(err))
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"logoutUrl": h.deps.SSO.Logout(r.Context(), token),
	})
}

// identityLogout es el endpoint del lado identidad: desactiva las sesiones
// del usuario y redirige de vuelta.
func (h *OAuthHandler) identityLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	redirectURI := r.URL.Query().Get("redirect_uri")

	if err := h.deps.Sessions.Clear(r.Context(), w, userID); err != nil {
		logger.Named("http").Warn("identity session clear failed",
			logger.UserID(userID), logger.Err(err))
	}

	if redirectURI != "" {
		http.Redirect(w, r, redirectURI, http.StatusFound)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// logoutCallback cierra el ciclo de logout: limpia la cookie del browser.
func (h *OAuthHandler) logoutCallback(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Clear(r.Context(), w, ""); err != nil {
		logger.Named("http").Warn("cookie clear failed", logger.Err(err))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// mapSSOError traduce errores del broker SSO a la taxonomía HTTP.
func mapSSOError(err error) error {
	switch {
	case errors.Is(err, sso.ErrInvalidClient):
		return apperrors.ErrInvalidClient
	case errors.Is(err, sso.ErrRedirectURINotAllowed),
		errors.Is(err, sso.ErrInvalidRedirectURL),
		errors.Is(err, sso.ErrNoRedirectURI):
		return apperrors.ErrInvalidRedirectURI
	case errors.Is(err, sso.ErrCodeVerifierRequired),
		errors.Is(err, sso.ErrUnsupportedChallengeMethod),
		errors.Is(err, sso.ErrInvalidCodeVerifier):
		return apperrors.ErrPKCEFailed
	case errors.Is(err, sso.ErrInvalidSession),
		errors.Is(err, sso.ErrUserInactive),
		errors.Is(err, jwt.ErrCodeInvalid),
		errors.Is(err, jwt.ErrCodeExpired),
		errors.Is(err, jwt.ErrTokenInvalid),
		errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrInvalidGrant
	case errors.Is(err, sso.ErrUnsupportedGrant):
		return apperrors.ErrBadRequest.WithDetail("grant_type no soportado")
	default:
		return err
	}
}
