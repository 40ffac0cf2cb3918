// Package sso implementa el broker OAuth2/OIDC: authorize, token exchange,
// refresh y logout, intermediando entre las aplicaciones cliente y la
// identity session cross-domain.
package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/audit"
	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	tokens "github.com/skygenesisenterprise/aether-broker/internal/security/token"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

var (
	// ErrInvalidClient: client desconocido o inactivo.
	ErrInvalidClient = errors.New("sso: invalid or inactive client")

	// ErrInvalidRedirectURL: final_redirect_url no parsea como URL.
	ErrInvalidRedirectURL = errors.New("sso: invalid final redirect URL format")

	// ErrRedirectURINotAllowed: redirect_uri fuera del allow-list del client.
	ErrRedirectURINotAllowed = errors.New("sso: redirect URI not allowed")

	// ErrNoRedirectURI: ni request ni client aportan destino.
	ErrNoRedirectURI = errors.New("sso: no redirect URI specified")

	// ErrInvalidSession: authorization session inexistente, sin usuario o ya
	// consumida.
	ErrInvalidSession = errors.New("sso: invalid or expired authorization session")

	// ErrUserInactive: usuario inexistente o no ACTIVE.
	ErrUserInactive = errors.New("sso: user not found or inactive")

	// ErrUnsupportedGrant: grant_type no soportado.
	ErrUnsupportedGrant = errors.New("sso: unsupported grant type")
)

// Broker orquesta el flujo OAuth2 completo.
type Broker struct {
	store    core.Store
	issuer   *jwt.Issuer
	rbac     *rbac.Engine
	sessions *identity.Broker

	// LoginURL es la página de login del frontend de identidad.
	LoginURL string
	// APIBaseURL arma los callbacks api_callback / logout.
	APIBaseURL string
	// IssuerBaseURL arma las URLs de authorize/logout del lado identidad.
	IssuerBaseURL string

	CodeTTL time.Duration
}

// NewBroker crea el broker SSO.
func NewBroker(st core.Store, issuer *jwt.Issuer, rb *rbac.Engine, sessions *identity.Broker, loginURL, apiBaseURL, issuerBaseURL string) *Broker {
	return &Broker{
		store:         st,
		issuer:        issuer,
		rbac:          rb,
		sessions:      sessions,
		LoginURL:      loginURL,
		APIBaseURL:    apiBaseURL,
		IssuerBaseURL: issuerBaseURL,
		CodeTTL:       jwt.CodeTTL,
	}
}

// ---------- Authorize ----------

// AuthorizeRequest son los parámetros del endpoint de autorización.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	FinalRedirectURL    string
}

// Authorize valida el client, crea la authorization session y decide el
// destino: SSO seamless si hay identity session vigente, o login.
func (b *Broker) Authorize(ctx context.Context, req AuthorizeRequest, httpReq *http.Request) (string, error) {
	client, err := b.validateClient(ctx, req.ClientID)
	if err != nil {
		return "", err
	}

	finalRedirect, err := determineRedirectURI(client, req)
	if err != nil {
		return "", err
	}

	scopes := validateScopes(client, req.Scope)

	session, err := b.createAuthSession(ctx, client, req, scopes)
	if err != nil {
		return "", err
	}

	var existing *identity.SessionData
	if httpReq != nil {
		existing = b.sessions.Validate(ctx, httpReq)
	}

	if existing != nil {
		return b.seamlessRedirect(ctx, existing, session, client, finalRedirect)
	}
	return b.loginRedirect(session, client, finalRedirect), nil
}

func (b *Broker) validateClient(ctx context.Context, clientID string) (*core.ClientApplication, error) {
	client, err := b.store.GetClientByClientID(ctx, clientID)
	if err != nil || !client.IsActive {
		return nil, ErrInvalidClient
	}
	return client, nil
}

// determineRedirectURI resuelve el destino final con orden de prioridad:
// final_redirect_url dinámico, redirect_uri contra el allow-list, y el
// default del client como último recurso.
func determineRedirectURI(client *core.ClientApplication, req AuthorizeRequest) (string, error) {
	if req.FinalRedirectURL != "" {
		if _, err := url.ParseRequestURI(req.FinalRedirectURL); err != nil {
			return "", ErrInvalidRedirectURL
		}
		return req.FinalRedirectURL, nil
	}
	if req.RedirectURI != "" {
		for _, allowed := range client.RedirectURIs {
			if allowed == req.RedirectURI {
				return req.RedirectURI, nil
			}
		}
		return "", ErrRedirectURINotAllowed
	}
	if client.DefaultRedirectURL != "" {
		return client.DefaultRedirectURL, nil
	}
	return "", ErrNoRedirectURI
}

// validateScopes filtra los pedidos contra el allow-list; sin pedidos o
// todos inválidos cae a los defaults del client.
func validateScopes(client *core.ClientApplication, requested string) []string {
	if requested == "" {
		return client.DefaultScopes
	}
	allowed := map[string]struct{}{}
	for _, s := range client.AllowedScopes {
		allowed[s] = struct{}{}
	}
	var valid []string
	for _, s := range strings.Fields(requested) {
		if _, ok := allowed[s]; ok {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return client.DefaultScopes
	}
	return valid
}

func (b *Broker) createAuthSession(ctx context.Context, client *core.ClientApplication, req AuthorizeRequest, scopes []string) (*core.AuthSession, error) {
	authCode, err := tokens.GenerateHexSecret(32)
	if err != nil {
		return nil, err
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = client.DefaultRedirectURL
	}

	now := time.Now().UTC()
	s := &core.AuthSession{
		ID:                  uuid.NewString(),
		SessionID:           uuid.NewString(),
		ClientID:            client.ID,
		State:               req.State,
		RedirectURI:         redirectURI,
		FinalRedirectURL:    req.FinalRedirectURL,
		Scope:               strings.Join(scopes, " "),
		ResponseType:        req.ResponseType,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthCode:            authCode,
		AuthCodeExpiresAt:   now.Add(b.CodeTTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := b.store.CreateAuthSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create auth session: %w", err)
	}
	return s, nil
}

// seamlessRedirect resuelve el flujo sin login: fija el usuario sobre la
// sesión, emite el bundle y devuelve el redirect con el código. La sesión
// NO se marca completada acá; eso pasa una única vez en el exchange.
func (b *Broker) seamlessRedirect(ctx context.Context, sd *identity.SessionData, session *core.AuthSession, client *core.ClientApplication, finalRedirect string) (string, error) {
	user, err := b.store.GetUser(ctx, sd.UserID)
	if err != nil {
		return "", ErrUserInactive
	}

	if err := b.store.SetAuthSessionUser(ctx, session.SessionID, user.ID); err != nil {
		return "", fmt.Errorf("bind session user: %w", err)
	}

	bundle, err := b.issueBundle(ctx, user, client.ClientID)
	if err != nil {
		return "", err
	}

	code, err := jwt.EncodeAuthorizationCode(jwt.CodePayload{
		SessionID: session.SessionID,
		Tokens:    *bundle,
		Scope:     session.Scope,
	})
	if err != nil {
		return "", err
	}

	u, err := url.Parse(finalRedirect)
	if err != nil {
		return "", ErrInvalidRedirectURL
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", session.State)
	u.RawQuery = q.Encode()

	audit.Log(ctx, "sso.seamless_authorize", map[string]any{
		"user_id":   user.ID,
		"client_id": client.ClientID,
	})
	return u.String(), nil
}

// loginRedirect arma la URL de login con todos los parámetros del flujo.
func (b *Broker) loginRedirect(session *core.AuthSession, client *core.ClientApplication, finalRedirect string) string {
	u, err := url.Parse(b.LoginURL)
	if err != nil {
		u = &url.URL{Path: "/login"}
	}
	q := u.Query()
	q.Set("session_id", session.SessionID)
	q.Set("client_id", client.ClientID)
	q.Set("redirect_uri", finalRedirect)
	q.Set("response_type", session.ResponseType)
	q.Set("scope", session.Scope)
	q.Set("api_callback", b.APIBaseURL+"/api/v1/auth/sso/callback")
	if session.State != "" {
		q.Set("state", session.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ---------- Callback post-login ----------

// CompleteLogin fija el usuario autenticado sobre la authorization session,
// emite el bundle y arma el redirect final con el código. Lo invoca el
// callback después de que el login (password + MFA) terminó.
func (b *Broker) CompleteLogin(ctx context.Context, sessionID, userID string) (string, error) {
	session, err := b.store.GetAuthSessionBySessionID(ctx, sessionID)
	if err != nil {
		return "", ErrInvalidSession
	}
	if session.IsCompleted || !session.AuthCodeExpiresAt.After(time.Now().UTC()) {
		return "", ErrInvalidSession
	}

	user, err := b.store.GetUser(ctx, userID)
	if err != nil || user.Status != core.StatusActive {
		return "", ErrUserInactive
	}

	if err := b.store.SetAuthSessionUser(ctx, session.SessionID, user.ID); err != nil {
		return "", fmt.Errorf("bind session user: %w", err)
	}

	clientApp, err := b.store.GetClient(ctx, session.ClientID)
	if err != nil {
		return "", ErrInvalidClient
	}

	bundle, err := b.issueBundle(ctx, user, clientApp.ClientID)
	if err != nil {
		return "", err
	}

	code, err := jwt.EncodeAuthorizationCode(jwt.CodePayload{
		SessionID: session.SessionID,
		Tokens:    *bundle,
		Scope:     session.Scope,
	})
	if err != nil {
		return "", err
	}

	target := session.FinalRedirectURL
	if target == "" {
		target = session.RedirectURI
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", ErrInvalidRedirectURL
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", session.State)
	u.RawQuery = q.Encode()

	audit.Log(ctx, "sso.login_completed", map[string]any{
		"user_id":    user.ID,
		"session_id": session.SessionID,
	})
	return u.String(), nil
}

// ---------- Token exchange ----------

// TokenRequest son los parámetros del endpoint de token.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
}

// TokenResponse es la respuesta OAuth2 estándar.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// Token despacha según grant_type.
func (b *Broker) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return b.Exchange(ctx, req)
	case "refresh_token":
		return b.Refresh(ctx, req.RefreshToken)
	default:
		return nil, ErrUnsupportedGrant
	}
}

// Exchange canjea un authorization code por tokens. El code es canjeable a
// lo sumo una vez: el store serializa la transición is_completed bajo
// carreras, dos canjes concurrentes del mismo código dejan exactamente uno
// ganador.
func (b *Broker) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := b.validateClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	payload, err := jwt.DecodeAuthorizationCode(req.Code)
	if err != nil {
		return nil, err
	}

	session, err := b.store.GetAuthSessionBySessionID(ctx, payload.SessionID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if session.IsCompleted || session.UserID == "" {
		return nil, ErrInvalidSession
	}

	// PKCE antes de consumir el código: un verifier inválido no debe
	// quemar la sesión.
	if session.CodeChallenge != "" {
		if err := VerifyPKCE(session.CodeChallenge, session.CodeChallengeMethod, req.CodeVerifier); err != nil {
			return nil, err
		}
	}

	if err := b.store.CompleteAuthSession(ctx, session.SessionID); err != nil {
		if errors.Is(err, core.ErrAlreadyCompleted) {
			logger.Named("sso").Warn("authorization code replay rejected",
				logger.SessionID(session.SessionID))
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("complete auth session: %w", err)
	}

	user, err := b.store.GetUser(ctx, session.UserID)
	if err != nil || user.Status != core.StatusActive {
		return nil, ErrUserInactive
	}

	bundle, err := b.issueBundle(ctx, user, client.ClientID)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, "sso.token_exchange", map[string]any{
		"user_id":    user.ID,
		"client_id":  client.ClientID,
		"session_id": session.SessionID,
	})

	return &TokenResponse{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		IDToken:      bundle.IDToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(b.issuer.AccessTTL.Seconds()),
		Scope:        session.Scope,
	}, nil
}

// Refresh emite un par access+refresh nuevo a partir de un refresh token
// válido. Rotación sin revocación: el refresh anterior sigue siendo válido
// hasta su exp.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := b.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := b.store.GetUser(ctx, claims.Subject())
	if err != nil || user.Status != core.StatusActive {
		return nil, ErrUserInactive
	}

	access, _, err := b.issuer.IssueAccessToken(user, b.resolvePermissions(ctx, user.ID), nil)
	if err != nil {
		return nil, err
	}
	refresh, _, err := b.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(b.issuer.AccessTTL.Seconds()),
	}, nil
}

// ---------- Logout ----------

// Logout arma la URL de logout del lado identidad. Un access token inválido
// no frena el logout: se redirige igual, sin user_id.
func (b *Broker) Logout(ctx context.Context, accessToken string) string {
	u, err := url.Parse(b.IssuerBaseURL + "/api/v1/oauth/logout")
	if err != nil {
		u = &url.URL{Path: "/api/v1/oauth/logout"}
	}
	q := u.Query()
	q.Set("redirect_uri", b.APIBaseURL+"/api/v1/auth/sso/logout/callback")

	if claims, err := b.issuer.VerifyAccessToken(accessToken); err == nil {
		q.Set("user_id", claims.Subject())
		q.Set("logout_id", uuid.NewString())
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ---------- Helpers ----------

// issueBundle emite access+refresh+ID token con permisos RBAC resueltos.
func (b *Broker) issueBundle(ctx context.Context, user *core.User, clientID string) (*jwt.TokenBundle, error) {
	access, _, err := b.issuer.IssueAccessToken(user, b.resolvePermissions(ctx, user.ID), nil)
	if err != nil {
		return nil, err
	}
	refresh, _, err := b.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	idToken, _, err := b.issuer.IssueIDToken(user, clientID, "")
	if err != nil {
		return nil, err
	}
	return &jwt.TokenBundle{AccessToken: access, RefreshToken: refresh, IDToken: idToken}, nil
}

// resolvePermissions consulta RBAC; sin filas o ante error el issuer usa el
// fallback por rol.
func (b *Broker) resolvePermissions(ctx context.Context, userID string) []string {
	if b.rbac == nil {
		return nil
	}
	res, err := b.rbac.Resolve(ctx, userID)
	if err != nil {
		logger.Named("sso").Warn("rbac resolution failed, using role fallback",
			logger.UserID(userID), logger.Err(err))
		return nil
	}
	return res.Permissions
}
