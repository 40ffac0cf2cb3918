package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/cache"
	"github.com/skygenesisenterprise/aether-broker/internal/http/handlers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/router"
	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/mfa"
	"github.com/skygenesisenterprise/aether-broker/internal/notify"
	"github.com/skygenesisenterprise/aether-broker/internal/rate"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/sso"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

type env struct {
	handler http.Handler
	store   *memory.Store
	issuer  *jwt.Issuer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)
	issuer := jwt.NewIssuer("https://id.test", "https://id.test", ks)

	sessions := identity.NewBroker(st, issuer, "", "", 0)
	rbacEngine := rbac.NewEngine(st)
	require.NoError(t, rbacEngine.Bootstrap(context.Background()))

	ssoBroker := sso.NewBroker(st, issuer, rbacEngine, sessions,
		"https://id.test/login", "https://id.test", "https://id.test")

	c := cache.NewMemory("")
	deps := handlers.Deps{
		Store:        st,
		Issuer:       issuer,
		SSO:          ssoBroker,
		Sessions:     sessions,
		MFA:          mfa.NewEngine(st, notify.NewDispatcher(nil, nil), 0, 0, ""),
		RBAC:         rbacEngine,
		Webhooks:     webhook.NewEngine(st),
		MFALimiter:   rate.New(c, 100, time.Minute, true),
		TokenLimiter: rate.New(c, 100, time.Minute, true),
	}

	st.PutUser(&core.User{ID: "u-1", Email: "ana@example.com", Role: core.RoleAdmin, Status: core.StatusActive})
	st.PutClient(&core.ClientApplication{
		ID:                 "client-internal-1",
		ClientID:           "app1",
		AllowedScopes:      []string{"openid"},
		DefaultScopes:      []string{"openid"},
		RedirectURIs:       []string{"https://app.test/cb"},
		DefaultRedirectURL: "https://app.test/cb",
		IsActive:           true,
	})

	return &env{handler: router.New(deps), store: st, issuer: issuer}
}

func (e *env) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

// oauthError lee el envelope {error, error_description} del token endpoint.
func oauthError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Description)
	return body.Error
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status"`)
}

func TestDiscoveryAndJWKS(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var disc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &disc))
	require.Equal(t, "https://id.test", disc["issuer"])

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.NotEmpty(t, jwks.Keys)
}

func TestAuthorizeRedirects(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize?client_id=app1&state=xyz", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	require.NotEmpty(t, loc.Query().Get("session_id"))
}

func TestAuthorizeUnknownClient(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize?client_id=nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_CLIENT", errorCode(t, rec))
}

func TestAuthorizeWithoutClientID(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MISSING_FIELDS", errorCode(t, rec))
}

func TestFullCodeFlowThroughHTTP(t *testing.T) {
	e := newEnv(t)

	// authorize -> login
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize?client_id=app1&state=s1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	sessionID := loc.Query().Get("session_id")

	// callback post-login -> redirect con code + cookie de identidad
	rec = e.do(t, httptest.NewRequest(http.MethodGet,
		"/api/v1/auth/sso/callback?session_id="+sessionID+"&user_id=u-1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())

	loc, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// exchange form-urlencoded
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", "app1")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.Equal(t, "Bearer", tokens.TokenType)

	claims, err := e.issuer.VerifyAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject())

	// replay del mismo código: envelope OAuth, no la taxonomía interna
	req = httptest.NewRequest(http.MethodPost, "/api/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_grant", oauthError(t, rec))
}

func TestTokenUnknownClient(t *testing.T) {
	e := newEnv(t)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "cualquier-cosa")
	form.Set("client_id", "nope")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_client", oauthError(t, rec))
}

func TestTokenUnsupportedGrant(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/token",
		strings.NewReader(`{"grant_type":"password"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", oauthError(t, rec))
}

func TestRefreshEndpoint(t *testing.T) {
	e := newEnv(t)

	user, err := e.store.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	refresh, _, err := e.issuer.IssueRefreshToken(user)
	require.NoError(t, err)

	form := url.Values{}
	form.Set("refresh_token", refresh)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/sso/refresh", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
}

func TestRefreshEndpointRejectsBadToken(t *testing.T) {
	e := newEnv(t)

	form := url.Values{}
	form.Set("refresh_token", "basura")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/sso/refresh", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_grant", oauthError(t, rec))

	// sin refresh_token: invalid_request con 400
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/sso/refresh", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", oauthError(t, rec))
}

func TestRBACRequiresToken(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rbac/roles", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_MISSING", errorCode(t, rec))
}

func TestRBACListRolesWithAdminToken(t *testing.T) {
	e := newEnv(t)

	user, err := e.store.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	token, _, err := e.issuer.IssueAccessToken(user, []string{"roles:read"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rbac/roles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Roles []map[string]any `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Roles, 4)
}

func TestRBACForbiddenWithoutPermission(t *testing.T) {
	e := newEnv(t)

	e.store.PutUser(&core.User{ID: "u-2", Email: "basic@example.com", Role: core.RoleUser, Status: core.StatusActive})
	user, err := e.store.GetUser(context.Background(), "u-2")
	require.NoError(t, err)
	token, _, err := e.issuer.IssueAccessToken(user, []string{"users:read"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rbac/roles/any-id", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(t, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookRetryFailedRequiresAdminPermission(t *testing.T) {
	e := newEnv(t)

	user, err := e.store.GetUser(context.Background(), "u-1")
	require.NoError(t, err)

	// sin admin:access
	token, _, err := e.issuer.IssueAccessToken(user, []string{"webhooks:write"}, nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/retry-failed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(t, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// con admin:access: no hay pendientes, responde ok igual
	token, _, err = e.issuer.IssueAccessToken(user, []string{"admin:access"}, nil)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/retry-failed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)
}

func TestWebhookTestEndpointNotFound(t *testing.T) {
	e := newEnv(t)

	user, err := e.store.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	token, _, err := e.issuer.IssueAccessToken(user, []string{"webhooks:write"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/no-existe/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(t, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestSessionValidateWithoutCookie(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/session/validate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"valid":false`)
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/no-existe", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestMetricsEndpointExposed(t *testing.T) {
	e := newEnv(t)
	// genera al menos una request medida antes de scrapear
	e.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
