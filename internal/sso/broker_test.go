package sso_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/sso"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
)

type fixture struct {
	store    *memory.Store
	issuer   *jwt.Issuer
	sessions *identity.Broker
	broker   *sso.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)
	issuer := jwt.NewIssuer("https://id.test", "https://id.test", ks)
	sessions := identity.NewBroker(st, issuer, "", "", 0)
	broker := sso.NewBroker(st, issuer, rbac.NewEngine(st), sessions,
		"https://id.test/login", "https://id.test", "https://id.test")

	st.PutUser(&core.User{
		ID:     "u-1",
		Email:  "ana@example.com",
		Role:   core.RoleUser,
		Status: core.StatusActive,
	})
	st.PutClient(&core.ClientApplication{
		ID:                 "client-internal-1",
		ClientID:           "app1",
		Name:               "App One",
		AllowedScopes:      []string{"openid", "profile", "email"},
		DefaultScopes:      []string{"openid"},
		RedirectURIs:       []string{"https://app.test/cb"},
		DefaultRedirectURL: "https://app.test/cb",
		IsActive:           true,
	})
	return &fixture{store: st, issuer: issuer, sessions: sessions, broker: broker}
}

// authorizeForLogin corre authorize sin identity session y devuelve el
// session_id de la URL de login.
func (f *fixture) authorizeForLogin(t *testing.T, req sso.AuthorizeRequest) string {
	t.Helper()
	target, err := f.broker.Authorize(context.Background(), req, nil)
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	require.Equal(t, "/login", u.Path)
	sessionID := u.Query().Get("session_id")
	require.NotEmpty(t, sessionID)
	return sessionID
}

func codeFromRedirect(t *testing.T, redirect string) string {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizeRedirectsToLogin(t *testing.T) {
	f := newFixture(t)

	target, err := f.broker.Authorize(context.Background(), sso.AuthorizeRequest{
		ClientID:     "app1",
		ResponseType: "code",
		State:        "xyz",
	}, nil)
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	require.Equal(t, "app1", u.Query().Get("client_id"))
	require.Equal(t, "xyz", u.Query().Get("state"))
	require.Equal(t, "https://id.test/api/v1/auth/sso/callback", u.Query().Get("api_callback"))
	require.Equal(t, "https://app.test/cb", u.Query().Get("redirect_uri"))
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Authorize(context.Background(), sso.AuthorizeRequest{ClientID: "nope"}, nil)
	require.ErrorIs(t, err, sso.ErrInvalidClient)
}

func TestAuthorizeRejectsRedirectOutsideAllowList(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Authorize(context.Background(), sso.AuthorizeRequest{
		ClientID:    "app1",
		RedirectURI: "https://evil.test/cb",
	}, nil)
	require.ErrorIs(t, err, sso.ErrRedirectURINotAllowed)
}

func TestCodeIsExchangeableExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionID := f.authorizeForLogin(t, sso.AuthorizeRequest{ClientID: "app1", State: "s1"})

	redirect, err := f.broker.CompleteLogin(ctx, sessionID, "u-1")
	require.NoError(t, err)
	code := codeFromRedirect(t, redirect)

	resp, err := f.broker.Token(ctx, sso.TokenRequest{
		GrantType: "authorization_code",
		Code:      code,
		ClientID:  "app1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEmpty(t, resp.IDToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "openid", resp.Scope)

	// replay: el mismo código no se canjea dos veces
	_, err = f.broker.Token(ctx, sso.TokenRequest{
		GrantType: "authorization_code",
		Code:      code,
		ClientID:  "app1",
	})
	require.ErrorIs(t, err, sso.ErrInvalidSession)
}

func TestExchangeWithPKCE(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	verifier := "correct-horse-battery-staple-verifier-43chars"
	challenge, err := sso.ComputeChallenge(verifier, "S256")
	require.NoError(t, err)

	sessionID := f.authorizeForLogin(t, sso.AuthorizeRequest{
		ClientID:            "app1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	redirect, err := f.broker.CompleteLogin(ctx, sessionID, "u-1")
	require.NoError(t, err)
	code := codeFromRedirect(t, redirect)

	// verifier inválido: rechaza sin quemar el código
	_, err = f.broker.Token(ctx, sso.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     "app1",
		CodeVerifier: "wrong-verifier",
	})
	require.ErrorIs(t, err, sso.ErrInvalidCodeVerifier)

	// el verifier correcto todavía canjea
	resp, err := f.broker.Token(ctx, sso.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     "app1",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestSeamlessAuthorizeWithIdentitySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.store.GetUser(ctx, "u-1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	token, err := f.sessions.Create(ctx, rec, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://id.test/api/v1/oauth/authorize", nil)
	req.AddCookie(&http.Cookie{Name: identity.DefaultCookieName, Value: token})

	target, err := f.broker.Authorize(ctx, sso.AuthorizeRequest{ClientID: "app1", State: "st"}, req)
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	require.Equal(t, "app.test", u.Host)
	require.Equal(t, "st", u.Query().Get("state"))

	// el código emitido en el flujo seamless se canjea normalmente
	resp, err := f.broker.Token(ctx, sso.TokenRequest{
		GrantType: "authorization_code",
		Code:      u.Query().Get("code"),
		ClientID:  "app1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestCompleteLoginRejectsInactiveUser(t *testing.T) {
	f := newFixture(t)
	f.store.PutUser(&core.User{ID: "u-2", Email: "off@example.com", Status: core.StatusSuspended})

	sessionID := f.authorizeForLogin(t, sso.AuthorizeRequest{ClientID: "app1"})
	_, err := f.broker.CompleteLogin(context.Background(), sessionID, "u-2")
	require.ErrorIs(t, err, sso.ErrUserInactive)
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	refresh, _, err := f.issuer.IssueRefreshToken(user)
	require.NoError(t, err)

	resp, err := f.broker.Token(ctx, sso.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refresh,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Empty(t, resp.IDToken)

	claims, err := f.issuer.VerifyAccessToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject())
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	access, _, err := f.issuer.IssueAccessToken(user, nil, nil)
	require.NoError(t, err)

	_, err = f.broker.Token(ctx, sso.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: access,
	})
	require.Error(t, err)
}

func TestUnsupportedGrantType(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Token(context.Background(), sso.TokenRequest{GrantType: "password"})
	require.ErrorIs(t, err, sso.ErrUnsupportedGrant)
}

func TestExpiredSessionNotExchangeable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.broker.CodeTTL = -time.Minute // la sesión nace vencida
	sessionID := f.authorizeForLogin(t, sso.AuthorizeRequest{ClientID: "app1"})

	_, err := f.broker.CompleteLogin(ctx, sessionID, "u-1")
	require.ErrorIs(t, err, sso.ErrInvalidSession)
}
