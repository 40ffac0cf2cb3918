package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
)

func newBroker(t *testing.T) (*identity.Broker, *memory.Store, *core.User) {
	t.Helper()
	st := memory.New()
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)
	issuer := jwt.NewIssuer("https://id.test", "https://id.test", ks)

	user := &core.User{ID: "u-1", Email: "ana@example.com", Role: core.RoleUser, Status: core.StatusActive}
	st.PutUser(user)
	return identity.NewBroker(st, issuer, "", "", 0), st, user
}

func requestWithCookie(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "https://id.test/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestCreateSetsCookieAndValidates(t *testing.T) {
	b, _, user := newBroker(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	token, err := b.Create(ctx, rec, user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	require.Equal(t, identity.DefaultCookieName, c.Name)
	require.Equal(t, token, c.Value)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)

	sd := b.Validate(ctx, requestWithCookie(rec))
	require.NotNil(t, sd)
	require.Equal(t, "u-1", sd.UserID)
	require.Equal(t, "ana@example.com", sd.Email)
	require.True(t, sd.ExpiresAt.After(time.Now()))
}

func TestValidateDegradesToNil(t *testing.T) {
	b, _, user := newBroker(t)
	ctx := context.Background()

	// sin cookie
	req := httptest.NewRequest(http.MethodGet, "https://id.test/", nil)
	require.Nil(t, b.Validate(ctx, req))

	// token adulterado
	rec := httptest.NewRecorder()
	token, err := b.Create(ctx, rec, user)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "https://id.test/", nil)
	req.AddCookie(&http.Cookie{Name: identity.DefaultCookieName, Value: token + "x"})
	require.Nil(t, b.Validate(ctx, req))

	// basura directa
	req = httptest.NewRequest(http.MethodGet, "https://id.test/", nil)
	req.AddCookie(&http.Cookie{Name: identity.DefaultCookieName, Value: "no-es-un-jwt"})
	require.Nil(t, b.Validate(ctx, req))
}

func TestRefreshExtendsSession(t *testing.T) {
	b, _, user := newBroker(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	_, err := b.Create(ctx, rec, user)
	require.NoError(t, err)

	sd := b.Validate(ctx, requestWithCookie(rec))
	require.NotNil(t, sd)

	rec2 := httptest.NewRecorder()
	require.NoError(t, b.Refresh(ctx, rec2, sd))

	cookies := rec2.Result().Cookies()
	require.Len(t, cookies, 1)
	require.NotEmpty(t, cookies[0].Value)

	sd2 := b.Validate(ctx, requestWithCookie(rec2))
	require.NotNil(t, sd2)
	require.Equal(t, sd.SessionID, sd2.SessionID)
}

func TestClearDeactivatesSessions(t *testing.T) {
	b, _, user := newBroker(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	_, err := b.Create(ctx, rec, user)
	require.NoError(t, err)
	require.NotNil(t, b.Validate(ctx, requestWithCookie(rec)))

	rec2 := httptest.NewRecorder()
	require.NoError(t, b.Clear(ctx, rec2, user.ID))

	// la cookie se borra
	cookies := rec2.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)

	// y la sesión del store queda inactiva aunque el token siga vivo
	require.Nil(t, b.Validate(ctx, requestWithCookie(rec)))
}

func TestClearWithoutUserOnlyClearsCookie(t *testing.T) {
	b, _, _ := newBroker(t)
	rec := httptest.NewRecorder()
	require.NoError(t, b.Clear(context.Background(), rec, ""))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Empty(t, cookies[0].Value)
}
