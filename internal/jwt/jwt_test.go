package jwt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

func testIssuer(t *testing.T) *jwt.Issuer {
	t.Helper()
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)
	return jwt.NewIssuer("https://id.test", "https://id.test", ks)
}

func testUser() *core.User {
	return &core.User{
		ID:     "u-1",
		Email:  "ana@example.com",
		Role:   core.RoleAdmin,
		Status: core.StatusActive,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	iss := testIssuer(t)

	token, exp, err := iss.IssueAccessToken(testUser(), []string{"users:read"}, nil)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	claims, err := iss.VerifyAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject())
	require.Equal(t, "ana@example.com", claims.Email())
	require.Equal(t, "ADMIN", claims.Role())
	require.Equal(t, []string{"users:read"}, claims.Permissions())
	require.Contains(t, claims.Scope(), "openid")
}

func TestAccessTokenFallbackPermissions(t *testing.T) {
	iss := testIssuer(t)

	token, _, err := iss.IssueAccessToken(testUser(), nil, nil)
	require.NoError(t, err)

	claims, err := iss.VerifyAccessToken(token)
	require.NoError(t, err)
	require.Contains(t, claims.Permissions(), "admin:access")
}

func TestRefreshTokenRejectsWrongType(t *testing.T) {
	iss := testIssuer(t)
	user := testUser()

	refresh, _, err := iss.IssueRefreshToken(user)
	require.NoError(t, err)

	claims, err := iss.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject())

	// un access token no sirve como refresh
	access, _, err := iss.IssueAccessToken(user, nil, nil)
	require.NoError(t, err)
	_, err = iss.VerifyRefreshToken(access)
	require.ErrorIs(t, err, jwt.ErrTokenInvalid)
}

func TestSessionTokenType(t *testing.T) {
	iss := testIssuer(t)

	token, _, err := iss.IssueSessionToken(testUser(), "sess-1", time.Hour)
	require.NoError(t, err)

	claims, err := iss.VerifySessionToken(token)
	require.NoError(t, err)
	require.Equal(t, "sess-1", claims.SessionID())

	access, _, err := iss.IssueAccessToken(testUser(), nil, nil)
	require.NoError(t, err)
	_, err = iss.VerifySessionToken(access)
	require.Error(t, err)
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	a := testIssuer(t)
	b := testIssuer(t)

	token, _, err := a.IssueAccessToken(testUser(), nil, nil)
	require.NoError(t, err)

	// clave distinta, mismo iss declarado: firma inválida
	_, err = b.VerifyAccessToken(token)
	require.Error(t, err)
}

func TestRotationKeepsOldTokensVerifiable(t *testing.T) {
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)
	iss := jwt.NewIssuer("https://id.test", "https://id.test", ks)

	before, _, err := iss.IssueAccessToken(testUser(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	// el token firmado con la clave anterior sigue verificando por kid
	_, err = iss.VerifyAccessToken(before)
	require.NoError(t, err)

	after, _, err := iss.IssueAccessToken(testUser(), nil, nil)
	require.NoError(t, err)
	_, err = iss.VerifyAccessToken(after)
	require.NoError(t, err)
}

func TestRotationProducesDistinctKIDs(t *testing.T) {
	ks, err := jwt.NewMemoryKeystore()
	require.NoError(t, err)

	before, _, _, err := ks.Active()
	require.NoError(t, err)

	// rotar dentro del mismo segundo no puede colisionar kids: si colisionan,
	// PublicKeyByKID resuelve la clave nueva para tokens de la vieja
	require.NoError(t, ks.Rotate())
	after, _, _, err := ks.Active()
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	require.NoError(t, ks.Rotate())
	third, _, _, err := ks.Active()
	require.NoError(t, err)
	require.NotEqual(t, after, third)
}

func TestAuthorizationCodeRoundTrip(t *testing.T) {
	code, err := jwt.EncodeAuthorizationCode(jwt.CodePayload{
		SessionID: "sess-1",
		Tokens:    jwt.TokenBundle{AccessToken: "at", RefreshToken: "rt", IDToken: "idt"},
		Scope:     "openid profile",
	})
	require.NoError(t, err)

	p, err := jwt.DecodeAuthorizationCode(code)
	require.NoError(t, err)
	require.Equal(t, "sess-1", p.SessionID)
	require.Equal(t, "at", p.Tokens.AccessToken)
	require.Equal(t, "openid profile", p.Scope)
	require.NotEmpty(t, p.Nonce)
}

func TestAuthorizationCodeExpiry(t *testing.T) {
	code, err := jwt.EncodeAuthorizationCode(jwt.CodePayload{
		SessionID: "sess-1",
		IssuedAt:  time.Now().Add(-jwt.CodeTTL - time.Minute).UnixMilli(),
	})
	require.NoError(t, err)

	_, err = jwt.DecodeAuthorizationCode(code)
	require.ErrorIs(t, err, jwt.ErrCodeExpired)
}

func TestAuthorizationCodeGarbage(t *testing.T) {
	for _, bad := range []string{"", "no-es-base64:::", "eyJub3QiOiJqc29u"} {
		_, err := jwt.DecodeAuthorizationCode(bad)
		require.ErrorIs(t, err, jwt.ErrCodeInvalid, "input %q", bad)
	}
}
