// Package jwt implementa el token service del broker: emisión y verificación
// de access/ID/refresh tokens firmados con EdDSA, keystore con rotación por
// kid, y el envelope del authorization code.
package jwt

import (
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// Issuer firma tokens usando la clave activa del keystore.
type Issuer struct {
	Iss        string // "iss" de todos los tokens
	Aud        string // "aud" de access tokens
	Keys       *Keystore
	AccessTTL  time.Duration // default 15m (también aplica al ID token)
	RefreshTTL time.Duration // default 30d
}

func NewIssuer(iss, aud string, ks *Keystore) *Issuer {
	return &Issuer{
		Iss:        iss,
		Aud:        aud,
		Keys:       ks,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

// signClaims firma un MapClaims con la clave activa, seteando kid/typ.
func (i *Issuer) signClaims(claims jwtv5.MapClaims) (string, error) {
	kid, priv, _, err := i.Keys.Active()
	if err != nil {
		return "", err
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	return tk.SignedString(priv)
}

// IssueAccessToken emite el access token OAuth2 del usuario.
// perms son los permisos efectivos resueltos por RBAC; si vienen vacíos se
// usa el fallback por rol. extra permite pisar/agregar claims.
func (i *Issuer) IssueAccessToken(user *core.User, perms []string, extra map[string]any) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)

	if len(perms) == 0 {
		perms = FallbackPermissions(user.Role)
	}

	claims := jwtv5.MapClaims{
		"iss":         i.Iss,
		"aud":         i.Aud,
		"sub":         user.ID,
		"email":       user.Email,
		"role":        string(user.Role),
		"scope":       DeriveScopes(user),
		"permissions": perms,
		"plan":        PlanFor(user),
		"iat":         now.Unix(),
		"nbf":         now.Unix(),
		"exp":         exp.Unix(),
	}
	if len(user.Memberships) > 0 {
		claims["organization_id"] = user.Memberships[0].OrganizationID
		claims["tenant_id"] = user.Memberships[0].OrganizationID
	}
	for k, v := range extra {
		claims[k] = v
	}

	signed, err := i.signClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueIDToken emite el ID token OIDC. La audiencia es el client que pide,
// no el broker.
func (i *Issuer) IssueIDToken(user *core.User, audienceClientID, nonce string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)

	claims := jwtv5.MapClaims{
		"iss":            i.Iss,
		"aud":            audienceClientID,
		"sub":            user.ID,
		"email":          user.Email,
		"name":           user.DisplayName(),
		"email_verified": user.EmailVerified,
		"role":           string(user.Role),
		"plan":           PlanFor(user),
		"iat":            now.Unix(),
		"exp":            exp.Unix(),
	}
	if user.Avatar != "" {
		claims["picture"] = user.Avatar
	}
	if len(user.Memberships) > 0 {
		claims["organization_id"] = user.Memberships[0].OrganizationID
		claims["tenant_id"] = user.Memberships[0].OrganizationID
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	signed, err := i.signClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefreshToken emite un refresh token: sólo sub + jti + type=refresh.
func (i *Issuer) IssueRefreshToken(user *core.User) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.RefreshTTL)

	claims := jwtv5.MapClaims{
		"iss":  i.Iss,
		"sub":  user.ID,
		"type": "refresh",
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := i.signClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueSessionToken firma el token de la identity session cross-domain
// (sub, email, role, session_id, type=identity_session, TTL provisto).
func (i *Issuer) IssueSessionToken(user *core.User, sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := jwtv5.MapClaims{
		"iss":        i.Iss,
		"aud":        i.Aud,
		"sub":        user.ID,
		"email":      user.Email,
		"role":       string(user.Role),
		"session_id": sessionID,
		"type":       "identity_session",
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
	}
	signed, err := i.signClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ---------- derivación de claims (comportamiento heredado por rol) ----------

// DeriveScopes arma el scope string según rol y membresías.
func DeriveScopes(user *core.User) string {
	scopes := []string{"openid", "profile", "email"}
	switch user.Role {
	case core.RoleAdmin:
		scopes = append(scopes, "admin", "read", "write", "delete")
	case core.RoleManager:
		scopes = append(scopes, "read", "write")
	default:
		scopes = append(scopes, "read")
	}
	if len(user.Memberships) > 0 {
		scopes = append(scopes, "organizations")
	}
	out := scopes[0]
	for _, s := range scopes[1:] {
		out += " " + s
	}
	return out
}

// FallbackPermissions: permisos por rol cuando RBAC no tiene filas.
func FallbackPermissions(role core.UserRoleKind) []string {
	switch role {
	case core.RoleAdmin:
		return []string{
			"users:read", "users:write", "users:delete",
			"accounts:read", "accounts:write", "accounts:delete",
			"organizations:read", "organizations:write", "organizations:delete",
			"projects:read", "projects:write", "projects:delete",
			"admin:access",
		}
	case core.RoleManager:
		return []string{
			"users:read",
			"accounts:read", "accounts:write",
			"organizations:read",
			"projects:read", "projects:write",
		}
	case core.RoleUser:
		return []string{"accounts:read", "projects:read"}
	default:
		return []string{"accounts:read"}
	}
}

// PlanFor deriva el plan del usuario.
func PlanFor(user *core.User) string {
	if user.Role == core.RoleAdmin {
		return "Enterprise"
	}
	if len(user.Memberships) > 0 {
		return "Organization"
	}
	return "Free"
}
