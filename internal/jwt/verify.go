package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid: firma inválida, claims malformados o issuer/audience
	// incorrectos.
	ErrTokenInvalid = errors.New("jwt: token invalid")

	// ErrTokenExpired: el token venció.
	ErrTokenExpired = errors.New("jwt: token expired")
)

// Claims son los claims verificados de un token del broker, como mapa plano.
type Claims map[string]any

func (c Claims) Subject() string { s, _ := c["sub"].(string); return s }
func (c Claims) Email() string   { s, _ := c["email"].(string); return s }
func (c Claims) Role() string    { s, _ := c["role"].(string); return s }
func (c Claims) Scope() string   { s, _ := c["scope"].(string); return s }
func (c Claims) Type() string    { s, _ := c["type"].(string); return s }
func (c Claims) SessionID() string { s, _ := c["session_id"].(string); return s }

// Permissions devuelve el claim permissions como []string.
func (c Claims) Permissions() []string {
	raw, ok := c["permissions"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// keyfunc elige la pubkey por kid; fallback a la activa.
func (i *Issuer) keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" {
			return i.Keys.PublicKeyByKID(kid)
		}
		_, _, pub, err := i.Keys.Active()
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
}

// verify parsea y valida firma + exp/nbf (con leeway chico) + iss, y
// opcionalmente aud. Devuelve los claims como mapa.
func (i *Issuer) verify(token, expectedAud string) (Claims, error) {
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithLeeway(30 * time.Second),
	}
	if expectedAud != "" {
		opts = append(opts, jwtv5.WithAudience(expectedAud))
	}

	mc := jwtv5.MapClaims{}
	parsed, err := jwtv5.ParseWithClaims(token, mc, i.keyfunc(), opts...)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return Claims(mc), nil
}

// VerifyAccessToken valida un access token (iss + aud del broker).
func (i *Issuer) VerifyAccessToken(token string) (Claims, error) {
	return i.verify(token, i.Aud)
}

// VerifyIDToken valida un ID token. Si clientID no es vacío exige esa aud.
func (i *Issuer) VerifyIDToken(token, clientID string) (Claims, error) {
	return i.verify(token, clientID)
}

// VerifyRefreshToken valida un refresh token y exige type=refresh.
// Un access token presentado acá falla con ErrTokenInvalid.
func (i *Issuer) VerifyRefreshToken(token string) (Claims, error) {
	claims, err := i.verify(token, "")
	if err != nil {
		return nil, err
	}
	if claims.Type() != "refresh" {
		return nil, fmt.Errorf("%w: wrong token type", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifySessionToken valida el token de identity session (type=identity_session).
func (i *Issuer) VerifySessionToken(token string) (Claims, error) {
	claims, err := i.verify(token, i.Aud)
	if err != nil {
		return nil, err
	}
	if claims.Type() != "identity_session" {
		return nil, fmt.Errorf("%w: wrong token type", ErrTokenInvalid)
	}
	return claims, nil
}
