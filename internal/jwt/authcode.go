package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	tokens "github.com/skygenesisenterprise/aether-broker/internal/security/token"
)

// El authorization code es un envelope base64url con el bundle de tokens ya
// emitidos más el sessionId de la AuthSession. No es frontera de seguridad:
// la validez real la controla el broker con el CAS sobre la AuthSession.

var (
	// ErrCodeInvalid: código malformado o no decodificable.
	ErrCodeInvalid = errors.New("jwt: authorization code invalid")

	// ErrCodeExpired: código con más de CodeTTL de antigüedad.
	ErrCodeExpired = errors.New("jwt: authorization code expired")
)

// CodeTTL es la vigencia del authorization code.
const CodeTTL = 10 * time.Minute

// TokenBundle agrupa los tres tokens de un exchange.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

// CodePayload viaja dentro del authorization code.
type CodePayload struct {
	SessionID string      `json:"session_id"`
	Tokens    TokenBundle `json:"tokens"`
	Scope     string      `json:"scope"`
	IssuedAt  int64       `json:"issued_at"` // unix ms
	Nonce     string      `json:"nonce"`     // random, evita códigos idénticos
}

// EncodeAuthorizationCode serializa el payload como base64url(JSON).
func EncodeAuthorizationCode(p CodePayload) (string, error) {
	if p.IssuedAt == 0 {
		p.IssuedAt = time.Now().UTC().UnixMilli()
	}
	if p.Nonce == "" {
		n, err := tokens.GenerateHexSecret(16)
		if err != nil {
			return "", err
		}
		p.Nonce = n
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeAuthorizationCode valida formato y antigüedad (CodeTTL).
func DecodeAuthorizationCode(code string) (*CodePayload, error) {
	b, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return nil, ErrCodeInvalid
	}
	var p CodePayload
	if err := json.Unmarshal(b, &p); err != nil || p.SessionID == "" {
		return nil, ErrCodeInvalid
	}
	age := time.Since(time.UnixMilli(p.IssuedAt))
	if age > CodeTTL {
		return nil, ErrCodeExpired
	}
	return &p, nil
}
