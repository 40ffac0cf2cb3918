package jwt

import (
	"encoding/base64"
	"encoding/json"
)

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON devuelve el JWKS (active + retiring) en JSON.
func (ks *Keystore) JWKSJSON() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var doc jwks
	for _, e := range []*keyEntry{ks.active, ks.retiring} {
		if e == nil {
			continue
		}
		doc.Keys = append(doc.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: e.KID,
			Alg: "EdDSA",
			Use: "sig",
			X:   base64.RawURLEncoding.EncodeToString(e.Pub),
		})
	}
	b, _ := json.Marshal(doc)
	return b
}
