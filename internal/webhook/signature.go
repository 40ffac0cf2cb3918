package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign calcula la firma HMAC-SHA256 del payload con el secret del webhook,
// en formato "sha256=<hex>".
func Sign(secret string, payload []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(payload)
	return "sha256=" + hex.EncodeToString(m.Sum(nil))
}

// VerifySignature compara en tiempo constante la firma recibida contra la
// esperada. Para consumidores de webhooks.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}
