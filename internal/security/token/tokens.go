package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateHexSecret genera nBytes aleatorios en hexadecimal.
// Usado para secrets de webhooks y auth codes internos.
func GenerateHexSecret(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateNumericCode genera un código numérico de ancho fijo,
// con cada dígito elegido por crypto/rand (para SMS/Email MFA).
func GenerateNumericCode(length int) (string, error) {
	const digits = "0123456789"
	out := make([]byte, length)
	buf := make([]byte, 1)
	for i := 0; i < length; i++ {
		// rejection sampling para no sesgar el dígito
		for {
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			if buf[0] < 250 {
				out[i] = digits[int(buf[0])%10]
				break
			}
		}
	}
	return string(out), nil
}

// GenerateBackupCodes genera n códigos de respaldo (4 bytes hex, mayúsculas).
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		codes = append(codes, fmt.Sprintf("%X", b))
	}
	return codes, nil
}
