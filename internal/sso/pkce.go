package sso

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

var (
	// ErrCodeVerifierRequired: la sesión tiene challenge y no vino verifier.
	ErrCodeVerifierRequired = errors.New("sso: code verifier required")

	// ErrUnsupportedChallengeMethod: método distinto de S256/plain.
	ErrUnsupportedChallengeMethod = errors.New("sso: unsupported code challenge method")

	// ErrInvalidCodeVerifier: el verifier no matchea el challenge.
	ErrInvalidCodeVerifier = errors.New("sso: invalid code verifier")
)

// ComputeChallenge deriva el challenge PKCE desde un verifier.
// S256 = base64url(SHA256(verifier)) sin padding; plain = verifier.
func ComputeChallenge(verifier, method string) (string, error) {
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case "plain", "":
		return verifier, nil
	default:
		return "", ErrUnsupportedChallengeMethod
	}
}

// VerifyPKCE valida el verifier contra el challenge registrado en la sesión.
func VerifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return ErrCodeVerifierRequired
	}
	computed, err := ComputeChallenge(verifier, method)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrInvalidCodeVerifier
	}
	return nil
}
