package sso

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestComputeChallengeS256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	got, err := ComputeChallenge(verifier, "S256")
	if err != nil {
		t.Fatalf("ComputeChallenge: %v", err)
	}
	if got != want {
		t.Fatalf("challenge = %q, want %q", got, want)
	}
}

func TestComputeChallengePlain(t *testing.T) {
	for _, method := range []string{"plain", ""} {
		got, err := ComputeChallenge("abc123", method)
		if err != nil {
			t.Fatalf("method %q: %v", method, err)
		}
		if got != "abc123" {
			t.Fatalf("method %q: challenge = %q", method, got)
		}
	}
}

func TestComputeChallengeUnsupportedMethod(t *testing.T) {
	if _, err := ComputeChallenge("abc", "S512"); err != ErrUnsupportedChallengeMethod {
		t.Fatalf("err = %v, want ErrUnsupportedChallengeMethod", err)
	}
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "some-high-entropy-verifier-string-43chars-min"
	challenge, err := ComputeChallenge(verifier, "S256")
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifyPKCE(challenge, "S256", verifier); err != nil {
		t.Fatalf("verifier correcto rechazado: %v", err)
	}
	if err := VerifyPKCE(challenge, "S256", "otro-verifier"); err != ErrInvalidCodeVerifier {
		t.Fatalf("err = %v, want ErrInvalidCodeVerifier", err)
	}
	if err := VerifyPKCE(challenge, "S256", ""); err != ErrCodeVerifierRequired {
		t.Fatalf("err = %v, want ErrCodeVerifierRequired", err)
	}
}

func TestVerifyPKCEPlain(t *testing.T) {
	if err := VerifyPKCE("v1", "plain", "v1"); err != nil {
		t.Fatalf("plain correcto rechazado: %v", err)
	}
	if err := VerifyPKCE("v1", "plain", "v2"); err != ErrInvalidCodeVerifier {
		t.Fatalf("err = %v, want ErrInvalidCodeVerifier", err)
	}
}
