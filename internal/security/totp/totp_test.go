package totp

import (
	"strings"
	"testing"
	"time"
)

func TestSecretRoundTrip(t *testing.T) {
	raw, b32, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 20 {
		t.Fatalf("secret de %d bytes, esperaba 20", len(raw))
	}
	if strings.Contains(b32, "=") {
		t.Fatalf("secret con padding: %q", b32)
	}

	dec, err := DecodeSecret(b32)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != string(raw) {
		t.Fatal("decode no reproduce los bytes originales")
	}

	// tolera minúsculas y padding
	dec, err = DecodeSecret(strings.ToLower(b32) + "==")
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != string(raw) {
		t.Fatal("decode con padding/minúsculas no reproduce los bytes")
	}
}

func TestVerifyWindow(t *testing.T) {
	raw, _, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}

	// instante alineado al paso para que el drift sea exacto en pasos
	base := time.Unix(30_000_000*Period, 0)
	code := Generate(raw, base)

	cases := []struct {
		drift time.Duration
		want  bool
	}{
		{0, true},
		{30 * time.Second, true},
		{60 * time.Second, true},
		{-60 * time.Second, true},
		{90 * time.Second, false},
		{-90 * time.Second, false},
	}
	for _, c := range cases {
		if got := Verify(raw, code, base.Add(c.drift), 2); got != c.want {
			t.Errorf("Verify con drift %v = %v, want %v", c.drift, got, c.want)
		}
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	raw, _, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "12345", "1234567", "abcdef"} {
		if Verify(raw, bad, time.Now(), 2) {
			t.Errorf("código %q aceptado", bad)
		}
	}
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("Aether Identity", "ana@example.com", "SECRET")
	if !strings.HasPrefix(u, "otpauth://totp/") {
		t.Fatalf("url = %q", u)
	}
	for _, want := range []string{"secret=SECRET", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(u, want) {
			t.Errorf("url sin %q: %s", want, u)
		}
	}
}
