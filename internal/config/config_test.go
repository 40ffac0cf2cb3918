package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
identity:
  issuer_url: "https://id.test"
tokens:
  access_ttl: 5m
  refresh_ttl: 720h
session:
  ttl: 48h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Tokens.AccessTTL.Std(); got != 5*time.Minute {
		t.Fatalf("access_ttl = %v", got)
	}
	if got := cfg.Tokens.RefreshTTL.Std(); got != 720*time.Hour {
		t.Fatalf("refresh_ttl = %v", got)
	}
	if got := cfg.Session.TTL.Std(); got != 48*time.Hour {
		t.Fatalf("session.ttl = %v", got)
	}
	// no especificado: default
	if got := cfg.Tokens.AuthCodeTTL.Std(); got != 10*time.Minute {
		t.Fatalf("auth_code_ttl default = %v", got)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
identity:
  issuer_url: "https://id.test"
tokens:
  access_ttl: quince minutos
`)
	if _, err := Load(path); err == nil {
		t.Fatal("duración inválida aceptada")
	}
}

func TestLoadRequiresIssuerURL(t *testing.T) {
	path := writeConfig(t, "app:\n  env: dev\n")
	if _, err := Load(path); err == nil {
		t.Fatal("config sin issuer_url aceptada")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AETHER_ISSUER_URL", "https://env.test")
	t.Setenv("AETHER_ADDR", ":9999")
	t.Setenv("AETHER_STORAGE_DRIVER", "pg")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.IssuerURL != "https://env.test" {
		t.Fatalf("issuer_url = %q", cfg.Identity.IssuerURL)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "pg" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	// audience cae al issuer cuando no se especifica
	if cfg.Identity.Audience != "https://env.test" {
		t.Fatalf("audience = %q", cfg.Identity.Audience)
	}
}

func TestAudienceFollowsEnvIssuer(t *testing.T) {
	// issuer en YAML pisado por env: el audience derivado sigue al env,
	// no al valor del archivo
	path := writeConfig(t, `
identity:
  issuer_url: "https://file.test"
`)
	t.Setenv("AETHER_ISSUER_URL", "https://env.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.Audience != "https://env.test" {
		t.Fatalf("audience = %q", cfg.Identity.Audience)
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("AETHER_ISSUER_URL", "https://id.test")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver default = %q", cfg.Storage.Driver)
	}
	if cfg.Session.CookieName != "AETHER_IDENTITY_SESSION" {
		t.Fatalf("cookie default = %q", cfg.Session.CookieName)
	}
	if cfg.MFA.MaxAttempts != 3 {
		t.Fatalf("max_attempts default = %d", cfg.MFA.MaxAttempts)
	}
}
