package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration parsea duraciones estilo "15m" / "720h" desde YAML; yaml.v3 no
// decodifica strings en time.Duration por sí solo.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("config: duración inválida %q", value.Value)
	}
	*d = Duration(v)
	return nil
}

// Std convierte al time.Duration estándar.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config agrupa toda la configuración del broker.
// Se carga desde YAML y se puede pisar con variables de entorno (AETHER_*).
type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Issuer/audience del broker. El issuer aparece en "iss" de todos los tokens.
	Identity struct {
		IssuerURL    string `yaml:"issuer_url"`
		Audience     string `yaml:"audience"`
		LoginURL     string `yaml:"login_url"`    // entry point interactivo de autenticación
		APIBaseURL   string `yaml:"api_base_url"` // base para callbacks (sso/callback, logout/callback)
		CookieDomain string `yaml:"cookie_domain"`
	} `yaml:"identity"`

	Storage struct {
		// pg | memory
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Tokens struct {
		AccessTTL  Duration `yaml:"access_ttl"`
		RefreshTTL Duration `yaml:"refresh_ttl"`
		// Vigencia del authorization code (envelope y AuthSession).
		AuthCodeTTL Duration `yaml:"auth_code_ttl"`
	} `yaml:"tokens"`

	Session struct {
		CookieName string   `yaml:"cookie_name"`
		TTL        Duration `yaml:"ttl"`
	} `yaml:"session"`

	MFA struct {
		CodeTTL     Duration `yaml:"code_ttl"`
		MaxAttempts int      `yaml:"max_attempts"`
		TOTPIssuer  string   `yaml:"totp_issuer"`
	} `yaml:"mfa"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		MFA     struct {
			Limit  int      `yaml:"limit"`
			Window Duration `yaml:"window"`
		} `yaml:"mfa"`
	} `yaml:"rate"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		// auto | starttls | ssl | none
		TLS                string `yaml:"tls"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	SMS struct {
		// URL del gateway HTTP de SMS. Vacío = sender noop (dev).
		GatewayURL string `yaml:"gateway_url"`
		APIKey     string `yaml:"api_key"`
		From       string `yaml:"from"`
	} `yaml:"sms"`

	Webhooks struct {
		Timeout      Duration `yaml:"timeout"`
		MaxRetries   int      `yaml:"max_retries"`
		SweepEnabled bool     `yaml:"sweep_enabled"`
	} `yaml:"webhooks"`

	Cleanup struct {
		Interval  Duration `yaml:"interval"`
		Retention Duration `yaml:"retention"` // retención de delivery/audit records
	} `yaml:"cleanup"`

	Keys struct {
		// Directorio donde persisten las claves de firma. Vacío = keystore en memoria (dev).
		Dir string `yaml:"dir"`
	} `yaml:"keys"`
}

// Load lee el YAML (si existe), aplica defaults y pisa con env.
// Un path vacío carga sólo defaults + env.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env opcional, nunca es error

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	// después de env: el issuer puede venir de AETHER_ISSUER_URL
	if cfg.Identity.Audience == "" {
		cfg.Identity.Audience = cfg.Identity.IssuerURL
	}

	if cfg.Identity.IssuerURL == "" {
		return nil, fmt.Errorf("config: identity.issuer_url es requerido")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = Duration(15 * time.Minute)
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = Duration(30 * 24 * time.Hour)
	}
	if c.Tokens.AuthCodeTTL == 0 {
		c.Tokens.AuthCodeTTL = Duration(10 * time.Minute)
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "AETHER_IDENTITY_SESSION"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = Duration(30 * 24 * time.Hour)
	}
	if c.MFA.CodeTTL == 0 {
		c.MFA.CodeTTL = Duration(5 * time.Minute)
	}
	if c.MFA.MaxAttempts == 0 {
		c.MFA.MaxAttempts = 3
	}
	if c.MFA.TOTPIssuer == "" {
		c.MFA.TOTPIssuer = "Aether Identity"
	}
	if c.Rate.MFA.Limit == 0 {
		c.Rate.MFA.Limit = 10
	}
	if c.Rate.MFA.Window == 0 {
		c.Rate.MFA.Window = Duration(time.Minute)
	}
	if c.Webhooks.Timeout == 0 {
		c.Webhooks.Timeout = Duration(30 * time.Second)
	}
	if c.Webhooks.MaxRetries == 0 {
		c.Webhooks.MaxRetries = 3
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = Duration(time.Hour)
	}
	if c.Cleanup.Retention == 0 {
		c.Cleanup.Retention = Duration(30 * 24 * time.Hour)
	}
}

// applyEnv pisa valores con variables AETHER_*. Sólo las más operativas;
// el resto vive en YAML.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&c.App.Env, "AETHER_ENV")
	setStr(&c.Server.Addr, "AETHER_ADDR")
	setStr(&c.Identity.IssuerURL, "AETHER_ISSUER_URL")
	setStr(&c.Identity.Audience, "AETHER_AUDIENCE")
	setStr(&c.Identity.LoginURL, "AETHER_LOGIN_URL")
	setStr(&c.Identity.APIBaseURL, "AETHER_API_BASE_URL")
	setStr(&c.Identity.CookieDomain, "AETHER_COOKIE_DOMAIN")
	setStr(&c.Storage.Driver, "AETHER_STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "AETHER_DSN")
	setStr(&c.Cache.Kind, "AETHER_CACHE_KIND")
	setStr(&c.Cache.Redis.Addr, "AETHER_REDIS_ADDR")
	setStr(&c.SMTP.Host, "AETHER_SMTP_HOST")
	setStr(&c.SMTP.Username, "AETHER_SMTP_USER")
	setStr(&c.SMTP.Password, "AETHER_SMTP_PASS")
	setStr(&c.SMTP.From, "AETHER_SMTP_FROM")
	setStr(&c.SMS.GatewayURL, "AETHER_SMS_GATEWAY_URL")
	setStr(&c.SMS.APIKey, "AETHER_SMS_API_KEY")
	setStr(&c.Keys.Dir, "AETHER_KEYS_DIR")

	if v := os.Getenv("AETHER_SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
	if v := os.Getenv("AETHER_RATE_ENABLED"); v != "" {
		c.Rate.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}
