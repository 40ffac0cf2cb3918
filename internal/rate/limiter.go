// Package rate implementa rate limiting de ventana fija sobre el cache.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/cache"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
)

// Limiter aplica un límite de N operaciones por ventana, por key.
// Los contadores viven en el cache, así el límite es compartido entre
// instancias cuando el backend es redis.
type Limiter struct {
	cache   cache.Client
	limit   int64
	window  time.Duration
	enabled bool
}

// New crea un limiter. limit <= 0 o enabled=false lo deja en passthrough.
func New(c cache.Client, limit int, window time.Duration, enabled bool) *Limiter {
	return &Limiter{
		cache:   c,
		limit:   int64(limit),
		window:  window,
		enabled: enabled && limit > 0,
	}
}

// Allow registra un hit para la key y responde si todavía entra en la
// ventana. Ante un error de cache deja pasar: el rate limiting es
// protección best-effort, no puede tirar el flujo de login.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if !l.enabled {
		return true
	}
	n, err := l.cache.Incr(ctx, "rate:"+key, l.window)
	if err != nil {
		logger.Named("rate").Warn("rate counter unavailable, allowing request",
			logger.String("key", key), logger.Err(err))
		return true
	}
	return n <= l.limit
}

// Reset limpia el contador de una key (ej. tras verificación MFA exitosa).
func (l *Limiter) Reset(ctx context.Context, key string) {
	if !l.enabled {
		return
	}
	_ = l.cache.Delete(ctx, "rate:"+key)
}

// Key arma la key compuesta (addr, subject) para los endpoints MFA.
func Key(scope, addr, subject string) string {
	return fmt.Sprintf("%s:%s:%s", scope, addr, subject)
}
