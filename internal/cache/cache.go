// Package cache provee un cliente key-value con soporte multi-backend.
//
//   - Memory (go-cache, in-process; desarrollo/single-instance)
//   - Redis (distribuido; producción multi-instancia)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache usadas por el broker
// (rate limiting MFA, datos efímeros).
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL. ttl 0 = sin expiración.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr incrementa un contador y retorna el nuevo valor. Si la key no
	// existía arranca en 1 y queda con el TTL dado.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// ErrNotFound: la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// Config para crear un cliente.
type Config struct {
	Kind     string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New crea un cliente según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
