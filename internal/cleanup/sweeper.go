// Package cleanup implementa el sweep periódico de housekeeping: purga de
// authorization sessions vencidas, MFA sessions agotadas, identity sessions
// expiradas, registros de entrega viejos y reintentos de webhooks.
package cleanup

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

const (
	defaultInterval = time.Hour

	// sesiones de autorización completadas se conservan 24h
	completedSessionRetention = 24 * time.Hour

	// registros de entrega se conservan 90 días
	deliveryRetention = 90 * 24 * time.Hour
)

// Sweeper corre las tareas de limpieza en intervalos fijos. Cada pasada es
// idempotente y segura en concurrencia con tráfico vivo: los deletes
// filtran por expiración o estado terminal, nunca por uso actual.
type Sweeper struct {
	store    core.Store
	webhooks *webhook.Engine

	Interval          time.Duration
	DeliveryRetention time.Duration
}

// NewSweeper crea el sweeper. webhooks puede ser nil (sin reintentos).
func NewSweeper(st core.Store, wh *webhook.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		store:             st,
		webhooks:          wh,
		Interval:          interval,
		DeliveryRetention: deliveryRetention,
	}
}

// Start corre el loop hasta que el contexto se cancele. Corre una pasada
// inmediata al arrancar.
func (s *Sweeper) Start(ctx context.Context) {
	log := logger.Named("cleanup")
	log.Info("cleanup sweeper started", logger.String("interval", s.Interval.String()))

	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup sweeper stopped")
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ejecuta todas las tareas de la pasada. Las fallas individuales se
// loguean y no frenan al resto.
func (s *Sweeper) RunOnce(ctx context.Context) {
	log := logger.Named("cleanup")
	start := time.Now()
	now := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.store.PurgeAuthSessions(gctx, now, now.Add(-completedSessionRetention))
		if err != nil {
			log.Error("auth session purge failed", logger.Err(err))
			return nil
		}
		if n > 0 {
			log.Info("purged auth sessions", logger.Int("count", n))
		}
		return nil
	})

	g.Go(func() error {
		n, err := s.store.PurgeMFASessions(gctx, now)
		if err != nil {
			log.Error("mfa session purge failed", logger.Err(err))
			return nil
		}
		if n > 0 {
			log.Info("purged mfa sessions", logger.Int("count", n))
		}
		return nil
	})

	g.Go(func() error {
		n, err := s.store.PurgeIdentitySessions(gctx, now)
		if err != nil {
			log.Error("identity session purge failed", logger.Err(err))
			return nil
		}
		if n > 0 {
			log.Info("purged identity sessions", logger.Int("count", n))
		}
		return nil
	})

	g.Go(func() error {
		n, err := s.store.PurgeDeliveries(gctx, now.Add(-s.DeliveryRetention))
		if err != nil {
			log.Error("delivery purge failed", logger.Err(err))
			return nil
		}
		if n > 0 {
			log.Info("purged webhook deliveries", logger.Int("count", n))
		}
		return nil
	})

	if s.webhooks != nil {
		g.Go(func() error {
			if err := s.webhooks.RetryPending(gctx); err != nil {
				log.Error("webhook retry sweep failed", logger.Err(err))
			}
			return nil
		})
	}

	_ = g.Wait()
	log.Debug("cleanup pass finished", logger.Duration(time.Since(start)))
}
