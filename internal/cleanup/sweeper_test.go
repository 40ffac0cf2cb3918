package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/cleanup"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
)

func TestRunOncePurgesExpiredState(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	// auth session vencida y una vigente
	require.NoError(t, st.CreateAuthSession(ctx, &core.AuthSession{
		ID:                "as-expired",
		SessionID:         "sess-expired",
		ClientID:          "c-1",
		AuthCodeExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, st.CreateAuthSession(ctx, &core.AuthSession{
		ID:                "as-live",
		SessionID:         "sess-live",
		ClientID:          "c-1",
		AuthCodeExpiresAt: now.Add(time.Hour),
	}))

	// mfa session con código vencido y otra con intentos agotados
	require.NoError(t, st.CreateMFASession(ctx, &core.MFASession{
		ID:            "ms-expired",
		UserID:        "u-1",
		SessionID:     "mfa-expired",
		CodeExpiresAt: now.Add(-time.Hour),
		MaxAttempts:   3,
	}))
	require.NoError(t, st.CreateMFASession(ctx, &core.MFASession{
		ID:            "ms-locked",
		UserID:        "u-1",
		SessionID:     "mfa-locked",
		CodeExpiresAt: now.Add(time.Hour),
		Attempts:      3,
		MaxAttempts:   3,
	}))
	require.NoError(t, st.CreateMFASession(ctx, &core.MFASession{
		ID:            "ms-live",
		UserID:        "u-1",
		SessionID:     "mfa-live",
		CodeExpiresAt: now.Add(time.Hour),
		MaxAttempts:   3,
	}))

	// identity session expirada y una activa
	require.NoError(t, st.CreateIdentitySession(ctx, &core.IdentitySession{
		ID:        "is-expired",
		SessionID: "id-expired",
		UserID:    "u-1",
		ExpiresAt: now.Add(-time.Hour),
		IsActive:  true,
	}))
	require.NoError(t, st.CreateIdentitySession(ctx, &core.IdentitySession{
		ID:        "is-live",
		SessionID: "id-live",
		UserID:    "u-1",
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}))

	s := cleanup.NewSweeper(st, nil, time.Hour)
	s.RunOnce(ctx)

	_, err := st.GetAuthSessionBySessionID(ctx, "sess-expired")
	require.True(t, core.IsNotFound(err))
	_, err = st.GetAuthSessionBySessionID(ctx, "sess-live")
	require.NoError(t, err)

	_, err = st.GetMFASession(ctx, "mfa-expired")
	require.True(t, core.IsNotFound(err))
	_, err = st.GetMFASession(ctx, "mfa-locked")
	require.True(t, core.IsNotFound(err))
	_, err = st.GetMFASession(ctx, "mfa-live")
	require.NoError(t, err)

	_, err = st.GetIdentitySession(ctx, "id-expired")
	require.True(t, core.IsNotFound(err))
	_, err = st.GetIdentitySession(ctx, "id-live")
	require.NoError(t, err)
}

func TestRunOncePurgesOldDeliveries(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CreateDelivery(ctx, &core.WebhookDelivery{
		ID:        "d-old",
		WebhookID: "w-1",
		EventType: "user.login",
		Success:   true,
	}))

	s := cleanup.NewSweeper(st, nil, time.Hour)
	// retención negativa: todo registro existente queda viejo
	s.DeliveryRetention = -time.Minute
	s.RunOnce(ctx)

	recent, err := st.ListRecentDeliveries(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	st := memory.New()
	s := cleanup.NewSweeper(st, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("el sweeper no se detuvo al cancelar el contexto")
	}
}
