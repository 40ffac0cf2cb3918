package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

func TestTriggerDeliversSignedPayload(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	var gotBody []byte
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{
		URL:       srv.URL,
		Events:    []string{"user.login"},
		CreatedBy: "admin",
	})
	require.NoError(t, err)
	require.NotEmpty(t, wh.Secret)

	results, err := e.Trigger(ctx, webhook.Event{
		Type:   "user.login",
		UserID: "u-1",
		Data:   map[string]any{"userId": "u-1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, http.StatusOK, results[0].StatusCode)

	require.Equal(t, "user.login", gotEvent)
	// la firma cubre exactamente los bytes recibidos
	require.True(t, webhook.VerifySignature(wh.Secret, gotBody, gotSig))
}

func TestTriggerIsolatesFailingEndpoint(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	good, err := e.Create(ctx, webhook.CreateInput{URL: ok.URL, Events: []string{"user.created"}})
	require.NoError(t, err)
	bad, err := e.Create(ctx, webhook.CreateInput{URL: broken.URL, Events: []string{"user.created"}, RetryCount: 2})
	require.NoError(t, err)

	results, err := e.Trigger(ctx, webhook.Event{Type: "user.created"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]webhook.DeliveryResult{}
	for _, r := range results {
		byID[r.WebhookID] = r
	}
	require.True(t, byID[good.ID].Success)
	require.False(t, byID[bad.ID].Success)
	require.Equal(t, http.StatusInternalServerError, byID[bad.ID].StatusCode)
}

func TestDeliveryRecordsAndRetrySchedule(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}, RetryCount: 3})
	require.NoError(t, err)

	_, err = e.Trigger(ctx, webhook.Event{Type: "user.login"})
	require.NoError(t, err)

	recent, err := st.ListRecentDeliveries(ctx, wh.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	for _, d := range recent {
		require.False(t, d.Success)
		require.Equal(t, 3, d.MaxAttempts)
		require.LessOrEqual(t, d.Attempts, d.MaxAttempts)
		require.Nil(t, d.DeliveredAt)
		if d.Attempts < d.MaxAttempts {
			// intentos con margen programan el reintento; el último no
			require.NotNil(t, d.NextRetryAt)
			require.True(t, d.NextRetryAt.After(time.Now().UTC()))
		} else {
			require.Nil(t, d.NextRetryAt)
		}
	}
}

func TestSuccessfulDeliverySetsDeliveredAt(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}})
	require.NoError(t, err)

	_, err = e.Trigger(ctx, webhook.Event{Type: "user.login"})
	require.NoError(t, err)

	recent, err := st.ListRecentDeliveries(ctx, wh.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.True(t, recent[0].Success)
	require.NotNil(t, recent[0].DeliveredAt)
	require.Nil(t, recent[0].NextRetryAt)
}

func TestRetryPendingContinuesAttemptNumbering(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}, RetryCount: 3})
	require.NoError(t, err)

	// intento 1 fallido con reintento vencido
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.CreateDelivery(ctx, &core.WebhookDelivery{
		WebhookID:   wh.ID,
		EventType:   "user.login",
		Payload:     `{"id":"p-1","event":"user.login","data":{"userId":"u-1"},"timestamp":"2026-08-29T12:00:00Z"}`,
		Success:     false,
		Attempts:    1,
		MaxAttempts: 3,
		NextRetryAt: &past,
	}))

	require.NoError(t, e.RetryPending(ctx))

	// la numeración continúa en 2 y 3, nunca pasa MaxAttempts
	recent, err := st.ListRecentDeliveries(ctx, wh.ID, 50)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	seen := map[int]bool{}
	for _, d := range recent {
		require.False(t, d.Success)
		require.LessOrEqual(t, d.Attempts, d.MaxAttempts)
		seen[d.Attempts] = true
	}
	require.True(t, seen[1] && seen[2] && seen[3])
}

func TestRetryPendingRedeliversStoredPayload(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	var gotBody []byte
	var gotID, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotID = r.Header.Get("X-Webhook-ID")
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}, RetryCount: 3})
	require.NoError(t, err)

	stored := `{"id":"p-1","event":"user.login","data":{"userId":"u-1"},"timestamp":"2026-08-29T12:00:00Z"}`
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.CreateDelivery(ctx, &core.WebhookDelivery{
		WebhookID:   wh.ID,
		EventType:   "user.login",
		Payload:     stored,
		Success:     false,
		Attempts:    1,
		MaxAttempts: 3,
		NextRetryAt: &past,
	}))

	require.NoError(t, e.RetryPending(ctx))

	// el receptor ve los mismos bytes, mismo id de payload y firma válida
	require.Equal(t, stored, string(gotBody))
	require.Equal(t, "p-1", gotID)
	require.True(t, webhook.VerifySignature(wh.Secret, gotBody, gotSig))
}

func TestDeliverBypassesSubscriptionFilter(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.deleted"}})
	require.NoError(t, err)

	res, err := e.Deliver(ctx, wh.ID, webhook.Event{Type: "webhook.test", Data: map[string]any{"message": "ping"}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "webhook.test", gotEvent)

	_, err = e.Deliver(ctx, "no-existe", webhook.Event{Type: "webhook.test"})
	require.Error(t, err)
	require.True(t, core.IsNotFound(err))
}

func TestTriggerSkipsInactiveAndUnsubscribed(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no debería recibir entregas")
	}))
	defer srv.Close()

	inactive, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}})
	require.NoError(t, err)
	off := false
	_, err = e.Update(ctx, inactive.ID, webhook.UpdateInput{IsActive: &off})
	require.NoError(t, err)

	_, err = e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.deleted"}})
	require.NoError(t, err)

	results, err := e.Trigger(ctx, webhook.Event{Type: "user.login"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGetStats(t *testing.T) {
	st := memory.New()
	e := webhook.NewEngine(st)
	ctx := context.Background()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := e.Create(ctx, webhook.CreateInput{URL: srv.URL, Events: []string{"user.login"}, RetryCount: 2})
	require.NoError(t, err)

	_, err = e.Trigger(ctx, webhook.Event{Type: "user.login"})
	require.NoError(t, err)

	s, err := e.GetStats(ctx, wh.ID)
	require.NoError(t, err)
	require.Equal(t, 2, s.Total)
	require.Equal(t, 1, s.Successful)
	require.Equal(t, 1, s.Failed)
	require.InDelta(t, 50.0, s.SuccessRate, 0.01)
}
