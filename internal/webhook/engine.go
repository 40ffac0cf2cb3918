// Package webhook implementa suscripciones de webhooks y el engine de
// entrega: firma HMAC, fan-out paralelo entre webhooks, reintentos
// secuenciales con backoff exponencial y registros de entrega inmutables.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	tokens "github.com/skygenesisenterprise/aether-broker/internal/security/token"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryCount = 3
	userAgent         = "Aether-Identity-Webhooks/1.0"

	// tope de respuesta guardada en el registro de entrega
	maxResponseBytes = 4 * 1024
)

// Engine administra webhooks y entrega eventos.
type Engine struct {
	store  core.Store
	client *http.Client
}

// NewEngine crea el engine. El timeout por request lo fija cada webhook;
// el client comparte transporte.
func NewEngine(st core.Store) *Engine {
	return &Engine{
		store:  st,
		client: &http.Client{},
	}
}

// ---------- CRUD ----------

// CreateInput son los campos de alta de un webhook.
type CreateInput struct {
	URL         string
	Events      []string
	Description string
	CreatedBy   string
	Timeout     time.Duration
	RetryCount  int
}

// Create da de alta un webhook activo con secret propio.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*core.Webhook, error) {
	secret, err := tokens.GenerateHexSecret(32)
	if err != nil {
		return nil, err
	}
	if in.Timeout <= 0 {
		in.Timeout = defaultTimeout
	}
	if in.RetryCount <= 0 {
		in.RetryCount = defaultRetryCount
	}

	now := time.Now().UTC()
	w := &core.Webhook{
		ID:          uuid.NewString(),
		URL:         in.URL,
		Secret:      secret,
		Events:      in.Events,
		Description: in.Description,
		IsActive:    true,
		Timeout:     in.Timeout,
		RetryCount:  in.RetryCount,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateWebhook(ctx, w); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	logger.Named("webhook").Info("webhook created",
		logger.WebhookID(w.ID), logger.String("url", w.URL))
	return w, nil
}

// UpdateInput: punteros nil = no tocar. El secret no es editable.
type UpdateInput struct {
	URL         *string
	Events      *[]string
	Description *string
	IsActive    *bool
	Timeout     *time.Duration
	RetryCount  *int
}

// Update aplica un cambio parcial sobre el webhook.
func (e *Engine) Update(ctx context.Context, id string, upd UpdateInput) (*core.Webhook, error) {
	w, err := e.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.URL != nil {
		w.URL = *upd.URL
	}
	if upd.Events != nil {
		w.Events = *upd.Events
	}
	if upd.Description != nil {
		w.Description = *upd.Description
	}
	if upd.IsActive != nil {
		w.IsActive = *upd.IsActive
	}
	if upd.Timeout != nil {
		w.Timeout = *upd.Timeout
	}
	if upd.RetryCount != nil {
		w.RetryCount = *upd.RetryCount
	}
	w.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateWebhook(ctx, w); err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	return w, nil
}

// Delete elimina un webhook.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.DeleteWebhook(ctx, id)
}

// Detail es un webhook con sus entregas recientes.
type Detail struct {
	*core.Webhook
	RecentDeliveries []*core.WebhookDelivery
}

// Get retorna el webhook con sus últimas 10 entregas.
func (e *Engine) Get(ctx context.Context, id string) (*Detail, error) {
	w, err := e.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	recent, err := e.store.ListRecentDeliveries(ctx, id, 10)
	if err != nil {
		return nil, err
	}
	return &Detail{Webhook: w, RecentDeliveries: recent}, nil
}

// List lista webhooks según filtro.
func (e *Engine) List(ctx context.Context, f core.WebhookFilter) ([]*core.Webhook, error) {
	return e.store.ListWebhooks(ctx, f)
}

// ---------- Entrega ----------

// Event es un evento de dominio a propagar.
type Event struct {
	Type      string
	UserID    string
	Data      any
	Timestamp time.Time
}

// payload es el cuerpo que viaja al endpoint. La firma va por header
// (X-Webhook-Signature) sobre exactamente estos bytes.
type payload struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// DeliveryResult resume el resultado final por webhook.
type DeliveryResult struct {
	WebhookID  string
	Success    bool
	StatusCode int
	Response   string
	Err        string
}

// Trigger entrega el evento a todos los webhooks activos suscriptos. El
// fan-out entre webhooks es paralelo; dentro de cada webhook los intentos
// son secuenciales. Un webhook caído no afecta el resultado de los demás.
func (e *Engine) Trigger(ctx context.Context, event Event) ([]DeliveryResult, error) {
	hooks, err := e.store.ListActiveWebhooksForEvent(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	results := make([]DeliveryResult, len(hooks))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range hooks {
		i, w := i, w
		g.Go(func() error {
			results[i] = e.deliver(gctx, w, event, 1)
			return nil
		})
	}
	_ = g.Wait()

	logger.Named("webhook").Info("event fanned out",
		logger.Event(event.Type), logger.Int("webhooks", len(hooks)))
	return results, nil
}

// Deliver dispara una entrega manual a un webhook puntual, sin pasar por el
// filtro de suscripción. Respaldo del endpoint de prueba.
func (e *Engine) Deliver(ctx context.Context, id string, event Event) (DeliveryResult, error) {
	w, err := e.store.GetWebhook(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	return e.deliver(ctx, w, event, 1), nil
}

// deliver arma el payload y lo entrega desde startAttempt.
func (e *Engine) deliver(ctx context.Context, w *core.Webhook, event Event, startAttempt int) DeliveryResult {
	body, signature, payloadID, err := e.buildPayload(w, event)
	if err != nil {
		return DeliveryResult{WebhookID: w.ID, Success: false, Err: err.Error()}
	}
	return e.deliverPayload(ctx, w, event.Type, body, signature, payloadID, startAttempt)
}

// deliverPayload intenta la entrega desde startAttempt hasta agotar
// RetryCount, registrando cada intento. nextRetryAt queda seteado sólo en
// intentos fallidos que todavía tienen margen; el sweep los retoma desde ahí
// con exactamente estos bytes.
func (e *Engine) deliverPayload(ctx context.Context, w *core.Webhook, eventType string, body []byte, signature, payloadID string, startAttempt int) DeliveryResult {
	result := DeliveryResult{WebhookID: w.ID}
	for attempt := startAttempt; attempt <= w.RetryCount; attempt++ {
		status, respBody, err := e.post(ctx, w, eventType, payloadID, signature, body)

		success := err == nil && status >= 200 && status < 300
		e.recordAttempt(ctx, w, eventType, string(body), status, respBody, success, attempt)

		if success {
			result.Success = true
			result.StatusCode = status
			result.Response = respBody
			return result
		}
		if err != nil {
			result.Err = err.Error()
		} else {
			result.Err = fmt.Sprintf("HTTP %d: %s", status, respBody)
			result.StatusCode = status
		}
	}
	logger.Named("webhook").Warn("delivery exhausted",
		logger.WebhookID(w.ID), logger.Event(eventType),
		logger.String("error", result.Err))
	return result
}

func (e *Engine) buildPayload(w *core.Webhook, event Event) (body []byte, signature, payloadID string, err error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payloadID = uuid.NewString()
	body, err = json.Marshal(payload{
		ID:        payloadID,
		Event:     event.Type,
		Data:      event.Data,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, "", "", err
	}
	return body, Sign(w.Secret, body), payloadID, nil
}

func (e *Engine) post(ctx context.Context, w *core.Webhook, eventType, payloadID, signature string, body []byte) (int, string, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-ID", payloadID)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(respBody), nil
}

// recordAttempt persiste el registro inmutable del intento.
func (e *Engine) recordAttempt(ctx context.Context, w *core.Webhook, eventType, payloadStr string, status int, respBody string, success bool, attempt int) {
	d := &core.WebhookDelivery{
		ID:          uuid.NewString(),
		WebhookID:   w.ID,
		EventType:   eventType,
		Payload:     payloadStr,
		Response:    respBody,
		Success:     success,
		Attempts:    attempt,
		MaxAttempts: w.RetryCount,
		CreatedAt:   time.Now().UTC(),
	}
	if status > 0 {
		d.StatusCode = &status
	}
	if success {
		now := time.Now().UTC()
		d.DeliveredAt = &now
	} else if attempt < w.RetryCount {
		// backoff exponencial: 2^attempt minutos
		next := time.Now().UTC().Add(time.Duration(math.Pow(2, float64(attempt))) * time.Minute)
		d.NextRetryAt = &next
	}

	if err := e.store.CreateDelivery(ctx, d); err != nil {
		logger.Named("webhook").Error("failed to record delivery",
			logger.WebhookID(w.ID), logger.Err(err))
	}
}

// RetryPending retoma entregas fallidas cuyo next_retry_at venció. La
// numeración de intentos continúa desde el registro previo, nunca supera
// MaxAttempts.
func (e *Engine) RetryPending(ctx context.Context) error {
	pending, err := e.store.ListPendingRetries(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list pending retries: %w", err)
	}

	for _, d := range pending {
		w, err := e.store.GetWebhook(ctx, d.WebhookID)
		if err != nil || !w.IsActive {
			continue
		}

		// se reentregan los bytes persistidos: mismo id de payload y mismo
		// timestamp que vio el receptor la primera vez
		body := []byte(d.Payload)
		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			continue
		}

		e.deliverPayload(ctx, w, d.EventType, body, Sign(w.Secret, body), p.ID, d.Attempts+1)
	}
	return nil
}

// Stats agrega métricas de entrega de un webhook.
type Stats struct {
	Total            int                     `json:"total"`
	Successful       int                     `json:"successful"`
	Failed           int                     `json:"failed"`
	SuccessRate      float64                 `json:"successRate"`
	RecentDeliveries []*core.WebhookDelivery `json:"recentDeliveries"`
}

// GetStats calcula las métricas de entrega del webhook.
func (e *Engine) GetStats(ctx context.Context, webhookID string) (*Stats, error) {
	ds, err := e.store.GetDeliveryStats(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	recent, err := e.store.ListRecentDeliveries(ctx, webhookID, 10)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		Total:            ds.Total,
		Successful:       ds.Successful,
		Failed:           ds.Failed,
		RecentDeliveries: recent,
	}
	if ds.Total > 0 {
		s.SuccessRate = float64(ds.Successful) / float64(ds.Total) * 100
	}
	return s, nil
}
