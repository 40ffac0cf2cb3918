package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/middleware"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

// WebhookAdminHandler expone la administración de webhooks y el disparo de
// eventos.
type WebhookAdminHandler struct {
	deps Deps
}

func NewWebhookAdmin(deps Deps) *WebhookAdminHandler { return &WebhookAdminHandler{deps: deps} }

func (h *WebhookAdminHandler) Register(r chi.Router) {
	read := middleware.RequirePermission(h.deps.RBAC, "webhooks:read")
	write := middleware.RequirePermission(h.deps.RBAC, "webhooks:write")
	del := middleware.RequirePermission(h.deps.RBAC, "webhooks:delete")

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.deps.Issuer))

		r.With(read).Get("/api/v1/webhooks", h.list)
		r.With(write).Post("/api/v1/webhooks", h.create)
		r.With(read).Get("/api/v1/webhooks/{webhookID}", h.get)
		r.With(write).Put("/api/v1/webhooks/{webhookID}", h.update)
		r.With(del).Delete("/api/v1/webhooks/{webhookID}", h.delete)
		r.With(read).Get("/api/v1/webhooks/{webhookID}/stats", h.stats)
		r.With(write).Post("/api/v1/webhooks/{webhookID}/test", h.test)

		r.With(write).Post("/api/v1/webhooks/events", h.trigger)
		r.With(middleware.RequirePermission(h.deps.RBAC, "admin:access")).
			Post("/api/v1/webhooks/retry-failed", h.retryFailed)
	})
}

func (h *WebhookAdminHandler) list(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.deps.Webhooks.List(r.Context(), core.WebhookFilter{
		IsActive:  boolParam(r, "isActive"),
		CreatedBy: r.URL.Query().Get("createdBy"),
		Event:     r.URL.Query().Get("event"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	out := make([]webhookJSON, 0, len(hooks))
	for _, wh := range hooks {
		out = append(out, toWebhookJSON(wh, false))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

// create responde el secret una única vez; los GET posteriores lo omiten.
func (h *WebhookAdminHandler) create(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var body struct {
		URL         string   `json:"url"`
		Events      []string `json:"events"`
		Description string   `json:"description"`
		TimeoutMS   int64    `json:"timeoutMs"`
		RetryCount  int      `json:"retryCount"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.URL == "" || len(body.Events) == 0 {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("url y events son requeridos"))
		return
	}

	wh, err := h.deps.Webhooks.Create(r.Context(), webhook.CreateInput{
		URL:         body.URL,
		Events:      body.Events,
		Description: body.Description,
		CreatedBy:   p.UserID,
		Timeout:     time.Duration(body.TimeoutMS) * time.Millisecond,
		RetryCount:  body.RetryCount,
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, toWebhookJSON(wh, true))
}

func (h *WebhookAdminHandler) get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.Webhooks.Get(r.Context(), chi.URLParam(r, "webhookID"))
	if err != nil {
		if core.IsNotFound(err) {
			apperrors.WriteError(w, apperrors.ErrNotFound)
			return
		}
		apperrors.WriteError(w, err)
		return
	}
	recent := make([]deliveryJSON, 0, len(detail.RecentDeliveries))
	for _, d := range detail.RecentDeliveries {
		recent = append(recent, toDeliveryJSON(d))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"webhook":          toWebhookJSON(detail.Webhook, false),
		"recentDeliveries": recent,
	})
}

func (h *WebhookAdminHandler) update(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL         *string   `json:"url"`
		Events      *[]string `json:"events"`
		Description *string   `json:"description"`
		IsActive    *bool     `json:"isActive"`
		TimeoutMS   *int64    `json:"timeoutMs"`
		RetryCount  *int      `json:"retryCount"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}

	upd := webhook.UpdateInput{
		URL:         body.URL,
		Events:      body.Events,
		Description: body.Description,
		IsActive:    body.IsActive,
		RetryCount:  body.RetryCount,
	}
	if body.TimeoutMS != nil {
		t := time.Duration(*body.TimeoutMS) * time.Millisecond
		upd.Timeout = &t
	}

	wh, err := h.deps.Webhooks.Update(r.Context(), chi.URLParam(r, "webhookID"), upd)
	if err != nil {
		if core.IsNotFound(err) {
			apperrors.WriteError(w, apperrors.ErrNotFound)
			return
		}
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toWebhookJSON(wh, false))
}

func (h *WebhookAdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Webhooks.Delete(r.Context(), chi.URLParam(r, "webhookID")); err != nil {
		if core.IsNotFound(err) {
			apperrors.WriteError(w, apperrors.ErrNotFound)
			return
		}
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *WebhookAdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Webhooks.GetStats(r.Context(), chi.URLParam(r, "webhookID"))
	if err != nil {
		if core.IsNotFound(err) {
			apperrors.WriteError(w, apperrors.ErrNotFound)
			return
		}
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, s)
}

// test dispara una entrega de prueba al webhook indicado, sin pasar por el
// filtro de suscripción. El body es opcional.
func (h *WebhookAdminHandler) test(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var body struct {
		EventType string `json:"eventType"`
		TestData  any    `json:"testData"`
	}
	if r.ContentLength > 0 {
		if !helpers.ReadJSON(w, r, &body) {
			return
		}
	}
	if body.EventType == "" {
		body.EventType = "webhook.test"
	}
	if body.TestData == nil {
		body.TestData = map[string]any{"message": "Test webhook delivery"}
	}

	res, err := h.deps.Webhooks.Deliver(r.Context(), chi.URLParam(r, "webhookID"), webhook.Event{
		Type:      body.EventType,
		UserID:    p.UserID,
		Data:      body.TestData,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		if core.IsNotFound(err) {
			apperrors.WriteError(w, apperrors.ErrNotFound)
			return
		}
		apperrors.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   res.Success,
		"testEvent": body.EventType,
		"result": map[string]any{
			"webhookId":  res.WebhookID,
			"statusCode": res.StatusCode,
			"error":      res.Err,
		},
	})
}

// retryFailed relanza las entregas fallidas con next_retry_at vencido.
func (h *WebhookAdminHandler) retryFailed(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Webhooks.RetryPending(r.Context()); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "reintento de entregas fallidas iniciado",
	})
}

// trigger dispara un evento de dominio a todos los webhooks suscriptos.
func (h *WebhookAdminHandler) trigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
		Data   any    `json:"data"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.Type == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("type es requerido"))
		return
	}

	results, err := h.deps.Webhooks.Trigger(r.Context(), webhook.Event{
		Type:      body.Type,
		UserID:    body.UserID,
		Data:      body.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	type resultJSON struct {
		WebhookID  string `json:"webhookId"`
		Success    bool   `json:"success"`
		StatusCode int    `json:"statusCode,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	out := make([]resultJSON, 0, len(results))
	for _, res := range results {
		out = append(out, resultJSON{
			WebhookID:  res.WebhookID,
			Success:    res.Success,
			StatusCode: res.StatusCode,
			Error:      res.Err,
		})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}
