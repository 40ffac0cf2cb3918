package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// HealthHandler expone el healthcheck del broker.
type HealthHandler struct {
	store core.Store
}

func NewHealth(st core.Store) *HealthHandler { return &HealthHandler{store: st} }

func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/healthz", h.healthz)
}

func (h *HealthHandler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, code, map[string]any{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
