// Package router arma el árbol de rutas del broker sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/handlers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/metrics"
	"github.com/skygenesisenterprise/aether-broker/internal/http/middleware"
)

// New construye el router con la cadena de middleware completa y todos los
// handlers registrados.
func New(deps handlers.Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover)
	r.Use(metrics.Instrument)
	r.Use(middleware.Logging)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, apperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, apperrors.ErrBadRequest.WithDetail("método no permitido"))
	})

	handlers.NewHealth(deps.Store).Register(r)
	handlers.NewOIDC(deps.Issuer).Register(r)
	handlers.NewOAuth(deps).Register(r)
	handlers.NewSession(deps).Register(r)
	handlers.NewMFA(deps).Register(r)
	handlers.NewRBAC(deps).Register(r)
	handlers.NewWebhookAdmin(deps).Register(r)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
