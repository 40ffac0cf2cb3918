// Package middleware provee la cadena HTTP del broker: request id, logging,
// recover, autenticación Bearer y chequeo de permisos RBAC.
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/rate"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	principalKey
)

// Principal es la identidad autenticada de la request.
type Principal struct {
	UserID      string
	Email       string
	Role        string
	Scope       string
	Permissions []string
}

// RequestIDFrom recupera el request id del contexto.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// PrincipalFrom recupera la identidad autenticada, o nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// RequestID asigna un id único a cada request y lo expone en el header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusWriter captura el status code para el log de acceso.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// Logging emite una línea de acceso por request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		logger.Named("http").Info("request",
			logger.RequestID(RequestIDFrom(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Status(sw.status),
			logger.Duration(time.Since(start)),
			logger.RemoteAddr(RemoteAddr(r)),
		)
	})
}

// Recover convierte panics en 500 sin tirar el proceso.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Named("http").Error("panic recovered",
					logger.RequestID(RequestIDFrom(r.Context())),
					logger.Path(r.URL.Path),
					logger.String("panic", toString(rec)),
				)
				apperrors.WriteError(w, apperrors.ErrInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

// BearerToken extrae el token del header Authorization.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Auth exige un access token válido y deja el Principal en el contexto.
func Auth(issuer *jwt.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				apperrors.WriteError(w, apperrors.ErrTokenMissing)
				return
			}
			claims, err := issuer.VerifyAccessToken(token)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					apperrors.WriteError(w, apperrors.ErrTokenExpired)
					return
				}
				apperrors.WriteError(w, apperrors.ErrTokenInvalid)
				return
			}
			p := &Principal{
				UserID:      claims.Subject(),
				Email:       claims.Email(),
				Role:        claims.Role(),
				Scope:       claims.Scope(),
				Permissions: claims.Permissions(),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
		})
	}
}

// RequirePermission exige que el principal satisfaga el permiso. Primero
// contra los permisos del token; si no alcanzan, consulta RBAC en vivo (el
// token puede ser anterior a una asignación nueva).
func RequirePermission(engine *rbac.Engine, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				apperrors.WriteError(w, apperrors.ErrUnauthorized)
				return
			}
			for _, granted := range p.Permissions {
				if rbac.Matches(granted, permission) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if engine != nil {
				if ok, err := engine.HasPermission(r.Context(), p.UserID, permission); err == nil && ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.Named("http").Warn("permission denied",
				logger.UserID(p.UserID), logger.String("permission", permission))
			apperrors.WriteError(w, apperrors.ErrForbidden)
		})
	}
}

// RateLimit limita por (addr, subject). subjectFn puede ser nil; en ese caso
// la key es sólo la dirección remota.
func RateLimit(l *rate.Limiter, scope string, subjectFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			subject := ""
			if subjectFn != nil {
				subject = subjectFn(r)
			}
			if !l.Allow(r.Context(), rate.Key(scope, RemoteAddr(r), subject)) {
				apperrors.WriteError(w, apperrors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteAddr resuelve la IP del cliente, respetando X-Forwarded-For.
func RemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
