// Package identity implementa el identity session broker: la sesión
// cross-domain que habilita el SSO seamless entre aplicaciones del
// ecosistema, materializada como cookie firmada más registro en el store.
package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// DefaultCookieName es el nombre de la cookie de sesión.
const DefaultCookieName = "AETHER_IDENTITY_SESSION"

// Broker administra identity sessions.
type Broker struct {
	store  core.Store
	issuer *jwt.Issuer

	CookieName   string
	CookieDomain string
	TTL          time.Duration // default 30 días
}

// NewBroker crea el broker de identity sessions.
func NewBroker(st core.Store, issuer *jwt.Issuer, cookieName, cookieDomain string, ttl time.Duration) *Broker {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Broker{
		store:        st,
		issuer:       issuer,
		CookieName:   cookieName,
		CookieDomain: cookieDomain,
		TTL:          ttl,
	}
}

// SessionData es el resultado de validar una sesión vigente.
type SessionData struct {
	UserID    string
	Email     string
	Role      core.UserRoleKind
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Create emite una sesión nueva para el usuario autenticado, la persiste y
// setea la cookie. Retorna el token firmado.
func (b *Broker) Create(ctx context.Context, w http.ResponseWriter, user *core.User) (string, error) {
	sessionID := uuid.NewString()
	token, exp, err := b.issuer.IssueSessionToken(user, sessionID, b.TTL)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	s := &core.IdentitySession{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: exp,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.CreateIdentitySession(ctx, s); err != nil {
		// la cookie firmada alcanza para el flujo; el registro es soporte
		logger.Named("identity").Error("failed to store identity session",
			logger.UserID(user.ID), logger.Err(err))
	}

	b.setCookie(w, token, exp)
	logger.Named("identity").Info("identity session created",
		logger.UserID(user.ID), logger.SessionID(sessionID))
	return token, nil
}

// Validate resuelve la sesión desde la request. Cualquier falla (cookie
// ausente, token inválido o vencido, sesión inactiva, usuario inexistente)
// degrada a nil sin error: el caller cae al flujo de login.
func (b *Broker) Validate(ctx context.Context, r *http.Request) *SessionData {
	c, err := r.Cookie(b.CookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	claims, err := b.issuer.VerifySessionToken(c.Value)
	if err != nil {
		logger.Named("identity").Debug("identity session token rejected", logger.Err(err))
		return nil
	}

	s, err := b.store.GetIdentitySession(ctx, claims.SessionID())
	if err != nil || !s.IsActive || !s.ExpiresAt.After(time.Now().UTC()) {
		return nil
	}
	if s.UserID != claims.Subject() {
		return nil
	}

	user, err := b.store.GetUser(ctx, s.UserID)
	if err != nil {
		return nil
	}

	return &SessionData{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: s.SessionID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

// Refresh rota el token de la sesión y extiende la expiración; setea la
// cookie nueva.
func (b *Broker) Refresh(ctx context.Context, w http.ResponseWriter, sd *SessionData) error {
	user, err := b.store.GetUser(ctx, sd.UserID)
	if err != nil {
		return err
	}
	token, exp, err := b.issuer.IssueSessionToken(user, sd.SessionID, b.TTL)
	if err != nil {
		return err
	}
	if err := b.store.RefreshIdentitySession(ctx, sd.SessionID, token, exp); err != nil {
		logger.Named("identity").Error("failed to refresh identity session",
			logger.SessionID(sd.SessionID), logger.Err(err))
	}
	b.setCookie(w, token, exp)
	return nil
}

// Clear desactiva las sesiones del usuario y borra la cookie. userID puede
// ser vacío (sólo limpia la cookie del browser).
func (b *Broker) Clear(ctx context.Context, w http.ResponseWriter, userID string) error {
	b.clearCookie(w)
	if userID == "" {
		return nil
	}
	if err := b.store.DeactivateIdentitySessions(ctx, userID); err != nil {
		return err
	}
	logger.Named("identity").Info("identity sessions deactivated", logger.UserID(userID))
	return nil
}

// HttpOnly + Secure + SameSite=Lax: la cookie viaja en navegación
// top-level cross-site pero no es accesible desde JS.
func (b *Broker) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.CookieName,
		Value:    token,
		Domain:   b.CookieDomain,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Broker) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.CookieName,
		Value:    "",
		Domain:   b.CookieDomain,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
