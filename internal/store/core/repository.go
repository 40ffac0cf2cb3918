package core

import (
	"context"
	"time"
)

// MFAUpdate agrupa los campos MFA mutables de un usuario.
// Punteros nil = no tocar; punteros a zero value = limpiar.
type MFAUpdate struct {
	Enabled     *bool
	Method      *MFAMethod
	Secret      *string
	BackupCodes *[]string
	PhoneNumber *string
	CreatedAt   *time.Time
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserMFA(ctx context.Context, userID string, upd MFAUpdate) error
	// ConsumeBackupCode elimina el código si existe; atómico.
	// Retorna false si el código no estaba (ya usado o inválido).
	ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error)
	SetLastMFAUsed(ctx context.Context, userID string, at time.Time) error
}

type ClientRepository interface {
	// GetClient busca por id interno (el que referencian las auth sessions).
	GetClient(ctx context.Context, id string) (*ClientApplication, error)
	GetClientByClientID(ctx context.Context, clientID string) (*ClientApplication, error)
}

type AuthSessionRepository interface {
	CreateAuthSession(ctx context.Context, s *AuthSession) error
	GetAuthSessionBySessionID(ctx context.Context, sessionID string) (*AuthSession, error)
	// SetAuthSessionUser fija el usuario autenticado sobre la sesión.
	SetAuthSessionUser(ctx context.Context, sessionID, userID string) error
	// CompleteAuthSession marca is_completed=true de forma condicional.
	// Si ya estaba completada retorna ErrAlreadyCompleted (invariante
	// at-most-once bajo carreras; el store serializa, no el broker).
	CompleteAuthSession(ctx context.Context, sessionID string) error
	// PurgeAuthSessions borra sesiones con código vencido antes de now y
	// las completadas con updated_at anterior a completedBefore.
	PurgeAuthSessions(ctx context.Context, now, completedBefore time.Time) (int, error)
}

type MFASessionRepository interface {
	GetMFASession(ctx context.Context, sessionID string) (*MFASession, error)
	CreateMFASession(ctx context.Context, s *MFASession) error
	// UpsertMFACode deja un código nuevo con expiración y attempts=0.
	UpsertMFACode(ctx context.Context, userID, sessionID string, method MFAMethod, code string, expiresAt time.Time, maxAttempts int) error
	// IncrementMFAAttempts suma 1 de forma atómica y registra el resultado.
	// Retorna el contador ya incrementado.
	IncrementMFAAttempts(ctx context.Context, id string, verified bool) (int, error)
	DeleteMFASessionsForUser(ctx context.Context, userID string) error
	PurgeMFASessions(ctx context.Context, now time.Time) (int, error)
}

type RoleFilter struct {
	IsActive *bool
	IsSystem *bool
}

type PermissionFilter struct {
	Resource string
	Category string
	IsActive *bool
}

type RBACRepository interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, roleID string) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context, f RoleFilter) ([]*Role, error)

	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, permissionID string) error
	GetPermission(ctx context.Context, permissionID string) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, error)
	// ListRolePermissions retorna los permisos granulares asociados al rol.
	ListRolePermissions(ctx context.Context, roleID string) ([]*Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	// AssignRole falla con ErrConflict si (userId, roleId) ya existe.
	AssignRole(ctx context.Context, ur *UserRole) error
	RemoveUserRole(ctx context.Context, userID, roleID string) error
	UpdateUserRole(ctx context.Context, ur *UserRole) error
	ListUserRoles(ctx context.Context, userID string) ([]*UserRole, error)
	ListUsersWithRole(ctx context.Context, roleID string) ([]*UserRole, error)
}

type WebhookFilter struct {
	IsActive  *bool
	CreatedBy string
	Event     string
}

type DeliveryStats struct {
	Total      int
	Successful int
	Failed     int
}

type WebhookRepository interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
	UpdateWebhook(ctx context.Context, w *Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, f WebhookFilter) ([]*Webhook, error)
	// ListActiveWebhooksForEvent: webhooks activos suscriptos al evento.
	ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]*Webhook, error)

	CreateDelivery(ctx context.Context, d *WebhookDelivery) error
	// ListPendingRetries: entregas fallidas con next_retry_at <= now y
	// attempts < max_attempts.
	ListPendingRetries(ctx context.Context, now time.Time) ([]*WebhookDelivery, error)
	ListRecentDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error)
	GetDeliveryStats(ctx context.Context, webhookID string) (DeliveryStats, error)
	PurgeDeliveries(ctx context.Context, olderThan time.Time) (int, error)
}

type IdentitySessionRepository interface {
	CreateIdentitySession(ctx context.Context, s *IdentitySession) error
	GetIdentitySession(ctx context.Context, sessionID string) (*IdentitySession, error)
	// RefreshIdentitySession rota el token y extiende la expiración.
	RefreshIdentitySession(ctx context.Context, sessionID, token string, expiresAt time.Time) error
	DeactivateIdentitySessions(ctx context.Context, userID string) error
	PurgeIdentitySessions(ctx context.Context, now time.Time) (int, error)
}

// Store compone todos los repositorios del entity store.
type Store interface {
	UserRepository
	ClientRepository
	AuthSessionRepository
	MFASessionRepository
	RBACRepository
	WebhookRepository
	IdentitySessionRepository

	Ping(ctx context.Context) error
	Close()
}
