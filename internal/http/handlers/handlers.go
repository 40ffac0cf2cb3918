// Package handlers implementa los endpoints HTTP del broker.
package handlers

import (
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/mfa"
	"github.com/skygenesisenterprise/aether-broker/internal/rate"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/sso"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

// Deps agrupa las dependencias compartidas por los handlers.
type Deps struct {
	Store    core.Store
	Issuer   *jwt.Issuer
	SSO      *sso.Broker
	Sessions *identity.Broker
	MFA      *mfa.Engine
	RBAC     *rbac.Engine
	Webhooks *webhook.Engine

	// MFALimiter protege verify/send-code contra fuerza bruta.
	MFALimiter *rate.Limiter
	// TokenLimiter protege el endpoint de token.
	TokenLimiter *rate.Limiter
}

// ---------- DTOs compartidos ----------

type roleJSON struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"isSystem"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toRoleJSON(r *core.Role) roleJSON {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: perms,
		IsSystem:    r.IsSystem,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type permissionJSON struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Category    string    `json:"category,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toPermissionJSON(p *core.Permission) permissionJSON {
	return permissionJSON{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      p.Action,
		Category:    p.Category,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
	}
}

type userRoleJSON struct {
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
}

func toUserRoleJSON(ur *core.UserRole) userRoleJSON {
	return userRoleJSON{
		UserID:     ur.UserID,
		RoleID:     ur.RoleID,
		AssignedBy: ur.AssignedBy,
		AssignedAt: ur.AssignedAt,
		ExpiresAt:  ur.ExpiresAt,
		IsActive:   ur.IsActive,
	}
}

type webhookJSON struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Secret      string    `json:"secret,omitempty"` // sólo en la creación
	Events      []string  `json:"events"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	TimeoutMS   int64     `json:"timeoutMs"`
	RetryCount  int       `json:"retryCount"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toWebhookJSON(w *core.Webhook, withSecret bool) webhookJSON {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	out := webhookJSON{
		ID:          w.ID,
		URL:         w.URL,
		Events:      events,
		Description: w.Description,
		IsActive:    w.IsActive,
		TimeoutMS:   w.Timeout.Milliseconds(),
		RetryCount:  w.RetryCount,
		CreatedBy:   w.CreatedBy,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if withSecret {
		out.Secret = w.Secret
	}
	return out
}

type deliveryJSON struct {
	ID          string     `json:"id"`
	WebhookID   string     `json:"webhookId"`
	EventType   string     `json:"eventType"`
	StatusCode  *int       `json:"statusCode,omitempty"`
	Success     bool       `json:"success"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toDeliveryJSON(d *core.WebhookDelivery) deliveryJSON {
	return deliveryJSON{
		ID:          d.ID,
		WebhookID:   d.WebhookID,
		EventType:   d.EventType,
		StatusCode:  d.StatusCode,
		Success:     d.Success,
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		DeliveredAt: d.DeliveredAt,
		NextRetryAt: d.NextRetryAt,
		CreatedAt:   d.CreatedAt,
	}
}
