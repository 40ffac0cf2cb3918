package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// defaultPermissions son los permisos granulares que el broker garantiza al
// arrancar. El bootstrap es idempotente: sólo crea lo que falta.
var defaultPermissions = []PermissionInput{
	// User management
	{Name: "users:read", Description: "Read user information", Resource: "users", Action: "read", Category: "User Management"},
	{Name: "users:write", Description: "Create and update users", Resource: "users", Action: "write", Category: "User Management"},
	{Name: "users:delete", Description: "Delete users", Resource: "users", Action: "delete", Category: "User Management"},

	// Role management
	{Name: "roles:read", Description: "Read roles and permissions", Resource: "roles", Action: "read", Category: "Role Management"},
	{Name: "roles:write", Description: "Create and update roles", Resource: "roles", Action: "write", Category: "Role Management"},
	{Name: "roles:delete", Description: "Delete roles", Resource: "roles", Action: "delete", Category: "Role Management"},

	// Organization management
	{Name: "organizations:read", Description: "Read organization information", Resource: "organizations", Action: "read", Category: "Organization Management"},
	{Name: "organizations:write", Description: "Create and update organizations", Resource: "organizations", Action: "write", Category: "Organization Management"},
	{Name: "organizations:delete", Description: "Delete organizations", Resource: "organizations", Action: "delete", Category: "Organization Management"},

	// Client application management
	{Name: "clients:read", Description: "Read OAuth2 clients", Resource: "clients", Action: "read", Category: "Client Management"},
	{Name: "clients:write", Description: "Create and update OAuth2 clients", Resource: "clients", Action: "write", Category: "Client Management"},
	{Name: "clients:delete", Description: "Delete OAuth2 clients", Resource: "clients", Action: "delete", Category: "Client Management"},

	// Webhook management
	{Name: "webhooks:read", Description: "Read webhooks", Resource: "webhooks", Action: "read", Category: "Webhook Management"},
	{Name: "webhooks:write", Description: "Create and update webhooks", Resource: "webhooks", Action: "write", Category: "Webhook Management"},
	{Name: "webhooks:delete", Description: "Delete webhooks", Resource: "webhooks", Action: "delete", Category: "Webhook Management"},

	// System administration
	{Name: "admin:access", Description: "Access admin panel", Resource: "admin", Action: "access", Category: "System Administration"},
	{Name: "audit:read", Description: "Read audit logs", Resource: "audit", Action: "read", Category: "System Administration"},
	{Name: "system:configure", Description: "Configure system settings", Resource: "system", Action: "configure", Category: "System Administration"},
}

func allDefaultPermissionNames() []string {
	out := make([]string, 0, len(defaultPermissions))
	for _, p := range defaultPermissions {
		out = append(out, p.Name)
	}
	return out
}

// defaultRoles son los roles de sistema. No se pueden borrar después.
func defaultRoles() []RoleInput {
	all := allDefaultPermissionNames()
	return []RoleInput{
		{
			Name:        "SUPER_ADMIN",
			Description: "Super administrator with full system access",
			Permissions: all,
			IsSystem:    true,
		},
		{
			Name:        "ADMIN",
			Description: "Administrator with most system permissions",
			Permissions: all,
			IsSystem:    true,
		},
		{
			Name:        "MANAGER",
			Description: "Manager with limited administrative permissions",
			Permissions: []string{
				"users:read", "users:write",
				"organizations:read", "organizations:write",
				"clients:read", "clients:write",
				"webhooks:read", "webhooks:write",
			},
			IsSystem: true,
		},
		{
			Name:        "USER",
			Description: "Regular user with basic permissions",
			Permissions: []string{
				"users:read",
				"organizations:read",
			},
			IsSystem: true,
		},
	}
}

// Bootstrap garantiza los permisos y roles de sistema por defecto.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for _, pd := range defaultPermissions {
		_, err := e.store.GetPermissionByName(ctx, pd.Name)
		if err == nil {
			continue
		}
		if !core.IsNotFound(err) {
			return fmt.Errorf("bootstrap permission %s: %w", pd.Name, err)
		}
		if _, err := e.CreatePermission(ctx, pd); err != nil {
			return fmt.Errorf("bootstrap permission %s: %w", pd.Name, err)
		}
	}

	for _, rd := range defaultRoles() {
		_, err := e.store.GetRoleByName(ctx, rd.Name)
		if err == nil {
			continue
		}
		if !core.IsNotFound(err) {
			return fmt.Errorf("bootstrap role %s: %w", rd.Name, err)
		}
		if _, err := e.CreateRole(ctx, rd); err != nil {
			return fmt.Errorf("bootstrap role %s: %w", rd.Name, err)
		}
	}

	logger.Named("rbac").Info("system roles and permissions initialized")
	return nil
}

// Stats agrega conteos para el panel de administración.
type Stats struct {
	Roles struct {
		Total  int `json:"total"`
		Active int `json:"active"`
		System int `json:"system"`
	} `json:"roles"`
	Permissions struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"permissions"`
	UserRoles struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"userRoles"`
}

// GetStats calcula los conteos RBAC.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats

	roles, err := e.store.ListRoles(ctx, core.RoleFilter{})
	if err != nil {
		return nil, err
	}
	s.Roles.Total = len(roles)
	for _, r := range roles {
		if r.IsActive {
			s.Roles.Active++
		}
		if r.IsSystem {
			s.Roles.System++
		}
	}

	perms, err := e.store.ListPermissions(ctx, core.PermissionFilter{})
	if err != nil {
		return nil, err
	}
	s.Permissions.Total = len(perms)
	for _, p := range perms {
		if p.IsActive {
			s.Permissions.Active++
		}
	}

	now := time.Now().UTC()
	for _, r := range roles {
		urs, err := e.store.ListUsersWithRole(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		s.UserRoles.Total += len(urs)
		for _, ur := range urs {
			if ur.IsActive && !ur.Expired(now) {
				s.UserRoles.Active++
			}
		}
	}
	return &s, nil
}
