// Package rbac implementa roles, permisos granulares y resolución de
// permisos efectivos por usuario.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

var (
	// ErrSystemRole: los roles de sistema no se pueden borrar.
	ErrSystemRole = errors.New("rbac: cannot delete system roles")

	// ErrAlreadyAssigned: el usuario ya tiene ese rol.
	ErrAlreadyAssigned = errors.New("rbac: user already has this role")
)

// Engine resuelve autorización contra el entity store.
type Engine struct {
	store core.Store
}

// NewEngine crea el engine RBAC.
func NewEngine(st core.Store) *Engine {
	return &Engine{store: st}
}

// ---------- Roles ----------

// RoleInput son los campos editables de un rol.
type RoleInput struct {
	Name        string
	Description string
	Permissions []string
	IsSystem    bool
}

// CreateRole da de alta un rol activo.
func (e *Engine) CreateRole(ctx context.Context, in RoleInput) (*core.Role, error) {
	now := time.Now().UTC()
	r := &core.Role{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Permissions: in.Permissions,
		IsSystem:    in.IsSystem,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateRole(ctx, r); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	logger.Named("rbac").Info("role created",
		logger.String("role_id", r.ID), logger.String("name", r.Name))
	return r, nil
}

// RoleUpdate: punteros nil = no tocar.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]string
	IsActive    *bool
}

// UpdateRole aplica un cambio parcial sobre el rol.
func (e *Engine) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*core.Role, error) {
	r, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Permissions != nil {
		r.Permissions = *upd.Permissions
	}
	if upd.IsActive != nil {
		r.IsActive = *upd.IsActive
	}
	r.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateRole(ctx, r); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	return r, nil
}

// DeleteRole elimina un rol no-sistema. Las asignaciones existentes quedan
// huérfanas y dejan de resolver permisos, no se borran en cascada.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	r, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if r.IsSystem {
		return ErrSystemRole
	}
	if err := e.store.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	logger.Named("rbac").Info("role deleted",
		logger.String("role_id", roleID), logger.String("name", r.Name))
	return nil
}

// RoleDetail es un rol con sus permisos granulares y conteo de usuarios.
type RoleDetail struct {
	*core.Role
	GranularPermissions []*core.Permission
	UserCount           int
}

// GetRole retorna el rol con detalle.
func (e *Engine) GetRole(ctx context.Context, roleID string) (*RoleDetail, error) {
	r, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := e.store.ListRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	assignments, err := e.store.ListUsersWithRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return &RoleDetail{Role: r, GranularPermissions: perms, UserCount: len(assignments)}, nil
}

// ListRoles lista roles según filtro.
func (e *Engine) ListRoles(ctx context.Context, f core.RoleFilter) ([]*core.Role, error) {
	return e.store.ListRoles(ctx, f)
}

// ---------- Permisos ----------

// PermissionInput son los campos de alta de un permiso granular.
type PermissionInput struct {
	Name        string
	Description string
	Resource    string
	Action      string
	Category    string
}

// CreatePermission da de alta un permiso activo.
func (e *Engine) CreatePermission(ctx context.Context, in PermissionInput) (*core.Permission, error) {
	p := &core.Permission{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Resource:    in.Resource,
		Action:      in.Action,
		Category:    in.Category,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreatePermission(ctx, p); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return p, nil
}

// PermissionUpdate: punteros nil = no tocar.
type PermissionUpdate struct {
	Name        *string
	Description *string
	Resource    *string
	Action      *string
	Category    *string
	IsActive    *bool
}

// UpdatePermission aplica un cambio parcial.
func (e *Engine) UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (*core.Permission, error) {
	p, err := e.store.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Resource != nil {
		p.Resource = *upd.Resource
	}
	if upd.Action != nil {
		p.Action = *upd.Action
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if err := e.store.UpdatePermission(ctx, p); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}
	return p, nil
}

// DeletePermission elimina un permiso granular.
func (e *Engine) DeletePermission(ctx context.Context, id string) error {
	return e.store.DeletePermission(ctx, id)
}

// GetPermission retorna un permiso por id.
func (e *Engine) GetPermission(ctx context.Context, id string) (*core.Permission, error) {
	return e.store.GetPermission(ctx, id)
}

// ListPermissions lista permisos según filtro, ordenados por categoría.
func (e *Engine) ListPermissions(ctx context.Context, f core.PermissionFilter) ([]*core.Permission, error) {
	perms, err := e.store.ListPermissions(ctx, f)
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Category < perms[j].Category })
	return perms, nil
}

// ---------- Asignaciones ----------

// Assignment describe una asignación de rol a usuario.
type Assignment struct {
	UserID     string
	RoleID     string
	AssignedBy string
	ExpiresAt  *time.Time
}

// AssignRole asigna un rol a un usuario. Duplicado = ErrAlreadyAssigned.
func (e *Engine) AssignRole(ctx context.Context, a Assignment) (*core.UserRole, error) {
	ur := &core.UserRole{
		UserID:     a.UserID,
		RoleID:     a.RoleID,
		AssignedBy: a.AssignedBy,
		AssignedAt: time.Now().UTC(),
		ExpiresAt:  a.ExpiresAt,
		IsActive:   true,
	}
	if err := e.store.AssignRole(ctx, ur); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, ErrAlreadyAssigned
		}
		return nil, fmt.Errorf("assign role: %w", err)
	}
	logger.Named("rbac").Info("role assigned",
		logger.UserID(a.UserID), logger.String("role_id", a.RoleID),
		logger.String("assigned_by", a.AssignedBy))
	return ur, nil
}

// RemoveRole quita una asignación.
func (e *Engine) RemoveRole(ctx context.Context, userID, roleID string) error {
	return e.store.RemoveUserRole(ctx, userID, roleID)
}

// AssignmentUpdate: punteros nil = no tocar.
type AssignmentUpdate struct {
	AssignedBy *string
	ExpiresAt  **time.Time
	IsActive   *bool
}

// UpdateAssignment modifica una asignación existente.
func (e *Engine) UpdateAssignment(ctx context.Context, userID, roleID string, upd AssignmentUpdate) error {
	urs, err := e.store.ListUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, ur := range urs {
		if ur.RoleID != roleID {
			continue
		}
		if upd.AssignedBy != nil {
			ur.AssignedBy = *upd.AssignedBy
		}
		if upd.ExpiresAt != nil {
			ur.ExpiresAt = *upd.ExpiresAt
		}
		if upd.IsActive != nil {
			ur.IsActive = *upd.IsActive
		}
		return e.store.UpdateUserRole(ctx, ur)
	}
	return core.ErrNotFound
}

// UsersWithRole lista las asignaciones vigentes de un rol.
func (e *Engine) UsersWithRole(ctx context.Context, roleID string) ([]*core.UserRole, error) {
	urs, err := e.store.ListUsersWithRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := urs[:0]
	for _, ur := range urs {
		if ur.IsActive && !ur.Expired(now) {
			out = append(out, ur)
		}
	}
	return out, nil
}

// ---------- Resolución ----------

// Resolution es el resultado de resolver permisos de un usuario.
type Resolution struct {
	Roles []*core.Role
	// Permissions: unión de listas denormalizadas + nombres de permisos
	// granulares activos.
	Permissions []string
	// EffectivePermissions: resource:action de los permisos granulares.
	EffectivePermissions []string
}

// Resolve calcula los permisos vigentes del usuario. Asignaciones
// inactivas o vencidas no aportan nada.
func (e *Engine) Resolve(ctx context.Context, userID string) (*Resolution, error) {
	urs, err := e.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := &Resolution{}
	permSet := map[string]struct{}{}
	effSet := map[string]struct{}{}

	for _, ur := range urs {
		if !ur.IsActive || ur.Expired(now) {
			continue
		}
		role, err := e.store.GetRole(ctx, ur.RoleID)
		if err != nil {
			if core.IsNotFound(err) {
				// rol borrado con asignación colgando: inerte
				continue
			}
			return nil, err
		}
		res.Roles = append(res.Roles, role)

		for _, p := range role.Permissions {
			permSet[p] = struct{}{}
		}
		granular, err := e.store.ListRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, gp := range granular {
			if !gp.IsActive {
				continue
			}
			permSet[gp.Name] = struct{}{}
			effSet[gp.Resource+":"+gp.Action] = struct{}{}
		}
	}

	res.Permissions = setToSlice(permSet)
	res.EffectivePermissions = setToSlice(effSet)
	return res, nil
}

// HasPermission responde si el usuario satisface el permiso pedido, por
// igualdad exacta o por wildcard (`users:*` cubre `users:read`).
func (e *Engine) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	res, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return res.Satisfies(permission), nil
}

// HasAnyPermission: alguno de los pedidos.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, permissions []string) (bool, error) {
	res, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if res.Satisfies(p) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions: todos los pedidos.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, permissions []string) (bool, error) {
	res, err := e.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if !res.Satisfies(p) {
			return false, nil
		}
	}
	return true, nil
}

// Satisfies evalúa un permiso requerido contra la resolución.
func (r *Resolution) Satisfies(required string) bool {
	for _, granted := range r.Permissions {
		if Matches(granted, required) {
			return true
		}
	}
	for _, granted := range r.EffectivePermissions {
		if Matches(granted, required) {
			return true
		}
	}
	return false
}

// Matches compara un permiso otorgado contra uno requerido. Un otorgado
// con `*` actúa como prefijo: `users:*` cubre `users:read`.
func Matches(granted, required string) bool {
	if granted == required {
		return true
	}
	if strings.Contains(granted, "*") {
		prefix := strings.ReplaceAll(granted, "*", "")
		return strings.HasPrefix(required, prefix)
	}
	return false
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
