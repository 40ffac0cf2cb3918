package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/skygenesisenterprise/aether-broker/internal/http/errors"
	"github.com/skygenesisenterprise/aether-broker/internal/http/helpers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/middleware"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// RBACHandler expone la administración de roles, permisos y asignaciones.
type RBACHandler struct {
	deps Deps
}

func NewRBAC(deps Deps) *RBACHandler { return &RBACHandler{deps: deps} }

func (h *RBACHandler) Register(r chi.Router) {
	read := middleware.RequirePermission(h.deps.RBAC, "roles:read")
	write := middleware.RequirePermission(h.deps.RBAC, "roles:write")
	del := middleware.RequirePermission(h.deps.RBAC, "roles:delete")
	admin := middleware.RequirePermission(h.deps.RBAC, "admin:access")

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.deps.Issuer))

		r.With(read).Get("/api/v1/rbac/roles", h.listRoles)
		r.With(write).Post("/api/v1/rbac/roles", h.createRole)
		r.With(read).Get("/api/v1/rbac/roles/{roleID}", h.getRole)
		r.With(write).Put("/api/v1/rbac/roles/{roleID}", h.updateRole)
		r.With(del).Delete("/api/v1/rbac/roles/{roleID}", h.deleteRole)
		r.With(read).Get("/api/v1/rbac/roles/{roleID}/users", h.roleUsers)

		r.With(read).Get("/api/v1/rbac/permissions", h.listPermissions)
		r.With(write).Post("/api/v1/rbac/permissions", h.createPermission)
		r.With(write).Put("/api/v1/rbac/permissions/{permissionID}", h.updatePermission)
		r.With(del).Delete("/api/v1/rbac/permissions/{permissionID}", h.deletePermission)

		r.With(write).Post("/api/v1/rbac/assignments", h.assignRole)
		r.With(write).Delete("/api/v1/rbac/assignments/{userID}/{roleID}", h.removeRole)
		r.With(write).Put("/api/v1/rbac/assignments/{userID}/{roleID}", h.updateAssignment)
		r.With(read).Get("/api/v1/rbac/users/{userID}/permissions", h.userPermissions)

		r.With(admin).Get("/api/v1/rbac/stats", h.stats)
	})
}

// boolParam parsea un query param booleano opcional.
func boolParam(r *http.Request, name string) *bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// ---------- Roles ----------

func (h *RBACHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.deps.RBAC.ListRoles(r.Context(), core.RoleFilter{
		IsActive: boolParam(r, "isActive"),
		IsSystem: boolParam(r, "isSystem"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	out := make([]roleJSON, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleJSON(role))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *RBACHandler) createRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("name es requerido"))
		return
	}
	role, err := h.deps.RBAC.CreateRole(r.Context(), rbac.RoleInput{
		Name:        body.Name,
		Description: body.Description,
		Permissions: body.Permissions,
	})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, toRoleJSON(role))
}

func (h *RBACHandler) getRole(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.RBAC.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	granular := make([]permissionJSON, 0, len(detail.GranularPermissions))
	for _, p := range detail.GranularPermissions {
		granular = append(granular, toPermissionJSON(p))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"role":                toRoleJSON(detail.Role),
		"granularPermissions": granular,
		"userCount":           detail.UserCount,
	})
}

func (h *RBACHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		Permissions *[]string `json:"permissions"`
		IsActive    *bool     `json:"isActive"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	role, err := h.deps.RBAC.UpdateRole(r.Context(), chi.URLParam(r, "roleID"), rbac.RoleUpdate{
		Name:        body.Name,
		Description: body.Description,
		Permissions: body.Permissions,
		IsActive:    body.IsActive,
	})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toRoleJSON(role))
}

func (h *RBACHandler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.RBAC.DeleteRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RBACHandler) roleUsers(w http.ResponseWriter, r *http.Request) {
	urs, err := h.deps.RBAC.UsersWithRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	out := make([]userRoleJSON, 0, len(urs))
	for _, ur := range urs {
		out = append(out, toUserRoleJSON(ur))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"users": out})
}

// ---------- Permisos ----------

func (h *RBACHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.deps.RBAC.ListPermissions(r.Context(), core.PermissionFilter{
		Resource: r.URL.Query().Get("resource"),
		Category: r.URL.Query().Get("category"),
		IsActive: boolParam(r, "isActive"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	out := make([]permissionJSON, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionJSON(p))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *RBACHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Resource    string `json:"resource"`
		Action      string `json:"action"`
		Category    string `json:"category"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.Name == "" || body.Resource == "" || body.Action == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("name, resource y action son requeridos"))
		return
	}
	p, err := h.deps.RBAC.CreatePermission(r.Context(), rbac.PermissionInput{
		Name:        body.Name,
		Description: body.Description,
		Resource:    body.Resource,
		Action:      body.Action,
		Category:    body.Category,
	})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, toPermissionJSON(p))
}

func (h *RBACHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Resource    *string `json:"resource"`
		Action      *string `json:"action"`
		Category    *string `json:"category"`
		IsActive    *bool   `json:"isActive"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	p, err := h.deps.RBAC.UpdatePermission(r.Context(), chi.URLParam(r, "permissionID"), rbac.PermissionUpdate{
		Name:        body.Name,
		Description: body.Description,
		Resource:    body.Resource,
		Action:      body.Action,
		Category:    body.Category,
		IsActive:    body.IsActive,
	})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toPermissionJSON(p))
}

func (h *RBACHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.RBAC.DeletePermission(r.Context(), chi.URLParam(r, "permissionID")); err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---------- Asignaciones ----------

func (h *RBACHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var body struct {
		UserID    string     `json:"userId"`
		RoleID    string     `json:"roleId"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if body.UserID == "" || body.RoleID == "" {
		apperrors.WriteError(w, apperrors.ErrMissingFields.WithDetail("userId y roleId son requeridos"))
		return
	}
	ur, err := h.deps.RBAC.AssignRole(r.Context(), rbac.Assignment{
		UserID:     body.UserID,
		RoleID:     body.RoleID,
		AssignedBy: p.UserID,
		ExpiresAt:  body.ExpiresAt,
	})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, toUserRoleJSON(ur))
}

func (h *RBACHandler) removeRole(w http.ResponseWriter, r *http.Request) {
	err := h.deps.RBAC.RemoveRole(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RBACHandler) updateAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpiresAt **time.Time `json:"expiresAt"`
		IsActive  *bool       `json:"isActive"`
	}
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	err := h.deps.RBAC.UpdateAssignment(r.Context(),
		chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"),
		rbac.AssignmentUpdate{ExpiresAt: body.ExpiresAt, IsActive: body.IsActive})
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RBACHandler) userPermissions(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.RBAC.Resolve(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		apperrors.WriteError(w, mapRBACError(err))
		return
	}
	roles := make([]roleJSON, 0, len(res.Roles))
	for _, role := range res.Roles {
		roles = append(roles, toRoleJSON(role))
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"roles":                roles,
		"permissions":          res.Permissions,
		"effectivePermissions": res.EffectivePermissions,
	})
}

func (h *RBACHandler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.RBAC.GetStats(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, s)
}

// mapRBACError traduce errores del engine RBAC y del store.
func mapRBACError(err error) error {
	switch {
	case errors.Is(err, rbac.ErrSystemRole):
		return apperrors.ErrSystemRoleProtected
	case errors.Is(err, rbac.ErrAlreadyAssigned):
		return apperrors.ErrRoleAlreadyAssigned
	case core.IsNotFound(err):
		return apperrors.ErrNotFound
	case errors.Is(err, core.ErrConflict):
		return apperrors.ErrConflict
	default:
		return err
	}
}
