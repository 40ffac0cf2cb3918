package pg

import (
	"context"
	"strconv"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// ---------- roles ----------

const roleColumns = `id, name, description, permissions, is_system, is_active, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, r *core.Role) error {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.Name, r.Description, perms, r.IsSystem, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UpdateRole(ctx context.Context, r *core.Role) error {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE roles
		SET name = $2, description = $3, permissions = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		r.ID, r.Name, r.Description, perms, r.IsActive, r.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) scanRole(ctx context.Context, query string, arg any) (*core.Role, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	var r core.Role
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Permissions, &r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*core.Role, error) {
	return s.scanRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*core.Role, error) {
	return s.scanRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
}

func (s *Store) ListRoles(ctx context.Context, f core.RoleFilter) ([]*core.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE TRUE`
	var args []any
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		query += ` AND is_active = $` + strconv.Itoa(len(args))
	}
	if f.IsSystem != nil {
		args = append(args, *f.IsSystem)
		query += ` AND is_system = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Role
	for rows.Next() {
		var r core.Role
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.Permissions, &r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ---------- permissions ----------

const permColumns = `id, name, description, resource, action, category, is_active, created_at`

func (s *Store) CreatePermission(ctx context.Context, p *core.Permission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permissions (`+permColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Name, p.Description, p.Resource, p.Action, p.Category, p.IsActive, p.CreatedAt)
	return mapErr(err)
}

func (s *Store) UpdatePermission(ctx context.Context, p *core.Permission) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE permissions
		SET name = $2, description = $3, resource = $4, action = $5, category = $6, is_active = $7
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Resource, p.Action, p.Category, p.IsActive)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePermission(ctx context.Context, permissionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, permissionID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) scanPermissionRow(row interface{ Scan(...any) error }) (*core.Permission, error) {
	var p core.Permission
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Category, &p.IsActive, &p.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (*core.Permission, error) {
	return s.scanPermissionRow(s.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE id = $1`, permissionID))
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*core.Permission, error) {
	return s.scanPermissionRow(s.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE name = $1`, name))
}

func (s *Store) ListPermissions(ctx context.Context, f core.PermissionFilter) ([]*core.Permission, error) {
	query := `SELECT ` + permColumns + ` FROM permissions WHERE TRUE`
	var args []any
	if f.Resource != "" {
		args = append(args, f.Resource)
		query += ` AND resource = $` + strconv.Itoa(len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += ` AND category = $` + strconv.Itoa(len(args))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		query += ` AND is_active = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY category ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Permission
	for rows.Next() {
		p, err := s.scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID string) ([]*core.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.resource, p.action, p.category, p.is_active, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Permission
	for rows.Next() {
		p, err := s.scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return mapErr(err)
	}
	for _, pid := range permissionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1,$2)`, roleID, pid); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

// ---------- user roles ----------

const userRoleColumns = `user_id, role_id, assigned_by, assigned_at, expires_at, is_active`

func (s *Store) AssignRole(ctx context.Context, ur *core.UserRole) error {
	// el PK compuesto convierte el duplicado en ErrConflict
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (`+userRoleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ur.UserID, ur.RoleID, ur.AssignedBy, ur.AssignedAt, ur.ExpiresAt, ur.IsActive)
	return mapErr(err)
}

func (s *Store) RemoveUserRole(ctx context.Context, userID, roleID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, ur *core.UserRole) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_roles
		SET assigned_by = $3, expires_at = $4, is_active = $5
		WHERE user_id = $1 AND role_id = $2`,
		ur.UserID, ur.RoleID, ur.AssignedBy, ur.ExpiresAt, ur.IsActive)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) listUserRoles(ctx context.Context, query string, arg any) ([]*core.UserRole, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.UserRole
	for rows.Next() {
		var ur core.UserRole
		if err := rows.Scan(
			&ur.UserID, &ur.RoleID, &ur.AssignedBy, &ur.AssignedAt, &ur.ExpiresAt, &ur.IsActive,
		); err != nil {
			return nil, err
		}
		out = append(out, &ur)
	}
	return out, rows.Err()
}

func (s *Store) ListUserRoles(ctx context.Context, userID string) ([]*core.UserRole, error) {
	return s.listUserRoles(ctx,
		`SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1 ORDER BY assigned_at DESC`, userID)
}

func (s *Store) ListUsersWithRole(ctx context.Context, roleID string) ([]*core.UserRole, error) {
	return s.listUserRoles(ctx,
		`SELECT `+userRoleColumns+` FROM user_roles WHERE role_id = $1 ORDER BY assigned_at DESC`, roleID)
}
