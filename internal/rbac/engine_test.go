package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		granted, required string
		want              bool
	}{
		{"users:read", "users:read", true},
		{"users:read", "users:write", false},
		{"users:*", "users:read", true},
		{"users:*", "users:delete", true},
		{"users:*", "roles:read", false},
		{"*", "cualquier:cosa", true},
		{"admin:access", "admin", false},
	}
	for _, c := range cases {
		if got := rbac.Matches(c.granted, c.required); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.granted, c.required, got, c.want)
		}
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()

	require.NoError(t, e.Bootstrap(ctx))
	require.NoError(t, e.Bootstrap(ctx))

	roles, err := e.ListRoles(ctx, core.RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 4)
	for _, r := range roles {
		require.True(t, r.IsSystem)
		require.True(t, r.IsActive)
	}

	perms, err := e.ListPermissions(ctx, core.PermissionFilter{})
	require.NoError(t, err)
	// 6 categorías x 3 acciones
	require.Len(t, perms, 18)
}

func TestDeleteRoleProtectsSystemRoles(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx))

	admin, err := st.GetRoleByName(ctx, "ADMIN")
	require.NoError(t, err)
	require.ErrorIs(t, e.DeleteRole(ctx, admin.ID), rbac.ErrSystemRole)

	custom, err := e.CreateRole(ctx, rbac.RoleInput{Name: "AUDITOR", Permissions: []string{"audit:read"}})
	require.NoError(t, err)
	require.NoError(t, e.DeleteRole(ctx, custom.ID))

	_, err = st.GetRole(ctx, custom.ID)
	require.True(t, core.IsNotFound(err))
}

func TestAssignRoleDuplicate(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, rbac.RoleInput{Name: "EDITOR", Permissions: []string{"users:write"}})
	require.NoError(t, err)

	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: role.ID, AssignedBy: "admin"})
	require.NoError(t, err)
	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: role.ID, AssignedBy: "admin"})
	require.ErrorIs(t, err, rbac.ErrAlreadyAssigned)
}

func TestResolveSkipsExpiredInactiveAndOrphaned(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()

	vigente, err := e.CreateRole(ctx, rbac.RoleInput{Name: "VIGENTE", Permissions: []string{"users:read"}})
	require.NoError(t, err)
	vencido, err := e.CreateRole(ctx, rbac.RoleInput{Name: "VENCIDO", Permissions: []string{"users:delete"}})
	require.NoError(t, err)
	apagado, err := e.CreateRole(ctx, rbac.RoleInput{Name: "APAGADO", Permissions: []string{"roles:write"}})
	require.NoError(t, err)
	huerfano, err := e.CreateRole(ctx, rbac.RoleInput{Name: "HUERFANO", Permissions: []string{"system:configure"}})
	require.NoError(t, err)

	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: vigente.ID})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: vencido.ID, ExpiresAt: &past})
	require.NoError(t, err)

	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: apagado.ID})
	require.NoError(t, err)
	off := false
	require.NoError(t, e.UpdateAssignment(ctx, "u-1", apagado.ID, rbac.AssignmentUpdate{IsActive: &off}))

	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: huerfano.ID})
	require.NoError(t, err)
	require.NoError(t, st.DeleteRole(ctx, huerfano.ID))

	res, err := e.Resolve(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, res.Roles, 1)
	require.Equal(t, "VIGENTE", res.Roles[0].Name)
	require.Equal(t, []string{"users:read"}, res.Permissions)
}

func TestHasPermissionWildcard(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, rbac.RoleInput{Name: "USERS_ALL", Permissions: []string{"users:*"}})
	require.NoError(t, err)
	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: role.ID})
	require.NoError(t, err)

	ok, err := e.HasPermission(ctx, "u-1", "users:read")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.HasPermission(ctx, "u-1", "roles:read")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.HasAnyPermission(ctx, "u-1", []string{"roles:read", "users:delete"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.HasAllPermissions(ctx, "u-1", []string{"users:read", "roles:read"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetStatsCounts(t *testing.T) {
	st := memory.New()
	e := rbac.NewEngine(st)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx))

	user, err := st.GetRoleByName(ctx, "USER")
	require.NoError(t, err)
	_, err = e.AssignRole(ctx, rbac.Assignment{UserID: "u-1", RoleID: user.ID})
	require.NoError(t, err)

	s, err := e.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, s.Roles.Total)
	require.Equal(t, 4, s.Roles.System)
	require.Equal(t, 18, s.Permissions.Total)
	require.Equal(t, 1, s.UserRoles.Active)
}
