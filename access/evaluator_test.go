package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
)

func newEvaluator(t *testing.T) *access.Evaluator {
	t.Helper()
	defaults, err := access.NewRoleDefaults()
	require.NoError(t, err)
	return access.NewEvaluator(defaults)
}

func identity(role core.Role, perms map[string]map[string]any) *access.Identity {
	fp, err := access.ParseFeaturePermissions(perms)
	if err != nil {
		panic(err)
	}
	return &access.Identity{ID: "u-1", Role: role, Active: true, Permissions: fp}
}

// =============================================================================
// FAIL-CLOSED
// =============================================================================

func TestHasPermission_FailClosedWithoutGrant(t *testing.T) {
	// GIVEN: an identity whose role has no default grant and no overrides
	// WHEN: every known boolean capability is checked
	// THEN: only role-granted capabilities pass; nothing else does

	ev := newEvaluator(t)
	defaults, err := access.NewRoleDefaults()
	require.NoError(t, err)

	id := identity(core.RoleStaff, nil)
	for _, c := range access.Capabilities() {
		got := ev.HasPermission(id, c.Category, c.Permission)
		want := defaults.Allows(core.RoleStaff, c.Category, c.Permission)
		assert.Equal(t, want, got, c.String())
	}

	assert.False(t, ev.HasPermission(id, "inventory", "canBulkRestock"))
	assert.False(t, ev.HasPermission(id, "userManagement", "canManageRoles"))
}

func TestHasPermission_UnknownNamesDeny(t *testing.T) {
	ev := newEvaluator(t)
	root := identity(core.RoleSuperAdmin, nil)

	assert.False(t, ev.HasPermission(root, "billing", "canView"), "unknown category")
	assert.False(t, ev.HasPermission(root, "inventory", "canLaunchRockets"), "unknown permission")
}

func TestHasPermission_NilOrInactiveDeny(t *testing.T) {
	ev := newEvaluator(t)
	assert.False(t, ev.HasPermission(nil, "inventory", "canView"))

	id := identity(core.RoleSuperAdmin, nil)
	id.Active = false
	assert.False(t, ev.HasPermission(id, "inventory", "canView"))
}

func TestHasPermission_UnknownRoleDenies(t *testing.T) {
	ev := newEvaluator(t)
	id := identity(core.RoleStaff, nil)
	id.Role = "contractor"

	assert.False(t, ev.HasPermission(id, "inventory", "canView"))
}

// =============================================================================
// OVERRIDES AND ROLE DEFAULTS
// =============================================================================

func TestHasPermission_ExplicitOverrideWins(t *testing.T) {
	ev := newEvaluator(t)

	granted := identity(core.RoleStaff, map[string]map[string]any{
		"inventory": {"canBulkRestock": true},
	})
	assert.True(t, ev.HasPermission(granted, "inventory", "canBulkRestock"))

	revoked := identity(core.RoleSuperAdmin, map[string]map[string]any{
		"inventory": {"canView": false},
	})
	assert.False(t, ev.HasPermission(revoked, "inventory", "canView"), "explicit false beats super_admin")
	assert.True(t, ev.HasPermission(revoked, "inventory", "canViewHistory"))
}

func TestHasPermission_RoleInheritance(t *testing.T) {
	ev := newEvaluator(t)

	manager := identity(core.RoleManager, nil)
	assert.True(t, ev.HasPermission(manager, "inventory", "canView"), "inherited from staff")
	assert.True(t, ev.HasPermission(manager, "inventory", "canCreateRestockOrders"))
	assert.False(t, ev.HasPermission(manager, "inventory", "canBulkRestock"))

	admin := identity(core.RoleAdmin, nil)
	assert.True(t, ev.HasPermission(admin, "inventory", "canBulkRestock"), "admin has inventory.*")
	assert.False(t, ev.HasPermission(admin, "userManagement", "canManagePermissions"))

	root := identity(core.RoleSuperAdmin, nil)
	for _, c := range access.Capabilities() {
		assert.True(t, ev.HasPermission(root, c.Category, c.Permission), c.String())
	}
}

func TestHasPermission_NumericCapabilities(t *testing.T) {
	ev := newEvaluator(t)

	root := identity(core.RoleSuperAdmin, nil)
	assert.False(t, ev.HasPermission(root, "discounts", "maxDiscountPercent"), "numeric capabilities are never role defaults")
	assert.Equal(t, 0.0, ev.Limit(root, "discounts", "maxDiscountPercent"))

	granted := identity(core.RoleStaff, map[string]map[string]any{
		"discounts": {"maxDiscountPercent": 15},
	})
	assert.True(t, ev.HasPermission(granted, "discounts", "maxDiscountPercent"))
	assert.Equal(t, 15.0, ev.Limit(granted, "discounts", "maxDiscountPercent"))

	zero := identity(core.RoleStaff, map[string]map[string]any{
		"discounts": {"maxDiscountPercent": 0.0},
	})
	assert.False(t, ev.HasPermission(zero, "discounts", "maxDiscountPercent"))
}

// =============================================================================
// COMPOSITES
// =============================================================================

func TestRequireAll_ReportsEveryFailedPair(t *testing.T) {
	ev := newEvaluator(t)
	staff := identity(core.RoleStaff, nil)

	d := ev.RequireAll(staff,
		access.Cap("inventory", "canCreateRestockOrders"),
		access.Cap("inventory", "canView"),
		access.Cap("inventory", "canBulkRestock"),
	)

	assert.False(t, d.Allowed)
	assert.Equal(t, []core.Capability{
		access.Cap("inventory", "canCreateRestockOrders"),
		access.Cap("inventory", "canBulkRestock"),
	}, d.Failed)
}

func TestRequireAll_AllowsWhenEveryPairHeld(t *testing.T) {
	ev := newEvaluator(t)
	admin := identity(core.RoleAdmin, nil)

	d := ev.RequireAll(admin, access.Cap("inventory", "canCreateRestockOrders"), access.Cap("inventory", "canBulkRestock"))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Failed)

	assert.True(t, ev.RequireAll(admin).Allowed)
}

func TestRequireAny(t *testing.T) {
	ev := newEvaluator(t)
	staff := identity(core.RoleStaff, nil)

	d := ev.RequireAny(staff, access.Cap("reports", "canViewInventoryReports"), access.Cap("inventory", "canViewHistory"))
	assert.True(t, d.Allowed)
	assert.Equal(t, []core.Capability{access.Cap("reports", "canViewInventoryReports")}, d.Failed)

	d = ev.RequireAny(staff, access.Cap("reports", "canExport"), access.Cap("userManagement", "canManageRoles"))
	assert.False(t, d.Allowed)
	assert.Len(t, d.Failed, 2)

	assert.False(t, ev.RequireAny(staff).Allowed, "empty any denies")
}
