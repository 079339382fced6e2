package access_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
)

func TestUpdateIdentity_InvalidatesCache(t *testing.T) {
	// GIVEN: a cached active staff identity
	c, s, _ := newCache(t)
	dir := access.NewDirectory(s, c, nil)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)

	// WHEN: an admin promotes and then deactivates them
	role := core.RoleManager
	updated, err := dir.UpdateIdentity(ctx, "u-1", access.IdentityChange{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, core.RoleManager, updated.Role)

	resolved, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, core.RoleManager, resolved.Role, "the change is visible on the next resolve")

	off := false
	_, err = dir.UpdateIdentity(ctx, "u-1", access.IdentityChange{Active: &off})
	require.NoError(t, err)

	// THEN: the very next resolve sees the deactivation
	_, err = c.Resolve(ctx, "u-1")
	assert.ErrorIs(t, err, core.ErrIdentityInactive)
}

func TestUpdateIdentity_ReplacesPermissions(t *testing.T) {
	c, s, _ := newCache(t)
	dir := access.NewDirectory(s, c, nil)
	ctx := context.Background()

	perms, err := access.ParseFeaturePermissions(map[string]map[string]any{
		"discounts": {"maxDiscountPercent": 10.0},
	})
	require.NoError(t, err)

	_, err = dir.UpdateIdentity(ctx, "u-1", access.IdentityChange{Permissions: &perms})
	require.NoError(t, err)

	rec, err := s.Memory.FindIdentity(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{"discounts": {"maxDiscountPercent": 10.0}}, rec.Permissions)
	assert.Equal(t, "vet@clinic.test", rec.Email, "untouched fields survive")
}

func TestUpdateIdentity_Errors(t *testing.T) {
	c, s, _ := newCache(t)
	dir := access.NewDirectory(s, c, nil)
	ctx := context.Background()

	bogus := core.Role("owner")
	_, err := dir.UpdateIdentity(ctx, "u-1", access.IdentityChange{Role: &bogus})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = dir.UpdateIdentity(ctx, "ghost", access.IdentityChange{})
	assert.ErrorIs(t, err, core.ErrIdentityNotFound)

	s.fail.Store(true)
	_, err = dir.UpdateIdentity(ctx, "u-1", access.IdentityChange{})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestProvision(t *testing.T) {
	c, s, _ := newCache(t)
	dir := access.NewDirectory(s, c, nil)
	ctx := context.Background()

	err := dir.Provision(ctx, &access.Identity{ID: "u-9", Role: core.RoleAdmin, Active: true})
	require.NoError(t, err)

	id, err := c.Resolve(ctx, "u-9")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, id.Role)

	err = dir.Provision(ctx, &access.Identity{ID: "u-10", Role: "intern", Active: true})
	assert.ErrorIs(t, err, core.ErrValidation)
}
