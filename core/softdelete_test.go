package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
)

func newCatalog(t *testing.T) (*core.Catalog, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cat := core.NewCatalog(mem)
	cat.Now = func() time.Time { return time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, cat.Save(context.Background(), core.Product{
		ID: "p-1", Name: "Rabies vaccine", BaseUnit: "ml", Active: true,
	}))
	require.NoError(t, cat.Save(context.Background(), core.Product{
		ID: "p-2", Name: "Bandage", BaseUnit: "pc", Active: true,
	}))
	return cat, mem
}

func TestCatalog_DeleteHidesProduct(t *testing.T) {
	// GIVEN: two live products
	cat, mem := newCatalog(t)
	ctx := context.Background()

	// WHEN: one is soft-deleted
	require.NoError(t, cat.Delete(ctx, "p-1"))

	// THEN: reads through the catalog no longer see it
	p, err := cat.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	list, err := cat.List(ctx, core.ProductFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.ProductID("p-2"), list[0].ID)

	// AND: the raw store still holds it, flagged
	raw, err := mem.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.True(t, raw.Deleted)
	assert.True(t, raw.Active, "delete leaves the active flag alone")
	require.NotNil(t, raw.DeletedAt)
}

func TestCatalog_RestoreKeepsActiveFlag(t *testing.T) {
	cat, _ := newCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.SetActive(ctx, "p-1", false))
	require.NoError(t, cat.Delete(ctx, "p-1"))
	require.NoError(t, cat.Restore(ctx, "p-1"))

	p, err := cat.Get(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Deleted)
	assert.False(t, p.Active, "restore does not reactivate")
	assert.Equal(t, core.StatusInactive, p.Status())
}

func TestCatalog_DeletedProductsRejectWrites(t *testing.T) {
	cat, _ := newCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.Delete(ctx, "p-1"))

	err := cat.SetActive(ctx, "p-1", true)
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	err = cat.Save(ctx, core.Product{ID: "p-1", Name: "Renamed", BaseUnit: "ml", Active: true})
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	err = cat.Delete(ctx, "p-1")
	assert.ErrorIs(t, err, core.ErrProductNotFound)
}

func TestCatalog_RestoreUnknownProduct(t *testing.T) {
	cat, _ := newCatalog(t)
	err := cat.Restore(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrProductNotFound)
}
