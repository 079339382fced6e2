package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
)

func restockOf(id string, product core.ProductID, qty int64, at time.Time) core.Movement {
	return core.Movement{
		ID:           id,
		ProductID:    product,
		Type:         core.MovementRestock,
		Quantity:     decimal.NewFromInt(qty),
		Unit:         "pc",
		BaseQuantity: decimal.NewFromInt(qty),
		BaseUnit:     "pc",
		CreatedBy:    "u-1",
		CreatedAt:    at,
	}
}

func TestMemory_ApplyMovement_LedgerMatchesStock(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveProduct(ctx, core.Product{ID: "p-1", Name: "Gauze", BaseUnit: "pc", Active: true}))

	base := time.Date(2026, 1, 4, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := mem.ApplyMovement(ctx, restockOf(fmt.Sprintf("RST-%d", i), "p-1", int64(i+1), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	p, err := mem.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	movements, err := mem.ListMovements(ctx, core.MovementFilter{ProductID: "p-1"})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, m := range movements {
		sum = sum.Add(m.BaseQuantity)
	}
	assert.True(t, p.CurrentStock.Equal(sum))
	assert.True(t, p.CurrentStock.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, int64(5), p.Analytics.Count)
	assert.Equal(t, "RST-4", movements[0].ID, "newest first")
}

func TestMemory_ApplyMovement_GuardsProductState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveProduct(ctx, core.Product{ID: "off", Name: "Old stock", BaseUnit: "pc", Active: false}))

	_, err := mem.ApplyMovement(ctx, restockOf("RST-1", "missing", 1, time.Now()))
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	_, err = mem.ApplyMovement(ctx, restockOf("RST-2", "off", 1, time.Now()))
	assert.ErrorIs(t, err, core.ErrProductInactive)

	movements, err := mem.ListMovements(ctx, core.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movements, "failed applies leave no ledger entry")
}

func TestMemory_SaveProductNeverTouchesStock(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveProduct(ctx, core.Product{ID: "p-1", Name: "Gauze", BaseUnit: "pc", Active: true, CurrentStock: decimal.NewFromInt(99)}))

	p, _ := mem.GetProduct(ctx, "p-1")
	assert.True(t, p.CurrentStock.IsZero())

	_, err := mem.ApplyMovement(ctx, restockOf("RST-1", "p-1", 4, time.Now()))
	require.NoError(t, err)
	require.NoError(t, mem.SaveProduct(ctx, core.Product{ID: "p-1", Name: "Gauze 10cm", BaseUnit: "box", Active: true}))

	p, _ = mem.GetProduct(ctx, "p-1")
	assert.Equal(t, "Gauze 10cm", p.Name)
	assert.Equal(t, "pc", p.BaseUnit)
	assert.True(t, p.CurrentStock.Equal(decimal.NewFromInt(4)))
}

func TestMemory_IncrementIsUnique(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	const n = 100
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := mem.Increment(ctx, "txn-20260104")
			assert.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for v := range results {
		assert.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestMemory_IdentityCopiesPermissions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	perms := map[string]map[string]any{"inventory": {"canView": true}}
	require.NoError(t, mem.SaveIdentity(ctx, core.IdentityRecord{ID: "u-1", Role: core.RoleStaff, Active: true, Permissions: perms}))

	perms["inventory"]["canView"] = false

	rec, err := mem.FindIdentity(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, true, rec.Permissions["inventory"]["canView"])

	missing, err := mem.FindIdentity(ctx, "u-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
