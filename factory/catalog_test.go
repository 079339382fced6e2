package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/sequence"
)

var seedDay = time.Date(2026, 1, 4, 8, 0, 0, 0, time.UTC)

func newFactory() *factory.CatalogFactory {
	f := factory.NewCatalogFactory()
	f.Now = func() time.Time { return seedDay }
	return f
}

func newSeeder(mem *store.Memory) *factory.Seeder {
	dir := access.NewDirectory(mem, access.NewIdentityCache(mem, nil), nil)
	s := factory.NewSeeder(mem, dir, sequence.NewGenerator(mem, nil), nil)
	s.Now = func() time.Time { return seedDay }
	return s
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseCatalog_NormalizesAndDefaults(t *testing.T) {
	catalog, err := newFactory().ParseCatalog(`{
		"products": [{"id": "p", "name": "Saline", "base_unit": " Litres ", "reorder_point": "2"}],
		"identities": [{"id": "u", "role": "staff"}]
	}`)
	require.NoError(t, err)

	require.Len(t, catalog.Products, 1)
	p := catalog.Products[0]
	assert.Equal(t, "l", p.Product.BaseUnit)
	assert.True(t, p.Product.Active)
	assert.True(t, p.OpeningStock.IsZero())
	assert.Equal(t, seedDay, p.Product.CreatedAt)

	require.Len(t, catalog.Identities, 1)
	assert.True(t, catalog.Identities[0].Active)
	assert.Equal(t, core.RoleStaff, catalog.Identities[0].Role)
}

func TestParseCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad json":          `{"products": [`,
		"missing id":        `{"products": [{"name": "x", "base_unit": "g", "reorder_point": "1"}]}`,
		"unknown unit":      `{"products": [{"id": "x", "name": "x", "base_unit": "bushel", "reorder_point": "1"}]}`,
		"negative reorder":  `{"products": [{"id": "x", "name": "x", "base_unit": "g", "reorder_point": "-1"}]}`,
		"duplicate product": `{"products": [{"id": "x", "name": "x", "base_unit": "g", "reorder_point": "1"}, {"id": "x", "name": "y", "base_unit": "g", "reorder_point": "1"}]}`,
		"unknown role":      `{"products": [], "identities": [{"id": "u", "role": "janitor"}]}`,
		"unknown grant":     `{"products": [], "identities": [{"id": "u", "role": "staff", "permissions": {"inventory": {"canFly": true}}}]}`,
		"wrong grant kind":  `{"products": [], "identities": [{"id": "u", "role": "staff", "permissions": {"inventory": {"canView": "yes"}}}]}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newFactory().ParseCatalog(js)
			assert.Error(t, err)
		})
	}
}

func TestPresetsParse(t *testing.T) {
	for _, sc := range factory.Scenarios() {
		t.Run(sc.ID, func(t *testing.T) {
			js, ok := factory.ScenarioJSON(sc.ID)
			require.True(t, ok)
			_, err := newFactory().ParseCatalog(js)
			assert.NoError(t, err)
		})
	}
	_, ok := factory.ScenarioJSON("nope")
	assert.False(t, ok)
}

// =============================================================================
// SEEDING
// =============================================================================

func TestSeeder_OpeningBalancesGoThroughLedger(t *testing.T) {
	// GIVEN: the small clinic catalog
	mem := store.NewMemory()
	js, _ := factory.ScenarioJSON("small-clinic")
	catalog, err := newFactory().ParseCatalog(js)
	require.NoError(t, err)

	// WHEN: it is seeded
	res, err := newSeeder(mem).Apply(context.Background(), catalog, "seed")
	require.NoError(t, err)

	// THEN: every product exists and stock equals its opening adjustment
	assert.Equal(t, len(catalog.Products), res.ProductsCreated)
	assert.Equal(t, 4, res.Identities)

	gauze, err := mem.GetProduct(context.Background(), "gauze-swab")
	require.NoError(t, err)
	assert.True(t, gauze.CurrentStock.Equal(decimal.NewFromInt(-2)))

	ms, err := mem.ListMovements(context.Background(), core.MovementFilter{ProductID: "gauze-swab"})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, core.MovementAdjustment, ms[0].Type)
	assert.Contains(t, ms[0].ID, "ADJ-20260104-")

	// AND: inactive products are created without a balance
	legacy, _ := mem.GetProduct(context.Background(), "legacy-ointment")
	require.NotNil(t, legacy)
	assert.False(t, legacy.Active)

	rec, err := mem.FindIdentity(context.Background(), "u-manager")
	require.NoError(t, err)
	assert.Equal(t, true, rec.Permissions["inventory"]["canBulkRestock"])
}

func TestSeeder_ReseedDoesNotDoubleStock(t *testing.T) {
	mem := store.NewMemory()
	js, _ := factory.ScenarioJSON("reorder-pressure")
	catalog, err := newFactory().ParseCatalog(js)
	require.NoError(t, err)
	seeder := newSeeder(mem)

	_, err = seeder.Apply(context.Background(), catalog, "seed")
	require.NoError(t, err)
	res, err := seeder.Apply(context.Background(), catalog, "seed")
	require.NoError(t, err)

	assert.Equal(t, 0, res.ProductsCreated)
	assert.Equal(t, len(catalog.Products), res.ProductsUpdated)
	assert.Equal(t, 0, res.OpeningBalances)

	p, _ := mem.GetProduct(context.Background(), "rp-probiotic")
	assert.True(t, p.CurrentStock.Equal(decimal.RequireFromString("120.5")))
}
