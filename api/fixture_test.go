package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/restock"
	"github.com/warp/clinic-engine/sequence"
)

const (
	testSecret = "test-secret"
	testIssuer = "clinic-test"
)

type fixture struct {
	store    *store.Memory
	verifier *access.TokenVerifier
	cache    *access.IdentityCache
	auth     *Authorizer
	handler  *Handler
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	identities := []core.IdentityRecord{
		{ID: "u-staff", Role: core.RoleStaff, Active: true},
		{ID: "u-manager", Role: core.RoleManager, Active: true},
		{ID: "u-bulk", Role: core.RoleManager, Active: true, Permissions: map[string]map[string]any{
			"inventory": {"canBulkRestock": true},
		}},
		{ID: "u-admin", Role: core.RoleAdmin, Active: true},
		{ID: "u-owner", Role: core.RoleSuperAdmin, Active: true},
		{ID: "u-off", Role: core.RoleManager, Active: false},
		{ID: "u-nohist", Role: core.RoleStaff, Active: true, Permissions: map[string]map[string]any{
			"inventory": {"canViewHistory": false},
		}},
		{ID: "u-mgr-nohist", Role: core.RoleManager, Active: true, Permissions: map[string]map[string]any{
			"inventory": {"canViewHistory": false},
		}},
	}
	for _, rec := range identities {
		require.NoError(t, mem.SaveIdentity(ctx, rec))
	}

	seedProduct(t, mem, core.Product{ID: "saline", Name: "Saline", BaseUnit: "ml", ReorderPoint: decimal.NewFromInt(5000), Active: true}, "1000")
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", BaseUnit: "pc", ReorderPoint: decimal.NewFromInt(100), Active: true}, "-3")
	seedProduct(t, mem, core.Product{ID: "retired", Name: "Retired", BaseUnit: "pc", ReorderPoint: decimal.NewFromInt(10), Active: false}, "0")

	defaults, err := access.NewRoleDefaults()
	require.NoError(t, err)

	verifier := access.NewTokenVerifier([]byte(testSecret), testIssuer)
	cache := access.NewIdentityCache(mem, nil)
	directory := access.NewDirectory(mem, cache, nil)
	seq := sequence.NewGenerator(mem, nil)
	engine := restock.NewEngine(mem, seq, nil)
	seeder := factory.NewSeeder(mem, directory, seq, nil)

	auth := NewAuthorizer(verifier, cache, access.NewEvaluator(defaults), nil)
	h := NewHandler(mem, engine, directory, seeder, nil)
	h.Scheduler = NewReorderScheduler(engine, nil)

	return &fixture{
		store:    mem,
		verifier: verifier,
		cache:    cache,
		auth:     auth,
		handler:  h,
		router:   NewRouter(h, auth, RouterOptions{}),
	}
}

func seedProduct(t *testing.T, mem *store.Memory, p core.Product, stock string) {
	t.Helper()
	ctx := context.Background()
	active := p.Active
	p.Active = true
	p.CreatedAt = time.Now().UTC()
	require.NoError(t, mem.SaveProduct(ctx, p))

	qty := decimal.RequireFromString(stock)
	if !qty.IsZero() {
		_, err := mem.ApplyMovement(ctx, core.Movement{
			ID: "OPEN-" + string(p.ID), ProductID: p.ID, Type: core.MovementAdjustment,
			Quantity: qty, Unit: p.BaseUnit, BaseQuantity: qty, BaseUnit: p.BaseUnit,
			CreatedBy: "seed", CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	if !active {
		require.NoError(t, mem.UpdateProductStatus(ctx, p.ID, core.StatusChange{Active: false, At: time.Now().UTC()}))
	}
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.verifier.Issue(subject, "", time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request as subject. An empty subject sends no credentials.
func (f *fixture) do(t *testing.T, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, subject))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// deniedResponse reads 403 bodies with typed details.
type deniedResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details []core.Capability `json:"details"`
}
