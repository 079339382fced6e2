// Package store provides core.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	products   map[core.ProductID]core.Product
	movements  []core.Movement
	movementID map[string]bool
	batches    []core.Batch
	counters   map[string]int64
	identities map[string]core.IdentityRecord
}

var _ core.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		products:   make(map[core.ProductID]core.Product),
		movementID: make(map[string]bool),
		counters:   make(map[string]int64),
		identities: make(map[string]core.IdentityRecord),
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id core.ProductID) (*core.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, filter core.ProductFilter) ([]core.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Product
	for _, p := range m.products {
		if filter.Matches(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveProduct upserts catalog fields. Stock, analytics, BaseUnit and the
// deleted flag of an existing product are preserved.
func (m *Memory) SaveProduct(_ context.Context, p core.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.products[p.ID]
	if !ok {
		p.CurrentStock = decimal.Zero
		p.Analytics = core.RestockAnalytics{}
		p.Deleted = false
		p.DeletedAt = nil
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		m.products[p.ID] = p
		return nil
	}

	existing.Name = p.Name
	existing.SKU = p.SKU
	existing.Category = p.Category
	existing.SupplierID = p.SupplierID
	existing.ReorderPoint = p.ReorderPoint
	existing.Active = p.Active
	existing.UpdatedAt = p.UpdatedAt
	m.products[p.ID] = existing
	return nil
}

func (m *Memory) UpdateProductStatus(_ context.Context, id core.ProductID, change core.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return &core.ProductError{ProductID: id, Err: core.ErrProductNotFound}
	}
	p.Active = change.Active
	p.Deleted = change.Deleted
	p.DeletedAt = change.DeletedAt
	p.UpdatedAt = change.At
	m.products[id] = p
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

// ApplyMovement checks, increments and appends under one lock.
func (m *Memory) ApplyMovement(_ context.Context, mv core.Movement) (*core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[mv.ProductID]
	if !ok || p.Deleted {
		return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductNotFound}
	}
	if !p.Active {
		return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductInactive}
	}
	if m.movementID[mv.ID] {
		return nil, fmt.Errorf("duplicate movement id %s", mv.ID)
	}

	mv.BaseQuantity = mv.BaseQuantity.Round(core.QuantityScale)
	if err := core.CheckMovement(p.CurrentStock, mv.BaseQuantity); err != nil {
		return nil, err
	}
	p.CurrentStock = p.CurrentStock.Add(mv.BaseQuantity)
	if mv.Type == core.MovementRestock {
		p.Analytics = p.Analytics.Record(mv.BaseQuantity, mv.CreatedAt)
	}
	p.UpdatedAt = mv.CreatedAt

	m.products[p.ID] = p
	m.movements = append(m.movements, mv)
	m.movementID[mv.ID] = true
	return &p, nil
}

func (m *Memory) ListMovements(_ context.Context, filter core.MovementFilter) ([]core.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if filter.ProductID != "" && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		if filter.BatchID != "" && mv.BatchID != filter.BatchID {
			continue
		}
		result = append(result, mv)
	}
	// Append order already approximates time order; the stable sort fixes
	// movements written with out-of-order timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) SaveBatch(_ context.Context, b core.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.MovementIDs = append([]string(nil), b.MovementIDs...)
	m.batches = append(m.batches, b)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*core.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.batches {
		if b.ID == id {
			b.MovementIDs = append([]string(nil), b.MovementIDs...)
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListBatches(_ context.Context, limit int) ([]core.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]core.Batch, 0, len(m.batches))
	for i := len(m.batches) - 1; i >= 0; i-- {
		result = append(result, m.batches[i])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// COUNTERS
// =============================================================================

func (m *Memory) Increment(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[name]++
	return m.counters[name], nil
}

// =============================================================================
// IDENTITIES
// =============================================================================

func (m *Memory) FindIdentity(_ context.Context, id string) (*core.IdentityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	rec.Permissions = clonePermissions(rec.Permissions)
	return &rec, nil
}

func (m *Memory) SaveIdentity(_ context.Context, rec core.IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Permissions = clonePermissions(rec.Permissions)
	m.identities[rec.ID] = rec
	return nil
}

func clonePermissions(src map[string]map[string]any) map[string]map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(src))
	for cat, caps := range src {
		inner := make(map[string]any, len(caps))
		for k, v := range caps {
			inner[k] = v
		}
		out[cat] = inner
	}
	return out
}
