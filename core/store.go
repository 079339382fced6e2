/*
store.go - Persistence interfaces for products, ledger, counters and identities

PURPOSE:
  Defines the boundary between the core and the document/SQL store.
  The core assumes a small set of primitives with specific atomicity:
  find by id, find-and-update with atomic increment/upsert, count, and
  delete. Implementations map those onto their own database.

KEY INTERFACES:
  ProductStore:  Catalog reads and catalog-field upserts
  LedgerStore:   Atomic stock movement + ledger append
  BatchStore:    Restock batch parent records
  CounterStore:  Atomic find-and-increment-or-create
  IdentityStore: Principal lookup without credentials

ATOMICITY CONTRACT:
  ApplyMovement either (a) appends the movement AND increments the
  product's stock by BaseQuantity, or (b) does neither. The increment
  is applied in the store (stock = stock + delta), never as a
  read-modify-write from the caller.

  Increment creates the counter at 0 if absent and returns the
  post-increment value in one round trip. Two concurrent callers never
  observe the same value for the same name.

MISSING RECORDS:
  GetProduct and FindIdentity return (nil, nil) when nothing matches.

IMPLEMENTATIONS:
  - core/store/memory.go: In-memory for testing/dev
  - store/sqlite: SQLite via sqlx
  - store/mongo: MongoDB document store
  - store/redis: Counter-only Redis backend

SEE ALSO:
  - softdelete.go: Catalog decorator that hides soft-deleted products
*/
package core

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

// ProductStore persists catalog fields. Stock is never written here.
type ProductStore interface {
	// GetProduct returns the product or nil when it does not exist.
	// Soft-deleted products are returned; filtering is the Catalog's job.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// ListProducts returns products matching filter ordered by name.
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)

	// SaveProduct inserts a product with zero stock or updates catalog
	// fields of an existing one. BaseUnit is fixed at insert.
	SaveProduct(ctx context.Context, p Product) error

	// UpdateProductStatus writes the lifecycle flags.
	// Returns ErrProductNotFound when the product does not exist.
	UpdateProductStatus(ctx context.Context, id ProductID, change StatusChange) error
}

// LedgerStore applies and reads stock movements.
type LedgerStore interface {
	// ApplyMovement atomically appends m and adds m.BaseQuantity to the
	// product's stock. Restock movements also update RestockAnalytics.
	// Fails with ErrProductNotFound or ErrProductInactive when the product
	// is missing, deleted, or inactive at write time.
	ApplyMovement(ctx context.Context, m Movement) (*Product, error)

	// ListMovements returns movements newest first.
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// BatchStore persists bulk restock parent records.
type BatchStore interface {
	SaveBatch(ctx context.Context, b Batch) error

	// GetBatch returns nil, nil when no batch has id.
	GetBatch(ctx context.Context, id string) (*Batch, error)

	// ListBatches returns batches newest first.
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
}

// CounterStore is an atomic find-and-increment-or-create register.
type CounterStore interface {
	Increment(ctx context.Context, name string) (int64, error)
}

// IdentityStore reads and writes principals.
type IdentityStore interface {
	// FindIdentity returns the identity or nil when it does not exist.
	FindIdentity(ctx context.Context, id string) (*IdentityRecord, error)

	// SaveIdentity upserts the identity. Credentials are left untouched.
	SaveIdentity(ctx context.Context, rec IdentityRecord) error
}

// Store is the full set of persistence capabilities.
type Store interface {
	ProductStore
	LedgerStore
	BatchStore
	CounterStore
	IdentityStore
}
