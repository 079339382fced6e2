package core

import (
	"context"
	"time"
)

// Catalog decorates a ProductStore at the repository boundary. Every read
// excludes soft-deleted products and every lifecycle write is an explicit
// transition.
//
// Active and Deleted are independent flags:
//   - Delete sets Deleted and leaves Active as it was.
//   - Restore clears Deleted and leaves Active as it was.
//   - SetActive toggles Active on products that are not deleted.
//
// A product accepts stock movements only while Active && !Deleted.
type Catalog struct {
	store ProductStore
	Now   func() time.Time
}

// NewCatalog wraps store.
func NewCatalog(store ProductStore) *Catalog {
	return &Catalog{store: store, Now: time.Now}
}

// Get returns the product, or nil when it is missing or soft-deleted.
func (c *Catalog) Get(ctx context.Context, id ProductID) (*Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	if p.Deleted {
		return nil, nil
	}
	return p, nil
}

// List returns matching products that are not soft-deleted.
func (c *Catalog) List(ctx context.Context, filter ProductFilter) ([]Product, error) {
	filter.IncludeDeleted = false
	products, err := c.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	// The store honours the filter; this guards implementations that don't.
	out := products[:0]
	for _, p := range products {
		if !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

// Save writes catalog fields. Deleted products cannot be edited.
func (c *Catalog) Save(ctx context.Context, p Product) error {
	existing, err := c.store.GetProduct(ctx, p.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Deleted {
		return &ProductError{ProductID: p.ID, Err: ErrProductNotFound}
	}
	p.Deleted = false
	return c.store.SaveProduct(ctx, p)
}

// Delete soft-deletes the product.
func (c *Catalog) Delete(ctx context.Context, id ProductID) error {
	p, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &ProductError{ProductID: id, Err: ErrProductNotFound}
	}
	now := c.Now().UTC()
	return c.store.UpdateProductStatus(ctx, id, StatusChange{
		Active:    p.Active,
		Deleted:   true,
		DeletedAt: &now,
		At:        now,
	})
}

// Restore undoes a soft delete. Restoring a live product is a no-op.
func (c *Catalog) Restore(ctx context.Context, id ProductID) error {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &ProductError{ProductID: id, Err: ErrProductNotFound}
	}
	if !p.Deleted {
		return nil
	}
	return c.store.UpdateProductStatus(ctx, id, StatusChange{
		Active:  p.Active,
		Deleted: false,
		At:      c.Now().UTC(),
	})
}

// SetActive toggles the active flag of a live product.
func (c *Catalog) SetActive(ctx context.Context, id ProductID, active bool) error {
	p, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &ProductError{ProductID: id, Err: ErrProductNotFound}
	}
	return c.store.UpdateProductStatus(ctx, id, StatusChange{
		Active: active,
		At:     c.Now().UTC(),
	})
}
