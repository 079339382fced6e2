package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/warp/clinic-engine/core"
)

// =============================================================================
// PRODUCT STORE (core.ProductStore interface)
// =============================================================================

type productRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	SKU          string         `db:"sku"`
	Category     string         `db:"category"`
	SupplierID   string         `db:"supplier_id"`
	BaseUnit     string         `db:"base_unit"`
	StockMicros  int64          `db:"stock_micros"`
	ReorderPoint string         `db:"reorder_point"`
	Active       bool           `db:"active"`
	Deleted      bool           `db:"deleted"`
	DeletedAt    sql.NullString `db:"deleted_at"`
	AvgRestock   string         `db:"avg_restock_quantity"`
	RestockCount int64          `db:"restock_count"`
	RestockFreq  string         `db:"restock_frequency_days"`
	LastRestock  sql.NullString `db:"last_restocked_at"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

const productColumns = `id, name, sku, category, supplier_id, base_unit, stock_micros,
	reorder_point, active, deleted, deleted_at, avg_restock_quantity, restock_count,
	restock_frequency_days, last_restocked_at, created_at, updated_at`

func (r productRow) toProduct() core.Product {
	return core.Product{
		ID:           core.ProductID(r.ID),
		Name:         r.Name,
		SKU:          r.SKU,
		Category:     r.Category,
		SupplierID:   r.SupplierID,
		BaseUnit:     r.BaseUnit,
		CurrentStock: fromMicros(r.StockMicros),
		ReorderPoint: parseDecimal(r.ReorderPoint),
		Active:       r.Active,
		Deleted:      r.Deleted,
		DeletedAt:    parseNullTime(r.DeletedAt),
		Analytics: core.RestockAnalytics{
			AverageQuantity: parseDecimal(r.AvgRestock),
			Count:           r.RestockCount,
			FrequencyDays:   parseDecimal(r.RestockFreq),
			LastRestockedAt: parseNullTime(r.LastRestock),
		},
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

func (s *Store) GetProduct(ctx context.Context, id core.ProductID) (*core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id core.ProductID) (*core.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+productColumns+` FROM products WHERE id = ?`, string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get product")
	}
	p := row.toProduct()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter core.ProductFilter) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{}
	args := map[string]interface{}{}

	if filter.Category != "" {
		conditions = append(conditions, "category = :category")
		args["category"] = filter.Category
	}
	if filter.SupplierID != "" {
		conditions = append(conditions, "supplier_id = :supplier_id")
		args["supplier_id"] = filter.SupplierID
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted = 0")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query, qargs, err := sqlx.Named(`SELECT `+productColumns+` FROM products`+whereClause+` ORDER BY name, id`, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build product query")
	}

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), qargs...); err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}

	products := make([]core.Product, len(rows))
	for i, r := range rows {
		products[i] = r.toProduct()
	}
	return products, nil
}

// SaveProduct upserts catalog fields. Stock, analytics, base unit and the
// deleted flag of an existing row are left alone.
func (s *Store) SaveProduct(ctx context.Context, p core.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	row := productRow{
		ID:           string(p.ID),
		Name:         p.Name,
		SKU:          p.SKU,
		Category:     p.Category,
		SupplierID:   p.SupplierID,
		BaseUnit:     p.BaseUnit,
		ReorderPoint: p.ReorderPoint.String(),
		Active:       p.Active,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}

	query := `
		INSERT INTO products (
			id, name, sku, category, supplier_id, base_unit, stock_micros,
			reorder_point, active, deleted, created_at, updated_at
		)
		VALUES (
			:id, :name, :sku, :category, :supplier_id, :base_unit, 0,
			:reorder_point, :active, 0, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			sku = excluded.sku,
			category = excluded.category,
			supplier_id = excluded.supplier_id,
			reorder_point = excluded.reorder_point,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrapf(err, "failed to save product %s", p.ID)
	}
	return nil
}

func (s *Store) UpdateProductStatus(ctx context.Context, id core.ProductID, change core.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET active = ?, deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?`,
		change.Active, change.Deleted, nullTime(change.DeletedAt), formatTime(change.At), string(id))
	if err != nil {
		return errors.Wrap(err, "failed to update product status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.ProductError{ProductID: id, Err: core.ErrProductNotFound}
	}
	return nil
}
