package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/warp/clinic-engine/core"
)

// =============================================================================
// LEDGER STORE (core.LedgerStore interface)
// =============================================================================

type movementRow struct {
	ID         string         `db:"id"`
	ProductID  string         `db:"product_id"`
	Type       string         `db:"movement_type"`
	Quantity   string         `db:"quantity"`
	Unit       string         `db:"unit"`
	BaseMicros int64          `db:"base_micros"`
	BaseUnit   string         `db:"base_unit"`
	UnitCost   sql.NullString `db:"unit_cost"`
	Reference  string         `db:"reference"`
	BatchID    string         `db:"batch_id"`
	Notes      string         `db:"notes"`
	CreatedBy  string         `db:"created_by"`
	CreatedAt  string         `db:"created_at"`
}

const movementColumns = `id, product_id, movement_type, quantity, unit, base_micros,
	base_unit, unit_cost, reference, batch_id, notes, created_by, created_at`

func (r movementRow) toMovement() core.Movement {
	return core.Movement{
		ID:           r.ID,
		ProductID:    core.ProductID(r.ProductID),
		Type:         core.MovementType(r.Type),
		Quantity:     parseDecimal(r.Quantity),
		Unit:         r.Unit,
		BaseQuantity: fromMicros(r.BaseMicros),
		BaseUnit:     r.BaseUnit,
		UnitCost:     parseNullDecimal(r.UnitCost),
		Reference:    r.Reference,
		BatchID:      r.BatchID,
		Notes:        r.Notes,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    parseTime(r.CreatedAt),
	}
}

// ApplyMovement guards, increments and appends in one transaction.
func (s *Store) ApplyMovement(ctx context.Context, mv core.Movement) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	current, err := getProduct(ctx, tx, mv.ProductID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Deleted {
		return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductNotFound}
	}
	if !current.Active {
		return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductInactive}
	}

	mv.BaseQuantity = mv.BaseQuantity.Round(core.QuantityScale)
	if err := core.CheckMovement(current.CurrentStock, mv.BaseQuantity); err != nil {
		return nil, err
	}
	delta, err := toMicros(mv.BaseQuantity)
	if err != nil {
		return nil, err
	}
	analytics := current.Analytics
	if mv.Type == core.MovementRestock {
		analytics = analytics.Record(mv.BaseQuantity, mv.CreatedAt)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE products SET
			stock_micros = stock_micros + ?,
			avg_restock_quantity = ?,
			restock_count = ?,
			restock_frequency_days = ?,
			last_restocked_at = ?,
			updated_at = ?
		WHERE id = ? AND active = 1 AND deleted = 0`,
		delta,
		analytics.AverageQuantity.String(),
		analytics.Count,
		analytics.FrequencyDays.String(),
		nullTime(analytics.LastRestockedAt),
		formatTime(mv.CreatedAt),
		string(mv.ProductID),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update stock")
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, errors.Errorf("stock update matched %d rows for product %s", n, mv.ProductID)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (
			:id, :product_id, :movement_type, :quantity, :unit, :base_micros,
			:base_unit, :unit_cost, :reference, :batch_id, :notes, :created_by, :created_at
		)`, movementRow{
		ID:         mv.ID,
		ProductID:  string(mv.ProductID),
		Type:       string(mv.Type),
		Quantity:   mv.Quantity.String(),
		Unit:       mv.Unit,
		BaseMicros: delta,
		BaseUnit:   mv.BaseUnit,
		UnitCost:   nullDecimal(mv.UnitCost),
		Reference:  mv.Reference,
		BatchID:    mv.BatchID,
		Notes:      mv.Notes,
		CreatedBy:  mv.CreatedBy,
		CreatedAt:  formatTime(mv.CreatedAt),
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, errors.Errorf("duplicate movement id %s", mv.ID)
		}
		return nil, errors.Wrap(err, "failed to append movement")
	}

	updated, err := getProduct(ctx, tx, mv.ProductID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit movement")
	}
	return updated, nil
}

func (s *Store) ListMovements(ctx context.Context, filter core.MovementFilter) ([]core.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{}
	args := map[string]interface{}{}

	if filter.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = string(filter.ProductID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "movement_type = :movement_type")
		args["movement_type"] = string(filter.Type)
	}
	if filter.BatchID != "" {
		conditions = append(conditions, "batch_id = :batch_id")
		args["batch_id"] = filter.BatchID
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := `SELECT ` + movementColumns + ` FROM movements` + whereClause + ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT :limit`
		args["limit"] = filter.Limit
	}

	query, qargs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build movement query")
	}

	var rows []movementRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), qargs...); err != nil {
		return nil, errors.Wrap(err, "failed to list movements")
	}

	movements := make([]core.Movement, len(rows))
	for i, r := range rows {
		movements[i] = r.toMovement()
	}
	return movements, nil
}

// =============================================================================
// BATCH STORE (core.BatchStore interface)
// =============================================================================

type batchRow struct {
	ID               string `db:"id"`
	Reference        string `db:"reference"`
	SupplierID       string `db:"supplier_id"`
	PurchaseOrderRef string `db:"purchase_order_ref"`
	CreatedBy        string `db:"created_by"`
	CreatedAt        string `db:"created_at"`
	TotalOperations  int    `db:"total_operations"`
	SuccessCount     int    `db:"success_count"`
	MovementIDsJSON  string `db:"movement_ids_json"`
}

const batchColumns = `id, reference, supplier_id, purchase_order_ref, created_by, created_at,
		total_operations, success_count, movement_ids_json`

func (r batchRow) toBatch() (core.Batch, error) {
	var ids []string
	if err := json.Unmarshal([]byte(r.MovementIDsJSON), &ids); err != nil {
		return core.Batch{}, errors.Wrapf(err, "corrupt movement ids on batch %s", r.ID)
	}
	return core.Batch{
		ID:               r.ID,
		Reference:        r.Reference,
		SupplierID:       r.SupplierID,
		PurchaseOrderRef: r.PurchaseOrderRef,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        parseTime(r.CreatedAt),
		TotalOperations:  r.TotalOperations,
		SuccessCount:     r.SuccessCount,
		MovementIDs:      ids,
	}, nil
}

func (s *Store) SaveBatch(ctx context.Context, b core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := b.MovementIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "failed to encode movement ids")
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO batches (
			id, reference, supplier_id, purchase_order_ref, created_by, created_at,
			total_operations, success_count, movement_ids_json
		)
		VALUES (
			:id, :reference, :supplier_id, :purchase_order_ref, :created_by, :created_at,
			:total_operations, :success_count, :movement_ids_json
		)`, batchRow{
		ID:               b.ID,
		Reference:        b.Reference,
		SupplierID:       b.SupplierID,
		PurchaseOrderRef: b.PurchaseOrderRef,
		CreatedBy:        b.CreatedBy,
		CreatedAt:        formatTime(b.CreatedAt),
		TotalOperations:  b.TotalOperations,
		SuccessCount:     b.SuccessCount,
		MovementIDsJSON:  string(idsJSON),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save batch %s", b.ID)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r batchRow
	err := s.db.GetContext(ctx, &r, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get batch %s", id)
	}
	b, err := r.toBatch()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]core.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + batchColumns + `
		FROM batches ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []batchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}

	batches := make([]core.Batch, len(rows))
	for i, r := range rows {
		b, err := r.toBatch()
		if err != nil {
			return nil, err
		}
		batches[i] = b
	}
	return batches, nil
}
