/*
engine.go - Restock computation and execution

PURPOSE:
  Reconciles suggested replenishment against live stock and applies
  restocks to the ledger. Callers have already passed authorization;
  the engine only enforces domain rules.

OPERATIONS:
  Suggest:        Deficit-based restock suggestions, priority ordered
  Restock:        One restock line, atomic with its ledger entry
  BulkRestock:    Many lines sharing a batch, partial-failure semantics
  RestockHistory: Restock movements, newest first
  BatchHistory:   Batch parent records, newest first

RESTOCK PIPELINE:
  1. Validate input
  2. Product must exist, not be deleted, and be active
  3. Convert quantity into the product's base unit
  4. Allocate a document number (RST-YYYYMMDD-NNNN)
  5. LedgerStore.ApplyMovement: stock += delta and append, atomically

  A number allocated in step 4 and then abandoned in step 5 stays
  consumed. The movement and the stock change never diverge.

CONCURRENCY:
  Concurrent restocks of the same product are correct because step 5 is
  an in-store increment. The ledger order of concurrent movements is not
  guaranteed to follow issuance order; the final stock is.

SEE ALSO:
  - suggest.go: Suggestion computation
  - batch.go: Bulk restock
  - core/store.go: LedgerStore atomicity contract
*/
package restock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/sequence"
	"github.com/warp/clinic-engine/units"
	"go.uber.org/zap"
)

const (
	// DocTypeRestock prefixes restock movement numbers.
	DocTypeRestock = "RST"
	// DocTypeBatch prefixes generated batch references.
	DocTypeBatch = "BATCH"

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	MaxBulkOperations   = 500

	DefaultStoreTimeout = 5 * time.Second
)

// Store is the persistence the engine needs.
type Store interface {
	core.ProductStore
	core.LedgerStore
	core.BatchStore
}

// Engine executes restock operations.
type Engine struct {
	store    Store
	catalog  *core.Catalog
	sequence *sequence.Generator
	logger   *zap.Logger

	StoreTimeout time.Duration
	Now          func() time.Time
}

// NewEngine creates an engine.
func NewEngine(store Store, seq *sequence.Generator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:        store,
		catalog:      core.NewCatalog(store),
		sequence:     seq,
		logger:       logger,
		StoreTimeout: DefaultStoreTimeout,
		Now:          time.Now,
	}
}

// =============================================================================
// SINGLE RESTOCK
// =============================================================================

// Operation is one restock line.
type Operation struct {
	ProductID core.ProductID
	Quantity  decimal.Decimal
	Unit      string // defaults to the product's base unit
	Reference string
	Notes     string
	UnitCost  *decimal.Decimal
}

// MovementResult is the outcome of a successful restock.
type MovementResult struct {
	Movement core.Movement
	Product  core.Product
}

// Restock applies a single restock line.
func (e *Engine) Restock(ctx context.Context, op Operation, createdBy string) (*MovementResult, error) {
	return e.restock(ctx, op, createdBy, "")
}

func (e *Engine) restock(ctx context.Context, op Operation, createdBy, batchID string) (*MovementResult, error) {
	if err := validateOperation(op, createdBy); err != nil {
		return nil, err
	}

	product, err := e.liveProduct(ctx, op.ProductID)
	if err != nil {
		return nil, err
	}

	unit := op.Unit
	if unit == "" {
		unit = product.BaseUnit
	}
	conv, err := units.Convert(op.Quantity, unit, product.BaseUnit)
	if err != nil {
		return nil, &core.ConversionError{ProductID: product.ID, From: unit, To: product.BaseUnit, Err: err}
	}
	if err := core.CheckMovement(product.CurrentStock, conv.Value.Round(core.QuantityScale)); err != nil {
		return nil, err
	}

	now := e.Now().UTC()
	docNo, err := e.sequence.NextDocumentNumber(ctx, DocTypeRestock, now)
	if err != nil {
		return nil, err
	}

	movement := core.Movement{
		ID:           docNo,
		ProductID:    product.ID,
		Type:         core.MovementRestock,
		Quantity:     op.Quantity,
		Unit:         conv.From,
		BaseQuantity: conv.Value.Round(core.QuantityScale),
		BaseUnit:     product.BaseUnit,
		UnitCost:     op.UnitCost,
		Reference:    op.Reference,
		BatchID:      batchID,
		Notes:        op.Notes,
		CreatedBy:    createdBy,
		CreatedAt:    now,
	}

	sctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()
	updated, err := e.store.ApplyMovement(sctx, movement)
	if err != nil {
		err = core.StoreFailure("ledger.apply_movement", err)
		if core.IsTransient(err) {
			e.logger.Error("restock not applied",
				zap.String("op", "ledger.apply_movement"),
				zap.String("movement_id", docNo),
				zap.String("product_id", string(product.ID)),
				zap.Error(err))
		}
		return nil, err
	}

	e.logger.Info("restock applied",
		zap.String("movement_id", docNo),
		zap.String("product_id", string(product.ID)),
		zap.String("base_quantity", movement.BaseQuantity.String()),
		zap.String("stock", updated.CurrentStock.String()),
		zap.String("batch_id", batchID))

	return &MovementResult{Movement: movement, Product: *updated}, nil
}

func validateOperation(op Operation, createdBy string) error {
	if op.ProductID == "" {
		return core.Invalid("productId", "is required")
	}
	if !op.Quantity.IsPositive() {
		return core.Invalid("quantity", "must be greater than zero")
	}
	if op.UnitCost != nil && op.UnitCost.IsNegative() {
		return core.Invalid("unitCost", "must not be negative")
	}
	if createdBy == "" {
		return core.Invalid("createdBy", "is required")
	}
	return nil
}

func (e *Engine) liveProduct(ctx context.Context, id core.ProductID) (*core.Product, error) {
	sctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()

	p, err := e.catalog.Get(sctx, id)
	if err != nil {
		e.logger.Error("product lookup failed", zap.String("op", "product.get"), zap.String("product_id", string(id)), zap.Error(err))
		return nil, core.StoreFailure("product.get", err)
	}
	if p == nil {
		return nil, &core.ProductError{ProductID: id, Err: core.ErrProductNotFound}
	}
	if !p.Active {
		return nil, &core.ProductError{ProductID: id, Err: core.ErrProductInactive}
	}
	return p, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// RestockHistory returns restock movements, optionally for one product.
func (e *Engine) RestockHistory(ctx context.Context, productID core.ProductID, limit int) ([]core.Movement, error) {
	ctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()

	movements, err := e.store.ListMovements(ctx, core.MovementFilter{
		ProductID: productID,
		Type:      core.MovementRestock,
		Limit:     clampLimit(limit),
	})
	if err != nil {
		e.logger.Error("restock history failed", zap.String("op", "ledger.list_movements"), zap.Error(err))
		return nil, core.StoreFailure("ledger.list_movements", err)
	}
	return movements, nil
}

// BatchHistory returns batch records.
func (e *Engine) BatchHistory(ctx context.Context, limit int) ([]core.Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()

	batches, err := e.store.ListBatches(ctx, clampLimit(limit))
	if err != nil {
		e.logger.Error("batch history failed", zap.String("op", "batch.list"), zap.Error(err))
		return nil, core.StoreFailure("batch.list", err)
	}
	return batches, nil
}

// BatchMovements returns the movements written under batchID.
func (e *Engine) BatchMovements(ctx context.Context, batchID string) ([]core.Movement, error) {
	if batchID == "" {
		return nil, core.Invalid("batchId", "is required")
	}
	ctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()

	movements, err := e.store.ListMovements(ctx, core.MovementFilter{BatchID: batchID, Limit: MaxBulkOperations})
	if err != nil {
		e.logger.Error("batch movements failed", zap.String("op", "ledger.list_movements"), zap.Error(err))
		return nil, core.StoreFailure("ledger.list_movements", err)
	}
	return movements, nil
}

// Batch returns the batch record and its movements. The record is nil when
// it was never saved; both are empty for an unknown id.
func (e *Engine) Batch(ctx context.Context, batchID string) (*core.Batch, []core.Movement, error) {
	movements, err := e.BatchMovements(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()

	batch, err := e.store.GetBatch(sctx, batchID)
	if err != nil {
		e.logger.Error("batch lookup failed", zap.String("op", "batch.get"), zap.Error(err))
		return nil, nil, core.StoreFailure("batch.get", err)
	}
	return batch, movements, nil
}
