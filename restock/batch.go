package restock

import (
	"context"

	"github.com/google/uuid"
	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// BulkRequest is a set of restock lines sharing one batch.
type BulkRequest struct {
	Operations       []Operation
	SupplierID       string
	PurchaseOrderRef string
	BatchReference   string // generated when empty
}

// LineResult is the outcome of one line of a bulk restock.
type LineResult struct {
	Index     int
	ProductID core.ProductID
	Success   bool
	Movement  *core.Movement
	Code      string
	Error     string
	Transient bool // failed on infrastructure, may succeed later
}

// BatchResult is the outcome of a bulk restock.
type BatchResult struct {
	BatchID         string
	BatchReference  string
	TotalOperations int
	SuccessCount    int
	Lines           []LineResult
	Recorded        bool // parent batch record persisted
}

// BulkRestock applies every line through the single-restock path. A failed
// line does not stop later lines and does not undo earlier ones.
func (e *Engine) BulkRestock(ctx context.Context, req BulkRequest, createdBy string) (*BatchResult, error) {
	if len(req.Operations) == 0 {
		return nil, core.Invalid("operations", "at least one operation is required")
	}
	if len(req.Operations) > MaxBulkOperations {
		return nil, core.Invalid("operations", "at most %d operations per batch", MaxBulkOperations)
	}
	if createdBy == "" {
		return nil, core.Invalid("createdBy", "is required")
	}

	now := e.Now().UTC()
	ref := req.BatchReference
	if ref == "" {
		var err error
		if ref, err = e.sequence.NextDocumentNumber(ctx, DocTypeBatch, now); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{
		BatchID:         uuid.NewString(),
		BatchReference:  ref,
		TotalOperations: len(req.Operations),
		Lines:           make([]LineResult, 0, len(req.Operations)),
	}
	var movementIDs []string

	for i, op := range req.Operations {
		if op.Reference == "" {
			op.Reference = ref
		}
		line := LineResult{Index: i, ProductID: op.ProductID}

		res, err := e.restock(ctx, op, createdBy, result.BatchID)
		if err != nil {
			line.Code = core.Code(err)
			line.Error = err.Error()
			line.Transient = core.IsTransient(err)
			e.logger.Warn("bulk restock line failed",
				zap.String("batch_id", result.BatchID),
				zap.Int("line", i),
				zap.String("product_id", string(op.ProductID)),
				zap.String("code", line.Code),
				zap.Error(err))
		} else {
			line.Success = true
			line.Movement = &res.Movement
			result.SuccessCount++
			movementIDs = append(movementIDs, res.Movement.ID)
		}
		result.Lines = append(result.Lines, line)
	}

	batch := core.Batch{
		ID:               result.BatchID,
		Reference:        ref,
		SupplierID:       req.SupplierID,
		PurchaseOrderRef: req.PurchaseOrderRef,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		TotalOperations:  result.TotalOperations,
		SuccessCount:     result.SuccessCount,
		MovementIDs:      movementIDs,
	}

	sctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()
	if err := e.store.SaveBatch(sctx, batch); err != nil {
		// Lines are already applied and carry the batch id, so the batch can
		// be reconstructed from the ledger.
		e.logger.Error("batch record not saved",
			zap.String("op", "batch.save"),
			zap.String("batch_id", batch.ID),
			zap.Error(err))
	} else {
		result.Recorded = true
	}

	e.logger.Info("bulk restock finished",
		zap.String("batch_id", result.BatchID),
		zap.String("reference", ref),
		zap.Int("total", result.TotalOperations),
		zap.Int("succeeded", result.SuccessCount))

	return result, nil
}
