/*
handlers.go - HTTP API handlers for the clinic stock core

PURPOSE:
  Exposes the restock engine, the product catalog, and identity
  administration via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic. Authorization has already
  run by the time a handler executes; see auth.go.

ENDPOINTS:
  Identity:
    GET    /api/me                               Resolved caller identity

  Products:
    GET    /api/products                         List live products
    PUT    /api/products/{id}/status             Toggle active flag
    DELETE /api/products/{id}                    Soft delete
    POST   /api/products/{id}/restore            Undo soft delete

  Restock:
    GET    /api/restock/suggestions              Deficit-based suggestions
    POST   /api/restock                          Single restock
    POST   /api/restock/bulk                     Bulk restock (partial success)
    GET    /api/restock/history                  Restock movements
    GET    /api/restock/batches                  Batch records
    GET    /api/restock/batches/{id}             Movements of one batch
    GET    /api/restock/alerts                   Last reorder scan

  Admin:
    PUT    /api/admin/identities/{id}            Update role/active/permissions
    POST   /api/admin/identities/{id}/invalidate Drop one cache entry
    POST   /api/admin/identity-cache/clear       Drop every cache entry

ERROR HANDLING:
  Errors are returned as JSON with a stable code, see errors.go:
  - 400: Validation errors, invalid input
  - 404: Product or identity not found
  - 409: Product inactive
  - 422: Unit mismatch, unknown unit
  - 503: Store unavailable, sequence allocation failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/restock"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *restock.Engine
	Products  *core.Catalog
	Directory *access.Directory
	Seeder    *factory.Seeder
	Catalogs  *factory.CatalogFactory
	Scheduler *ReorderScheduler // optional

	// DefaultThreshold applies when suggestions are requested without one.
	DefaultThreshold decimal.Decimal
	StoreTimeout     time.Duration

	logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store.
func NewHandler(store core.ProductStore, engine *restock.Engine, directory *access.Directory, seeder *factory.Seeder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:           engine,
		Products:         core.NewCatalog(store),
		Directory:        directory,
		Seeder:           seeder,
		Catalogs:         factory.NewCatalogFactory(),
		DefaultThreshold: decimal.NewFromInt(1),
		StoreTimeout:     restock.DefaultStoreTimeout,
		logger:           logger,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, h.logger, err)
}

func (h *Handler) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.StoreTimeout)
}

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Invalid("body", "must not exceed %d bytes", tooLarge.Limit)
		}
		return core.Invalid("body", "invalid request body: %v", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.Invalid("limit", "must be a non-negative integer")
	}
	return n, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

// Health reports liveness. It is not authenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the caller's resolved identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, identity)
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ListProducts returns live products, optionally filtered.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ProductFilter{
		Category:   q.Get("category"),
		SupplierID: q.Get("supplierId"),
		ActiveOnly: q.Get("activeOnly") == "true",
	}

	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()
	products, err := h.Products.List(ctx, filter)
	if err != nil {
		h.fail(w, r, core.StoreFailure("product.list", err))
		return
	}

	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetProductStatus toggles a product's active flag.
func (h *Handler) SetProductStatus(w http.ResponseWriter, r *http.Request) {
	id := core.ProductID(chi.URLParam(r, "id"))

	var req StatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Active == nil {
		h.fail(w, r, core.Invalid("active", "is required"))
		return
	}

	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()
	if err := h.Products.SetActive(ctx, id, *req.Active); err != nil {
		h.fail(w, r, core.StoreFailure("product.set_active", err))
		return
	}
	h.writeProduct(ctx, w, r, id)
}

// DeleteProduct soft-deletes a product.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := core.ProductID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()
	if err := h.Products.Delete(ctx, id); err != nil {
		h.fail(w, r, core.StoreFailure("product.delete", err))
		return
	}
	h.logger.Info("product deleted", zap.String("product_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// RestoreProduct undoes a soft delete.
func (h *Handler) RestoreProduct(w http.ResponseWriter, r *http.Request) {
	id := core.ProductID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()
	if err := h.Products.Restore(ctx, id); err != nil {
		h.fail(w, r, core.StoreFailure("product.restore", err))
		return
	}
	h.logger.Info("product restored", zap.String("product_id", string(id)))
	h.writeProduct(ctx, w, r, id)
}

func (h *Handler) writeProduct(ctx context.Context, w http.ResponseWriter, r *http.Request, id core.ProductID) {
	p, err := h.Products.Get(ctx, id)
	if err != nil {
		h.fail(w, r, core.StoreFailure("product.get", err))
		return
	}
	if p == nil {
		h.fail(w, r, &core.ProductError{ProductID: id, Err: core.ErrProductNotFound})
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// =============================================================================
// RESTOCK
// =============================================================================

// Suggestions returns restock suggestions, most urgent first.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold := h.DefaultThreshold
	if raw := q.Get("threshold"); raw != "" {
		t, err := decimal.NewFromString(raw)
		if err != nil {
			h.fail(w, r, core.Invalid("threshold", "must be a number"))
			return
		}
		threshold = t
	}

	suggestions, err := h.Engine.Suggest(r.Context(), restock.SuggestionQuery{
		Threshold:  threshold,
		Category:   q.Get("category"),
		SupplierID: q.Get("supplierId"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTOs(suggestions))
}

// Restock applies one restock line on behalf of the caller.
func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req RestockRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Restock(r.Context(), req.operation(), identity.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RestockResponse{
		Movement: toMovementDTO(res.Movement),
		Product:  toProductDTO(res.Product),
	})
}

// BulkRestock applies many lines under one batch. Line failures are
// reported per line; the request itself succeeds.
func (h *Handler) BulkRestock(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req BulkRestockRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	bulk := restock.BulkRequest{
		SupplierID:       req.SupplierID,
		PurchaseOrderRef: req.PurchaseOrderRef,
		BatchReference:   req.BatchReference,
		Operations:       make([]restock.Operation, 0, len(req.Operations)),
	}
	for _, line := range req.Operations {
		bulk.Operations = append(bulk.Operations, line.operation())
	}

	res, err := h.Engine.BulkRestock(r.Context(), bulk, identity.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(res))
}

// RestockHistory returns restock movements, newest first.
func (h *Handler) RestockHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	movements, err := h.Engine.RestockHistory(r.Context(), core.ProductID(r.URL.Query().Get("productId")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// ListBatches returns batch records, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	batches, err := h.Engine.BatchHistory(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		dtos = append(dtos, toBatchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch returns a batch record with the movements written under it.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	batch, movements, err := h.Engine.Batch(r.Context(), batchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if batch == nil && len(movements) == 0 {
		writeError(w, http.StatusNotFound, "BATCH_NOT_FOUND", "batch not found", nil)
		return
	}
	resp := BatchDetailResponse{BatchID: batchID, Movements: toMovementDTOs(movements)}
	if batch != nil {
		dto := toBatchDTO(*batch)
		resp.Batch = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// Alerts returns the high-priority products from the last reorder scan.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	resp := AlertsResponse{HighPriority: []SuggestionDTO{}}
	if h.Scheduler != nil {
		if h.Scheduler.Enabled {
			next := h.Scheduler.GetNextRunTime()
			resp.NextCheckAt = &next
		}
		if report := h.Scheduler.LastReport(); report != nil {
			checked := report.CheckedAt
			resp.CheckedAt = &checked
			resp.HighPriority = toSuggestionDTOs(report.HighPriority())
			resp.Total = len(report.Suggestions)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// IDENTITY ADMINISTRATION
// =============================================================================

// UpdateIdentity changes role, active flag, or permission overrides. The
// change is visible to the next request of that identity.
func (h *Handler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller, _ := IdentityFromContext(r.Context())

	var req UpdateIdentityRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var change access.IdentityChange
	if req.Role != nil {
		role := core.Role(*req.Role)
		change.Role = &role
	}
	change.Active = req.Active
	if req.Permissions != nil {
		perms, err := access.ParseFeaturePermissions(req.Permissions)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		change.Permissions = &perms
	}

	updated, err := h.Directory.UpdateIdentity(r.Context(), id, change)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("identity updated", zap.String("identity_id", id), zap.String("by", caller.ID))
	writeJSON(w, http.StatusOK, updated)
}

// InvalidateIdentity drops one identity from the cache.
func (h *Handler) InvalidateIdentity(w http.ResponseWriter, r *http.Request) {
	h.Directory.Invalidate(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ClearIdentityCache drops every cached identity.
func (h *Handler) ClearIdentityCache(w http.ResponseWriter, r *http.Request) {
	h.Directory.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}
