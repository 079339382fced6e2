/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Quantities are decimal.Decimal and serialize as JSON strings, so no
  value ever passes through a float. Requests accept numbers or strings.

VALIDATION:
  Validation is done in handlers and the restock engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/restock"
)

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	SKU          string              `json:"sku,omitempty"`
	Category     string              `json:"category,omitempty"`
	SupplierID   string              `json:"supplierId,omitempty"`
	BaseUnit     string              `json:"baseUnit"`
	CurrentStock decimal.Decimal     `json:"currentStock"`
	ReorderPoint decimal.Decimal     `json:"reorderPoint"`
	Status       string              `json:"status"`
	Analytics    RestockAnalyticsDTO `json:"restockAnalytics"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// RestockAnalyticsDTO mirrors core.RestockAnalytics.
type RestockAnalyticsDTO struct {
	AverageQuantity decimal.Decimal `json:"averageRestockQuantity"`
	Count           int64           `json:"restockCount"`
	FrequencyDays   decimal.Decimal `json:"restockFrequencyDays"`
	LastRestockedAt *time.Time      `json:"lastRestockedAt,omitempty"`
}

// StatusRequest toggles the active flag.
type StatusRequest struct {
	Active *bool `json:"active"`
}

// =============================================================================
// RESTOCK
// =============================================================================

// RestockRequest is the body of POST /api/restock and one bulk line.
type RestockRequest struct {
	ProductID string           `json:"productId"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Unit      string           `json:"unit,omitempty"`
	Reference string           `json:"reference,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	UnitCost  *decimal.Decimal `json:"unitCost,omitempty"`
}

// BulkRestockRequest is the body of POST /api/restock/bulk.
type BulkRestockRequest struct {
	Operations       []RestockRequest `json:"operations"`
	SupplierID       string           `json:"supplierId,omitempty"`
	PurchaseOrderRef string           `json:"purchaseOrderRef,omitempty"`
	BatchReference   string           `json:"batchReference,omitempty"`
}

// MovementDTO represents a ledger entry.
type MovementDTO struct {
	ID           string           `json:"id"`
	ProductID    string           `json:"productId"`
	Type         string           `json:"type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	BaseQuantity decimal.Decimal  `json:"baseQuantity"`
	BaseUnit     string           `json:"baseUnit"`
	UnitCost     *decimal.Decimal `json:"unitCost,omitempty"`
	Reference    string           `json:"reference,omitempty"`
	BatchID      string           `json:"batchId,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	CreatedBy    string           `json:"createdBy"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// RestockResponse is returned by a single restock.
type RestockResponse struct {
	Movement MovementDTO `json:"movement"`
	Product  ProductDTO  `json:"product"`
}

// LineResultDTO is one line of a bulk restock outcome.
type LineResultDTO struct {
	Index     int          `json:"index"`
	ProductID string       `json:"productId"`
	Success   bool         `json:"success"`
	Movement  *MovementDTO `json:"movement,omitempty"`
	Code      string       `json:"code,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BatchResultDTO is the bulk restock outcome.
type BatchResultDTO struct {
	BatchID         string          `json:"batchId"`
	BatchReference  string          `json:"batchReference"`
	TotalOperations int             `json:"totalOperations"`
	SuccessCount    int             `json:"successCount"`
	Recorded        bool            `json:"recorded"`
	Results         []LineResultDTO `json:"results"`
}

// BatchDTO represents a stored batch parent record.
type BatchDTO struct {
	ID               string    `json:"id"`
	Reference        string    `json:"reference"`
	SupplierID       string    `json:"supplierId,omitempty"`
	PurchaseOrderRef string    `json:"purchaseOrderRef,omitempty"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	TotalOperations  int       `json:"totalOperations"`
	SuccessCount     int       `json:"successCount"`
	MovementIDs      []string  `json:"movementIds"`
}

// BatchDetailResponse is a batch with its movements.
type BatchDetailResponse struct {
	BatchID   string        `json:"batchId"`
	Batch     *BatchDTO     `json:"batch,omitempty"`
	Movements []MovementDTO `json:"movements"`
}

// SuggestionDTO is one restock suggestion.
type SuggestionDTO struct {
	ProductID         string          `json:"productId"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku,omitempty"`
	SupplierID        string          `json:"supplierId,omitempty"`
	Unit              string          `json:"unit"`
	CurrentStock      decimal.Decimal `json:"currentStock"`
	ReorderPoint      decimal.Decimal `json:"reorderPoint"`
	SuggestedQuantity decimal.Decimal `json:"suggestedQuantity"`
	Priority          string          `json:"priority"`
	AverageRestock    decimal.Decimal `json:"averageRestockQuantity"`
}

// AlertsResponse is the last reorder scan.
type AlertsResponse struct {
	CheckedAt    *time.Time      `json:"checkedAt,omitempty"`
	NextCheckAt  *time.Time      `json:"nextCheckAt,omitempty"`
	HighPriority []SuggestionDTO `json:"highPriority"`
	Total        int             `json:"totalSuggestions"`
}

// =============================================================================
// IDENTITIES
// =============================================================================

// UpdateIdentityRequest is a partial identity update.
type UpdateIdentityRequest struct {
	Role        *string                   `json:"role,omitempty"`
	Active      *bool                     `json:"active,omitempty"`
	Permissions map[string]map[string]any `json:"permissions,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// LoadScenarioRequest selects a built-in scenario or carries a catalog.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId,omitempty"`
	Catalog    string `json:"catalog,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProductDTO(p core.Product) ProductDTO {
	return ProductDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		SKU:          p.SKU,
		Category:     p.Category,
		SupplierID:   p.SupplierID,
		BaseUnit:     p.BaseUnit,
		CurrentStock: p.CurrentStock,
		ReorderPoint: p.ReorderPoint,
		Status:       string(p.Status()),
		Analytics: RestockAnalyticsDTO{
			AverageQuantity: p.Analytics.AverageQuantity,
			Count:           p.Analytics.Count,
			FrequencyDays:   p.Analytics.FrequencyDays,
			LastRestockedAt: p.Analytics.LastRestockedAt,
		},
		UpdatedAt: p.UpdatedAt,
	}
}

func toMovementDTO(m core.Movement) MovementDTO {
	return MovementDTO{
		ID:           m.ID,
		ProductID:    string(m.ProductID),
		Type:         string(m.Type),
		Quantity:     m.Quantity,
		Unit:         m.Unit,
		BaseQuantity: m.BaseQuantity,
		BaseUnit:     m.BaseUnit,
		UnitCost:     m.UnitCost,
		Reference:    m.Reference,
		BatchID:      m.BatchID,
		Notes:        m.Notes,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt,
	}
}

func toMovementDTOs(ms []core.Movement) []MovementDTO {
	out := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementDTO(m))
	}
	return out
}

func toBatchDTO(b core.Batch) BatchDTO {
	ids := b.MovementIDs
	if ids == nil {
		ids = []string{}
	}
	return BatchDTO{
		ID:               b.ID,
		Reference:        b.Reference,
		SupplierID:       b.SupplierID,
		PurchaseOrderRef: b.PurchaseOrderRef,
		CreatedBy:        b.CreatedBy,
		CreatedAt:        b.CreatedAt,
		TotalOperations:  b.TotalOperations,
		SuccessCount:     b.SuccessCount,
		MovementIDs:      ids,
	}
}

func toSuggestionDTOs(s []restock.Suggestion) []SuggestionDTO {
	out := make([]SuggestionDTO, 0, len(s))
	for _, sg := range s {
		out = append(out, SuggestionDTO{
			ProductID:         string(sg.ProductID),
			Name:              sg.Name,
			SKU:               sg.SKU,
			SupplierID:        sg.SupplierID,
			Unit:              sg.Unit,
			CurrentStock:      sg.CurrentStock,
			ReorderPoint:      sg.ReorderPoint,
			SuggestedQuantity: sg.SuggestedQuantity,
			Priority:          string(sg.Priority),
			AverageRestock:    sg.AverageRestock,
		})
	}
	return out
}

func toBatchResultDTO(r *restock.BatchResult) BatchResultDTO {
	out := BatchResultDTO{
		BatchID:         r.BatchID,
		BatchReference:  r.BatchReference,
		TotalOperations: r.TotalOperations,
		SuccessCount:    r.SuccessCount,
		Recorded:        r.Recorded,
		Results:         make([]LineResultDTO, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		line := LineResultDTO{
			Index:     l.Index,
			ProductID: string(l.ProductID),
			Success:   l.Success,
			Code:      l.Code,
			Error:     l.Error,
		}
		if l.Movement != nil {
			m := toMovementDTO(*l.Movement)
			line.Movement = &m
		}
		out.Results = append(out.Results, line)
	}
	return out
}

func (req RestockRequest) operation() restock.Operation {
	return restock.Operation{
		ProductID: core.ProductID(req.ProductID),
		Quantity:  req.Quantity,
		Unit:      req.Unit,
		Reference: req.Reference,
		Notes:     req.Notes,
		UnitCost:  req.UnitCost,
	}
}
