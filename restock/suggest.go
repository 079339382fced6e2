package restock

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// Priority of a restock suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, most urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// SuggestionQuery selects products to evaluate.
type SuggestionQuery struct {
	Threshold  decimal.Decimal // multiplier on the reorder point, must be > 0
	Category   string
	SupplierID string
}

// Suggestion is a computed, non-persisted restock recommendation.
type Suggestion struct {
	ProductID         core.ProductID
	Name              string
	SKU               string
	SupplierID        string
	Unit              string
	CurrentStock      decimal.Decimal
	ReorderPoint      decimal.Decimal
	SuggestedQuantity decimal.Decimal
	Priority          Priority
	AverageRestock    decimal.Decimal
}

// Classify returns the priority for a product at stock with reorderPoint.
func Classify(stock, reorderPoint decimal.Decimal) Priority {
	switch {
	case !stock.IsPositive():
		return PriorityHigh
	case stock.LessThanOrEqual(reorderPoint):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Deficit returns reorderPoint*threshold - stock.
func Deficit(stock, reorderPoint, threshold decimal.Decimal) decimal.Decimal {
	return reorderPoint.Mul(threshold).Sub(stock)
}

// SortSuggestions orders by priority rank, keeping input order within a rank.
func SortSuggestions(s []Suggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Priority.Rank() < s[j].Priority.Rank()
	})
}

// Suggest computes restock suggestions for active products.
func (e *Engine) Suggest(ctx context.Context, q SuggestionQuery) ([]Suggestion, error) {
	if !q.Threshold.IsPositive() {
		return nil, core.Invalid("threshold", "must be greater than zero")
	}

	sctx, cancel := context.WithTimeout(ctx, e.StoreTimeout)
	defer cancel()
	products, err := e.catalog.List(sctx, core.ProductFilter{
		Category:   q.Category,
		SupplierID: q.SupplierID,
		ActiveOnly: true,
	})
	if err != nil {
		e.logger.Error("suggestion scan failed", zap.String("op", "product.list"), zap.Error(err))
		return nil, core.StoreFailure("product.list", err)
	}

	suggestions := make([]Suggestion, 0)
	for _, p := range products {
		deficit := Deficit(p.CurrentStock, p.ReorderPoint, q.Threshold)
		if !deficit.IsPositive() {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			ProductID:         p.ID,
			Name:              p.Name,
			SKU:               p.SKU,
			SupplierID:        p.SupplierID,
			Unit:              p.BaseUnit,
			CurrentStock:      p.CurrentStock,
			ReorderPoint:      p.ReorderPoint,
			SuggestedQuantity: deficit,
			Priority:          Classify(p.CurrentStock, p.ReorderPoint),
			AverageRestock:    p.Analytics.AverageQuantity,
		})
	}

	SortSuggestions(suggestions)
	return suggestions, nil
}
