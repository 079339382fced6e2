package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// =============================================================================
// DOCUMENTS
// =============================================================================

type productDoc struct {
	ID           string               `bson:"_id"`
	Name         string               `bson:"name"`
	SKU          string               `bson:"sku"`
	Category     string               `bson:"category"`
	SupplierID   string               `bson:"supplierId"`
	BaseUnit     string               `bson:"baseUnit"`
	Stock        primitive.Decimal128 `bson:"stock"`
	ReorderPoint primitive.Decimal128 `bson:"reorderPoint"`
	Active       bool                 `bson:"active"`
	Deleted      bool                 `bson:"deleted"`
	DeletedAt    *time.Time           `bson:"deletedAt,omitempty"`
	Analytics    analyticsDoc         `bson:"restockAnalytics"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

type analyticsDoc struct {
	AverageQuantity primitive.Decimal128 `bson:"averageQuantity"`
	Count           int64                `bson:"count"`
	FrequencyDays   primitive.Decimal128 `bson:"frequencyDays"`
	LastRestockedAt *time.Time           `bson:"lastRestockedAt,omitempty"`
}

func (d productDoc) toProduct() core.Product {
	return core.Product{
		ID:           core.ProductID(d.ID),
		Name:         d.Name,
		SKU:          d.SKU,
		Category:     d.Category,
		SupplierID:   d.SupplierID,
		BaseUnit:     d.BaseUnit,
		CurrentStock: fromDecimal128(d.Stock),
		ReorderPoint: fromDecimal128(d.ReorderPoint),
		Active:       d.Active,
		Deleted:      d.Deleted,
		DeletedAt:    utcPtr(d.DeletedAt),
		Analytics: core.RestockAnalytics{
			AverageQuantity: fromDecimal128(d.Analytics.AverageQuantity),
			Count:           d.Analytics.Count,
			FrequencyDays:   fromDecimal128(d.Analytics.FrequencyDays),
			LastRestockedAt: utcPtr(d.Analytics.LastRestockedAt),
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func analyticsFields(a core.RestockAnalytics) bson.D {
	fields := bson.D{
		{Key: "restockAnalytics.averageQuantity", Value: toDecimal128(a.AverageQuantity)},
		{Key: "restockAnalytics.count", Value: a.Count},
		{Key: "restockAnalytics.frequencyDays", Value: toDecimal128(a.FrequencyDays)},
	}
	if a.LastRestockedAt != nil {
		fields = append(fields, bson.E{Key: "restockAnalytics.lastRestockedAt", Value: a.LastRestockedAt.UTC()})
	}
	return fields
}

type movementDoc struct {
	ID           string                `bson:"_id"`
	ProductID    string                `bson:"productId"`
	Type         string                `bson:"type"`
	Quantity     primitive.Decimal128  `bson:"quantity"`
	Unit         string                `bson:"unit"`
	BaseQuantity primitive.Decimal128  `bson:"baseQuantity"`
	BaseUnit     string                `bson:"baseUnit"`
	UnitCost     *primitive.Decimal128 `bson:"unitCost,omitempty"`
	Reference    string                `bson:"reference,omitempty"`
	BatchID      string                `bson:"batchId,omitempty"`
	Notes        string                `bson:"notes,omitempty"`
	CreatedBy    string                `bson:"createdBy"`
	CreatedAt    time.Time             `bson:"createdAt"`
}

func newMovementDoc(m core.Movement) movementDoc {
	doc := movementDoc{
		ID:           m.ID,
		ProductID:    string(m.ProductID),
		Type:         string(m.Type),
		Quantity:     toDecimal128(m.Quantity),
		Unit:         m.Unit,
		BaseQuantity: toDecimal128(m.BaseQuantity),
		BaseUnit:     m.BaseUnit,
		Reference:    m.Reference,
		BatchID:      m.BatchID,
		Notes:        m.Notes,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt.UTC(),
	}
	if m.UnitCost != nil {
		c := toDecimal128(*m.UnitCost)
		doc.UnitCost = &c
	}
	return doc
}

func (d movementDoc) toMovement() core.Movement {
	m := core.Movement{
		ID:           d.ID,
		ProductID:    core.ProductID(d.ProductID),
		Type:         core.MovementType(d.Type),
		Quantity:     fromDecimal128(d.Quantity),
		Unit:         d.Unit,
		BaseQuantity: fromDecimal128(d.BaseQuantity),
		BaseUnit:     d.BaseUnit,
		Reference:    d.Reference,
		BatchID:      d.BatchID,
		Notes:        d.Notes,
		CreatedBy:    d.CreatedBy,
		CreatedAt:    d.CreatedAt.UTC(),
	}
	if d.UnitCost != nil {
		c := fromDecimal128(*d.UnitCost)
		m.UnitCost = &c
	}
	return m
}

type batchDoc struct {
	ID               string    `bson:"_id"`
	Reference        string    `bson:"reference"`
	SupplierID       string    `bson:"supplierId,omitempty"`
	PurchaseOrderRef string    `bson:"purchaseOrderRef,omitempty"`
	CreatedBy        string    `bson:"createdBy"`
	CreatedAt        time.Time `bson:"createdAt"`
	TotalOperations  int       `bson:"totalOperations"`
	SuccessCount     int       `bson:"successCount"`
	MovementIDs      []string  `bson:"movementIds"`
}

func (d batchDoc) toBatch() core.Batch {
	return core.Batch{
		ID:               d.ID,
		Reference:        d.Reference,
		SupplierID:       d.SupplierID,
		PurchaseOrderRef: d.PurchaseOrderRef,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt.UTC(),
		TotalOperations:  d.TotalOperations,
		SuccessCount:     d.SuccessCount,
		MovementIDs:      d.MovementIDs,
	}
}

type counterDoc struct {
	Name  string `bson:"_id"`
	Value int64  `bson:"value"`
}

// identityDoc is read with the credential fields projected out.
type identityDoc struct {
	ID          interface{}               `bson:"_id"`
	Email       string                    `bson:"email"`
	Name        string                    `bson:"name"`
	Role        string                    `bson:"role"`
	Active      bool                      `bson:"active"`
	Permissions map[string]map[string]any `bson:"permissions,omitempty"`
	UpdatedAt   time.Time                 `bson:"updatedAt"`
}

func (d identityDoc) toRecord() core.IdentityRecord {
	return core.IdentityRecord{
		ID:          idString(d.ID),
		Email:       d.Email,
		Name:        d.Name,
		Role:        core.Role(d.Role),
		Active:      d.Active,
		Permissions: normalizePermissions(d.Permissions),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// idString accepts identities keyed by ObjectID or by string.
func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// normalizePermissions maps BSON numeric kinds onto float64 so the
// permission parser sees the same shapes as from JSON.
func normalizePermissions(src map[string]map[string]any) map[string]map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(src))
	for cat, caps := range src {
		inner := make(map[string]any, len(caps))
		for k, v := range caps {
			switch n := v.(type) {
			case int32:
				inner[k] = float64(n)
			case int64:
				inner[k] = float64(n)
			case primitive.Decimal128:
				f, _ := fromDecimal128(n).Float64()
				inner[k] = f
			default:
				inner[k] = v
			}
		}
		out[cat] = inner
	}
	return out
}
