/*
types.go - Shared domain types for the stock and access core

PURPOSE:
  Defines the records every other package passes around: products and
  their stock state, ledger movements, restock batches, and the raw
  identity record as it comes out of a store.

KEY TYPES:
  Product:        Catalog entry plus current stock and restock analytics
  Movement:       Immutable ledger entry for one stock delta
  Batch:          Parent record for a bulk restock
  IdentityRecord: Stored principal, without credentials
  Capability:     A (category, permission) pair

LEDGER INVARIANT:
  Product.CurrentStock is never written directly. It changes only through
  LedgerStore.ApplyMovement, which appends the matching Movement in the
  same atomic step. The sum of a product's Movement.BaseQuantity always
  equals its CurrentStock.

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of decimal places kept for base-unit
// quantities written to the ledger.
const QuantityScale = 6

// MaxQuantity bounds the magnitude of a base-unit movement and of the
// stock it produces. At QuantityScale this keeps micro-units inside int64.
var MaxQuantity = decimal.New(1, 12)

// CheckMovement rejects a movement of delta base units whose size, or the
// stock it would leave behind, is out of range.
func CheckMovement(stock, delta decimal.Decimal) error {
	if delta.Abs().GreaterThan(MaxQuantity) {
		return Invalid("quantity", "must not exceed %s base units", MaxQuantity)
	}
	if stock.Add(delta).Abs().GreaterThan(MaxQuantity) {
		return Invalid("quantity", "would take stock past %s base units", MaxQuantity)
	}
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductID identifies a product.
type ProductID string

// ProductStatus is derived from the Active and Deleted flags.
type ProductStatus string

const (
	StatusActive   ProductStatus = "active"
	StatusInactive ProductStatus = "inactive"
	StatusDeleted  ProductStatus = "deleted"
)

// Product is a stock-keeping record.
type Product struct {
	ID           ProductID
	Name         string
	SKU          string
	Category     string
	SupplierID   string
	BaseUnit     string
	CurrentStock decimal.Decimal // signed: negative means oversold
	ReorderPoint decimal.Decimal
	Active       bool
	Deleted      bool
	DeletedAt    *time.Time
	Analytics    RestockAnalytics
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Status reports the product's lifecycle state. Deleted wins over inactive.
func (p Product) Status() ProductStatus {
	switch {
	case p.Deleted:
		return StatusDeleted
	case !p.Active:
		return StatusInactive
	default:
		return StatusActive
	}
}

// Mutable reports whether stock movements may be applied to the product.
func (p Product) Mutable() bool {
	return p.Active && !p.Deleted
}

// RestockAnalytics are rolling statistics over restock movements.
type RestockAnalytics struct {
	AverageQuantity decimal.Decimal
	Count           int64
	FrequencyDays   decimal.Decimal // mean days between restocks
	LastRestockedAt *time.Time
}

// Record folds one restock of qty at time at into the running averages.
func (a RestockAnalytics) Record(qty decimal.Decimal, at time.Time) RestockAnalytics {
	next := a
	next.Count = a.Count + 1
	next.AverageQuantity = a.AverageQuantity.Add(
		qty.Sub(a.AverageQuantity).Div(decimal.NewFromInt(next.Count)))

	if a.LastRestockedAt != nil && a.Count > 0 {
		interval := decimal.NewFromFloat(at.Sub(*a.LastRestockedAt).Hours() / 24)
		next.FrequencyDays = a.FrequencyDays.Add(
			interval.Sub(a.FrequencyDays).Div(decimal.NewFromInt(a.Count)))
	}

	t := at
	next.LastRestockedAt = &t
	return next
}

// ProductFilter narrows product listings. Zero values match everything.
type ProductFilter struct {
	Category       string
	SupplierID     string
	ActiveOnly     bool
	IncludeDeleted bool
}

// Matches applies the filter to p.
func (f ProductFilter) Matches(p Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.SupplierID != "" && p.SupplierID != f.SupplierID {
		return false
	}
	if f.ActiveOnly && !p.Active {
		return false
	}
	if !f.IncludeDeleted && p.Deleted {
		return false
	}
	return true
}

// StatusChange is an explicit lifecycle transition written by the
// soft-delete catalog.
type StatusChange struct {
	Active    bool
	Deleted   bool
	DeletedAt *time.Time
	At        time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// MovementType classifies a ledger entry.
type MovementType string

const (
	MovementSale            MovementType = "sale"
	MovementReturn          MovementType = "return"
	MovementAdjustment      MovementType = "adjustment"
	MovementRestock         MovementType = "restock"
	MovementBlendIngredient MovementType = "blend_ingredient"
)

// Movement is an immutable stock delta.
type Movement struct {
	ID           string // document number, e.g. RST-20260104-0001
	ProductID    ProductID
	Type         MovementType
	Quantity     decimal.Decimal // signed, in Unit
	Unit         string
	BaseQuantity decimal.Decimal // signed, in BaseUnit
	BaseUnit     string
	UnitCost     *decimal.Decimal
	Reference    string
	BatchID      string
	Notes        string
	CreatedBy    string
	CreatedAt    time.Time
}

// MovementFilter narrows ledger reads. Results are newest first.
type MovementFilter struct {
	ProductID ProductID
	Type      MovementType
	BatchID   string
	Limit     int
}

// Batch is the parent record of a bulk restock.
type Batch struct {
	ID               string
	Reference        string
	SupplierID       string
	PurchaseOrderRef string
	CreatedBy        string
	CreatedAt        time.Time
	TotalOperations  int
	SuccessCount     int
	MovementIDs      []string
}

// =============================================================================
// IDENTITIES
// =============================================================================

// Role is the closed set of identity roles.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleManager, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IdentityRecord is a stored principal. Stores never populate credentials
// into it.
type IdentityRecord struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	Active      bool
	Permissions map[string]map[string]any
	UpdatedAt   time.Time
}

// Capability names one permission inside a feature category.
type Capability struct {
	Category   string `json:"category"`
	Permission string `json:"permission"`
}

func (c Capability) String() string {
	return c.Category + "." + c.Permission
}
