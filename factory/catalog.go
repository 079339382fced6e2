/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog definitions (products with opening stock, and
  identities with their permission overrides) into validated domain
  objects, and seeds them into a store. Used by the `seed` CLI command
  and by the demo scenario endpoint.

JSON SCHEMA:
  {
    "products": [
      {
        "id": "amoxicillin-250",
        "name": "Amoxicillin 250mg",
        "sku": "AMX-250",
        "category": "antibiotics",
        "supplier_id": "vetpharm",
        "base_unit": "pc",
        "reorder_point": "40",
        "opening_stock": "12"
      }
    ],
    "identities": [
      {
        "id": "u-staff",
        "email": "nurse@clinic.test",
        "role": "staff",
        "permissions": {"inventory": {"canBulkRestock": false}}
      }
    ]
  }

KEY FEATURES:
  - Unit names are normalized and must be known
  - Permission trees are validated exactly as stored identities are
  - Active defaults to true for products and identities
  - Opening stock is booked as an adjustment movement, never written directly

SEE ALSO:
  - seed.go: Applying a catalog to a store
  - presets.go: Built-in demo catalogs
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/units"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	Products   []ProductJSON  `json:"products"`
	Identities []IdentityJSON `json:"identities,omitempty"`
}

// ProductJSON represents one product.
type ProductJSON struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	SKU          string           `json:"sku,omitempty"`
	Category     string           `json:"category,omitempty"`
	SupplierID   string           `json:"supplier_id,omitempty"`
	BaseUnit     string           `json:"base_unit"`
	ReorderPoint decimal.Decimal  `json:"reorder_point"`
	OpeningStock *decimal.Decimal `json:"opening_stock,omitempty"` // may be negative
	Active       *bool            `json:"active,omitempty"`
}

// IdentityJSON represents one principal.
type IdentityJSON struct {
	ID          string                    `json:"id"`
	Email       string                    `json:"email,omitempty"`
	Name        string                    `json:"name,omitempty"`
	Role        string                    `json:"role"`
	Active      *bool                     `json:"active,omitempty"`
	Permissions map[string]map[string]any `json:"permissions,omitempty"`
}

// =============================================================================
// DOMAIN RESULT
// =============================================================================

// SeedProduct is a validated product plus the stock it opens with.
type SeedProduct struct {
	Product      core.Product
	OpeningStock decimal.Decimal
}

// Catalog is a validated catalog ready to be seeded.
type Catalog struct {
	Products   []SeedProduct
	Identities []*access.Identity
}

// CatalogFactory converts JSON catalogs.
type CatalogFactory struct {
	Now func() time.Time
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{Now: time.Now}
}

// ParseCatalog parses and validates a JSON catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON validates an already decoded catalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	now := f.Now().UTC()
	catalog := &Catalog{}

	seenProducts := make(map[string]bool, len(cj.Products))
	for i, pj := range cj.Products {
		sp, err := parseProduct(pj, now)
		if err != nil {
			return nil, fmt.Errorf("products[%d]: %w", i, err)
		}
		if seenProducts[pj.ID] {
			return nil, fmt.Errorf("products[%d]: %w", i, core.Invalid("id", "duplicate product %q", pj.ID))
		}
		seenProducts[pj.ID] = true
		catalog.Products = append(catalog.Products, sp)
	}

	seenIdentities := make(map[string]bool, len(cj.Identities))
	for i, ij := range cj.Identities {
		identity, err := parseIdentity(ij)
		if err != nil {
			return nil, fmt.Errorf("identities[%d]: %w", i, err)
		}
		if seenIdentities[ij.ID] {
			return nil, fmt.Errorf("identities[%d]: %w", i, core.Invalid("id", "duplicate identity %q", ij.ID))
		}
		seenIdentities[ij.ID] = true
		catalog.Identities = append(catalog.Identities, identity)
	}

	return catalog, nil
}

func parseProduct(pj ProductJSON, now time.Time) (SeedProduct, error) {
	if pj.ID == "" {
		return SeedProduct{}, core.Invalid("id", "is required")
	}
	if pj.Name == "" {
		return SeedProduct{}, core.Invalid("name", "is required")
	}
	def, ok := units.Lookup(pj.BaseUnit)
	if !ok {
		return SeedProduct{}, core.Invalid("base_unit", "unknown unit %q", pj.BaseUnit)
	}
	if pj.ReorderPoint.IsNegative() {
		return SeedProduct{}, core.Invalid("reorder_point", "must not be negative")
	}

	active := true
	if pj.Active != nil {
		active = *pj.Active
	}
	opening := decimal.Zero
	if pj.OpeningStock != nil {
		opening = pj.OpeningStock.Round(core.QuantityScale)
	}

	return SeedProduct{
		Product: core.Product{
			ID:           core.ProductID(pj.ID),
			Name:         pj.Name,
			SKU:          pj.SKU,
			Category:     pj.Category,
			SupplierID:   pj.SupplierID,
			BaseUnit:     def.Name,
			ReorderPoint: pj.ReorderPoint,
			Active:       active,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		OpeningStock: opening,
	}, nil
}

func parseIdentity(ij IdentityJSON) (*access.Identity, error) {
	active := true
	if ij.Active != nil {
		active = *ij.Active
	}
	return access.IdentityFromRecord(core.IdentityRecord{
		ID:          ij.ID,
		Email:       ij.Email,
		Name:        ij.Name,
		Role:        core.Role(ij.Role),
		Active:      active,
		Permissions: ij.Permissions,
	})
}
