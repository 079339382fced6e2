/*
permissions.go - Typed feature-permission tree

PURPOSE:
  An identity's per-feature grants, as a closed structure: one struct per
  feature category, one field per named capability. Boolean capabilities
  are tri-state (*bool: unset, true, false); numeric capabilities are
  optional limits (*float64).

LOAD-TIME VALIDATION:
  Stores hand back permissions as nested maps. ParseFeaturePermissions
  converts them once and rejects unknown categories, unknown capability
  names, and values of the wrong kind. Nothing downstream does open-ended
  key lookups.

SCHEMA:
  The category and capability names are the json tags below. The schema
  index is derived from them at init so lookups and parsing never drift
  from the struct definitions.

SEE ALSO:
  - evaluator.go: Layers these overrides on top of role defaults
  - roles.go: Role default table
*/
package access

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/warp/clinic-engine/core"
)

// =============================================================================
// CATEGORIES
// =============================================================================

type InventoryPermissions struct {
	CanView                *bool    `json:"canView,omitempty"`
	CanCreateProducts      *bool    `json:"canCreateProducts,omitempty"`
	CanEditProducts        *bool    `json:"canEditProducts,omitempty"`
	CanDeleteProducts      *bool    `json:"canDeleteProducts,omitempty"`
	CanAdjustStock         *bool    `json:"canAdjustStock,omitempty"`
	CanCreateRestockOrders *bool    `json:"canCreateRestockOrders,omitempty"`
	CanBulkRestock         *bool    `json:"canBulkRestock,omitempty"`
	CanViewHistory         *bool    `json:"canViewHistory,omitempty"`
	CanViewCosts           *bool    `json:"canViewCosts,omitempty"`
	MaxAdjustmentQuantity  *float64 `json:"maxAdjustmentQuantity,omitempty"`
}

type TransactionPermissions struct {
	CanView         *bool    `json:"canView,omitempty"`
	CanCreate       *bool    `json:"canCreate,omitempty"`
	CanVoid         *bool    `json:"canVoid,omitempty"`
	CanRefund       *bool    `json:"canRefund,omitempty"`
	MaxRefundAmount *float64 `json:"maxRefundAmount,omitempty"`
}

type DiscountPermissions struct {
	CanView            *bool    `json:"canView,omitempty"`
	CanCreate          *bool    `json:"canCreate,omitempty"`
	CanEdit            *bool    `json:"canEdit,omitempty"`
	CanDelete          *bool    `json:"canDelete,omitempty"`
	CanApply           *bool    `json:"canApply,omitempty"`
	MaxDiscountPercent *float64 `json:"maxDiscountPercent,omitempty"`
	MaxDiscountAmount  *float64 `json:"maxDiscountAmount,omitempty"`
}

type ReportPermissions struct {
	CanViewSalesReports     *bool `json:"canViewSalesReports,omitempty"`
	CanViewInventoryReports *bool `json:"canViewInventoryReports,omitempty"`
	CanViewFinancialReports *bool `json:"canViewFinancialReports,omitempty"`
	CanExport               *bool `json:"canExport,omitempty"`
}

type UserManagementPermissions struct {
	CanViewUsers         *bool `json:"canViewUsers,omitempty"`
	CanCreateUsers       *bool `json:"canCreateUsers,omitempty"`
	CanEditUsers         *bool `json:"canEditUsers,omitempty"`
	CanDeleteUsers       *bool `json:"canDeleteUsers,omitempty"`
	CanManageRoles       *bool `json:"canManageRoles,omitempty"`
	CanManagePermissions *bool `json:"canManagePermissions,omitempty"`
}

// FeaturePermissions is the full per-identity override tree.
type FeaturePermissions struct {
	Inventory      InventoryPermissions      `json:"inventory"`
	Transactions   TransactionPermissions    `json:"transactions"`
	Discounts      DiscountPermissions       `json:"discounts"`
	Reports        ReportPermissions         `json:"reports"`
	UserManagement UserManagementPermissions `json:"userManagement"`
}

// Category names.
const (
	CategoryInventory      = "inventory"
	CategoryTransactions   = "transactions"
	CategoryDiscounts      = "discounts"
	CategoryReports        = "reports"
	CategoryUserManagement = "userManagement"
)

// Cap builds a Capability.
func Cap(category, permission string) core.Capability {
	return core.Capability{Category: category, Permission: permission}
}

// =============================================================================
// SCHEMA INDEX
// =============================================================================

type capabilityKind int

const (
	kindFlag capabilityKind = iota
	kindLimit
)

type schemaField struct {
	kind  capabilityKind
	index []int
}

var (
	flagType  = reflect.TypeOf((*bool)(nil))
	limitType = reflect.TypeOf((*float64)(nil))
	schema    = buildSchema()
)

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name
}

func buildSchema() map[string]map[string]schemaField {
	out := make(map[string]map[string]schemaField)
	root := reflect.TypeOf(FeaturePermissions{})
	for i := 0; i < root.NumField(); i++ {
		cat := root.Field(i)
		fields := make(map[string]schemaField)
		for j := 0; j < cat.Type.NumField(); j++ {
			f := cat.Type.Field(j)
			var kind capabilityKind
			switch f.Type {
			case flagType:
				kind = kindFlag
			case limitType:
				kind = kindLimit
			default:
				panic(fmt.Sprintf("access: unsupported capability type %s for %s", f.Type, f.Name))
			}
			fields[jsonName(f)] = schemaField{kind: kind, index: []int{i, j}}
		}
		out[jsonName(cat)] = fields
	}
	return out
}

func lookupField(category, name string) (schemaField, bool) {
	fields, ok := schema[category]
	if !ok {
		return schemaField{}, false
	}
	f, ok := fields[name]
	return f, ok
}

// KnownCapability reports whether (category, name) exists in the schema.
func KnownCapability(category, name string) bool {
	_, ok := lookupField(category, name)
	return ok
}

// IsLimit reports whether (category, name) is a numeric capability.
func IsLimit(category, name string) bool {
	f, ok := lookupField(category, name)
	return ok && f.kind == kindLimit
}

// Capabilities lists every boolean capability, sorted.
func Capabilities() []core.Capability {
	var out []core.Capability
	for cat, fields := range schema {
		for name, f := range fields {
			if f.kind == kindFlag {
				out = append(out, Cap(cat, name))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Flag returns the explicit value of a boolean capability.
// set is false when the identity carries no override.
func (fp FeaturePermissions) Flag(category, name string) (value, set bool) {
	f, ok := lookupField(category, name)
	if !ok || f.kind != kindFlag {
		return false, false
	}
	v := reflect.ValueOf(fp).FieldByIndex(f.index)
	if v.IsNil() {
		return false, false
	}
	return v.Elem().Bool(), true
}

// Limit returns the explicit value of a numeric capability.
func (fp FeaturePermissions) Limit(category, name string) (value float64, set bool) {
	f, ok := lookupField(category, name)
	if !ok || f.kind != kindLimit {
		return 0, false
	}
	v := reflect.ValueOf(fp).FieldByIndex(f.index)
	if v.IsNil() {
		return 0, false
	}
	return v.Elem().Float(), true
}

// ToMap renders the explicitly set capabilities as nested maps for storage.
func (fp FeaturePermissions) ToMap() map[string]map[string]any {
	out := make(map[string]map[string]any)
	root := reflect.ValueOf(fp)
	for cat, fields := range schema {
		for name, f := range fields {
			v := root.FieldByIndex(f.index)
			if v.IsNil() {
				continue
			}
			if out[cat] == nil {
				out[cat] = make(map[string]any)
			}
			if f.kind == kindFlag {
				out[cat][name] = v.Elem().Bool()
			} else {
				out[cat][name] = v.Elem().Float()
			}
		}
	}
	return out
}

// =============================================================================
// PARSING
// =============================================================================

// ParseFeaturePermissions validates raw store permissions.
func ParseFeaturePermissions(raw map[string]map[string]any) (FeaturePermissions, error) {
	var fp FeaturePermissions
	root := reflect.ValueOf(&fp).Elem()

	for cat, caps := range raw {
		if _, ok := schema[cat]; !ok {
			return FeaturePermissions{}, core.Invalid("permissions", "unknown category %q", cat)
		}
		for name, value := range caps {
			f, ok := lookupField(cat, name)
			if !ok {
				return FeaturePermissions{}, core.Invalid("permissions", "unknown capability %s.%s", cat, name)
			}
			target := root.FieldByIndex(f.index)
			switch f.kind {
			case kindFlag:
				b, ok := value.(bool)
				if !ok {
					return FeaturePermissions{}, core.Invalid("permissions", "%s.%s must be a boolean, got %T", cat, name, value)
				}
				target.Set(reflect.ValueOf(&b))
			case kindLimit:
				n, ok := toFloat(value)
				if !ok {
					return FeaturePermissions{}, core.Invalid("permissions", "%s.%s must be a number, got %T", cat, name, value)
				}
				target.Set(reflect.ValueOf(&n))
			}
		}
	}
	return fp, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
