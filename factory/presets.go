package factory

import "sort"

// Scenario describes a built-in demo catalog.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var presets = map[string]struct {
	info Scenario
	json string
}{
	"small-clinic": {
		info: Scenario{
			ID:          "small-clinic",
			Name:        "Small Clinic",
			Description: "A dozen products across units, one per role, one oversold item",
		},
		json: smallClinicJSON,
	},
	"reorder-pressure": {
		info: Scenario{
			ID:          "reorder-pressure",
			Name:        "Reorder Pressure",
			Description: "Most products at or below reorder point, for suggestion ordering",
		},
		json: reorderPressureJSON,
	},
	"restricted-staff": {
		info: Scenario{
			ID:          "restricted-staff",
			Name:        "Restricted Staff",
			Description: "Explicit overrides, an inactive account, and a bulk-restock grant",
		},
		json: restrictedStaffJSON,
	},
}

// Scenarios lists the built-in catalogs ordered by id.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(presets))
	for _, p := range presets {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScenarioJSON returns the catalog JSON for a built-in scenario.
func ScenarioJSON(id string) (string, bool) {
	p, ok := presets[id]
	return p.json, ok
}

const smallClinicJSON = `{
  "products": [
    {"id": "amoxicillin-250", "name": "Amoxicillin 250mg", "sku": "AMX-250", "category": "antibiotics", "supplier_id": "vetpharm", "base_unit": "pc", "reorder_point": "40", "opening_stock": "12"},
    {"id": "meloxicam-oral", "name": "Meloxicam Oral Suspension", "sku": "MLX-OS", "category": "analgesics", "supplier_id": "vetpharm", "base_unit": "ml", "reorder_point": "500", "opening_stock": "1200"},
    {"id": "saline-bag", "name": "Saline 0.9%", "sku": "NACL-09", "category": "fluids", "supplier_id": "medsupply", "base_unit": "ml", "reorder_point": "5000", "opening_stock": "4000"},
    {"id": "gauze-swab", "name": "Gauze Swab 10cm", "sku": "GZ-10", "category": "consumables", "supplier_id": "medsupply", "base_unit": "pc", "reorder_point": "200", "opening_stock": "-2"},
    {"id": "suture-vicryl", "name": "Vicryl Suture 3-0", "sku": "VIC-30", "category": "consumables", "supplier_id": "medsupply", "base_unit": "pc", "reorder_point": "24", "opening_stock": "30"},
    {"id": "kibble-renal", "name": "Renal Diet Kibble", "sku": "RD-KB", "category": "diets", "supplier_id": "petfoods", "base_unit": "g", "reorder_point": "10000", "opening_stock": "25000"},
    {"id": "chlorhexidine", "name": "Chlorhexidine Scrub", "sku": "CHX-4", "category": "antiseptics", "supplier_id": "medsupply", "base_unit": "ml", "reorder_point": "1000", "opening_stock": "250"},
    {"id": "bandage-roll", "name": "Cohesive Bandage", "sku": "BND-5", "category": "consumables", "supplier_id": "medsupply", "base_unit": "m", "reorder_point": "50", "opening_stock": "45"},
    {"id": "rabies-vaccine", "name": "Rabies Vaccine", "sku": "RAB-1", "category": "vaccines", "supplier_id": "vetpharm", "base_unit": "pc", "reorder_point": "10", "opening_stock": "0"},
    {"id": "legacy-ointment", "name": "Legacy Ointment", "sku": "OLD-1", "category": "topicals", "supplier_id": "vetpharm", "base_unit": "g", "reorder_point": "100", "active": false}
  ],
  "identities": [
    {"id": "u-staff", "email": "nurse@clinic.test", "name": "Nora Nurse", "role": "staff"},
    {"id": "u-manager", "email": "manager@clinic.test", "name": "Max Manager", "role": "manager", "permissions": {"inventory": {"canBulkRestock": true}}},
    {"id": "u-admin", "email": "admin@clinic.test", "name": "Ada Admin", "role": "admin"},
    {"id": "u-owner", "email": "owner@clinic.test", "name": "Olive Owner", "role": "super_admin"}
  ]
}`

const reorderPressureJSON = `{
  "products": [
    {"id": "rp-cefalexin", "name": "Cefalexin 500mg", "supplier_id": "vetpharm", "category": "antibiotics", "base_unit": "pc", "reorder_point": "60", "opening_stock": "70"},
    {"id": "rp-ketamine", "name": "Ketamine 100mg/ml", "supplier_id": "vetpharm", "category": "anaesthetics", "base_unit": "ml", "reorder_point": "50", "opening_stock": "0"},
    {"id": "rp-lactated", "name": "Lactated Ringer's", "supplier_id": "medsupply", "category": "fluids", "base_unit": "ml", "reorder_point": "10000", "opening_stock": "6000"},
    {"id": "rp-syringe", "name": "Syringe 5ml", "supplier_id": "medsupply", "category": "consumables", "base_unit": "pc", "reorder_point": "300", "opening_stock": "-15"},
    {"id": "rp-catheter", "name": "IV Catheter 22G", "supplier_id": "medsupply", "category": "consumables", "base_unit": "pc", "reorder_point": "50", "opening_stock": "50"},
    {"id": "rp-probiotic", "name": "Probiotic Paste", "supplier_id": "petfoods", "category": "diets", "base_unit": "g", "reorder_point": "500", "opening_stock": "120.5"}
  ],
  "identities": [
    {"id": "u-buyer", "email": "buyer@clinic.test", "name": "Bea Buyer", "role": "manager", "permissions": {"inventory": {"canBulkRestock": true}}}
  ]
}`

const restrictedStaffJSON = `{
  "products": [
    {"id": "rs-insulin", "name": "Insulin 40IU/ml", "supplier_id": "vetpharm", "category": "endocrine", "base_unit": "ml", "reorder_point": "20", "opening_stock": "8"}
  ],
  "identities": [
    {"id": "u-locked", "email": "former@clinic.test", "name": "Fran Former", "role": "manager", "active": false},
    {"id": "u-no-history", "email": "temp@clinic.test", "name": "Tim Temp", "role": "staff", "permissions": {"inventory": {"canViewHistory": false}}},
    {"id": "u-restocker", "email": "senior@clinic.test", "name": "Sam Senior", "role": "staff", "permissions": {"inventory": {"canCreateRestockOrders": true, "canBulkRestock": true, "maxAdjustmentQuantity": 50}}},
    {"id": "u-no-bulk", "email": "lead@clinic.test", "name": "Lee Lead", "role": "admin", "permissions": {"inventory": {"canBulkRestock": false}, "userManagement": {"canManagePermissions": true}}}
  ]
}`
