package access

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/warp/clinic-engine/core"
)

// roleModel is an RBAC model over (role, category, permission). Roles
// inherit through g; "*" in a policy matches any category or permission.
const roleModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && keyMatch(r.act, p.act)
`

// DefaultRolePolicies grants boolean capabilities per role. Numeric
// capabilities are never granted by role.
var DefaultRolePolicies = [][]string{
	{"staff", CategoryInventory, "canView"},
	{"staff", CategoryInventory, "canViewHistory"},
	{"staff", CategoryTransactions, "canView"},
	{"staff", CategoryTransactions, "canCreate"},
	{"staff", CategoryDiscounts, "canView"},
	{"staff", CategoryDiscounts, "canApply"},

	{"manager", CategoryInventory, "canCreateProducts"},
	{"manager", CategoryInventory, "canEditProducts"},
	{"manager", CategoryInventory, "canAdjustStock"},
	{"manager", CategoryInventory, "canCreateRestockOrders"},
	{"manager", CategoryInventory, "canViewCosts"},
	{"manager", CategoryTransactions, "canVoid"},
	{"manager", CategoryTransactions, "canRefund"},
	{"manager", CategoryDiscounts, "canCreate"},
	{"manager", CategoryDiscounts, "canEdit"},
	{"manager", CategoryReports, "canViewSalesReports"},
	{"manager", CategoryReports, "canViewInventoryReports"},

	{"admin", CategoryInventory, "*"},
	{"admin", CategoryTransactions, "*"},
	{"admin", CategoryDiscounts, "*"},
	{"admin", CategoryReports, "*"},
	{"admin", CategoryUserManagement, "canViewUsers"},
	{"admin", CategoryUserManagement, "canCreateUsers"},
	{"admin", CategoryUserManagement, "canEditUsers"},

	{"super_admin", "*", "*"},
}

// DefaultRoleHierarchy lists (role, inherits-from) pairs.
var DefaultRoleHierarchy = [][]string{
	{"manager", "staff"},
	{"admin", "manager"},
	{"super_admin", "admin"},
}

// RoleDefaults answers whether a role grants a boolean capability when the
// identity carries no explicit override.
type RoleDefaults struct {
	enforcer *casbin.SyncedEnforcer
}

// NewRoleDefaults builds the default role table.
func NewRoleDefaults() (*RoleDefaults, error) {
	return NewRoleDefaultsFrom(DefaultRolePolicies, DefaultRoleHierarchy)
}

// NewRoleDefaultsFrom builds a role table from explicit policies.
func NewRoleDefaultsFrom(policies, hierarchy [][]string) (*RoleDefaults, error) {
	m, err := model.NewModelFromString(roleModel)
	if err != nil {
		return nil, fmt.Errorf("role model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("role enforcer: %w", err)
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add role policy %v: %w", p, err)
		}
	}
	for _, g := range hierarchy {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, fmt.Errorf("add role inheritance %v: %w", g, err)
		}
	}
	return &RoleDefaults{enforcer: e}, nil
}

// Allows reports whether role grants (category, permission). Errors deny.
func (rd *RoleDefaults) Allows(role core.Role, category, permission string) bool {
	if rd == nil || !role.Valid() {
		return false
	}
	ok, err := rd.enforcer.Enforce(string(role), category, permission)
	return err == nil && ok
}
