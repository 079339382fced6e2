/*
evaluator.go - Permission decisions

PURPOSE:
  Decides allow/deny for an identity and a (category, permission) pair.
  Pure and in-process: no I/O, so every call is deterministic and cheap.

RESOLUTION ORDER:
  1. Unknown category or permission name       -> deny
  2. Nil or inactive identity                  -> deny
  3. Numeric capability                        -> allow iff explicit value > 0
  4. Boolean capability with explicit override -> the override
  5. Otherwise                                 -> role default (casbin)

COMPOSITES:
  RequireAll and RequireAny evaluate every pair, never short-circuiting,
  so the Decision lists exactly the pairs that failed for audit logging.

SEE ALSO:
  - permissions.go: Override tree
  - roles.go: Role defaults
  - api/auth.go: Middleware that applies decisions to routes
*/
package access

import (
	"github.com/warp/clinic-engine/core"
)

// Decision is the outcome of a composite check.
type Decision struct {
	Allowed bool
	Failed  []core.Capability
}

// Evaluator applies permission checks.
type Evaluator struct {
	defaults *RoleDefaults
}

// NewEvaluator creates an evaluator over role defaults.
func NewEvaluator(defaults *RoleDefaults) *Evaluator {
	return &Evaluator{defaults: defaults}
}

// HasPermission reports whether id holds (category, permission).
func (e *Evaluator) HasPermission(id *Identity, category, permission string) bool {
	if !KnownCapability(category, permission) {
		return false
	}
	if id == nil || !id.Active {
		return false
	}
	if IsLimit(category, permission) {
		v, set := id.Permissions.Limit(category, permission)
		return set && v > 0
	}
	if v, set := id.Permissions.Flag(category, permission); set {
		return v
	}
	return e.defaults.Allows(id.Role, category, permission)
}

// Limit returns a numeric capability, 0 unless explicitly granted.
func (e *Evaluator) Limit(id *Identity, category, permission string) float64 {
	if id == nil || !id.Active {
		return 0
	}
	v, _ := id.Permissions.Limit(category, permission)
	return v
}

// RequireAll allows when every capability is held. An empty list allows.
func (e *Evaluator) RequireAll(id *Identity, caps ...core.Capability) Decision {
	d := Decision{Allowed: true}
	for _, c := range caps {
		if !e.HasPermission(id, c.Category, c.Permission) {
			d.Allowed = false
			d.Failed = append(d.Failed, c)
		}
	}
	return d
}

// RequireAny allows when at least one capability is held. An empty list
// denies.
func (e *Evaluator) RequireAny(id *Identity, caps ...core.Capability) Decision {
	var d Decision
	for _, c := range caps {
		if e.HasPermission(id, c.Category, c.Permission) {
			d.Allowed = true
		} else {
			d.Failed = append(d.Failed, c)
		}
	}
	return d
}
