package access

import (
	"github.com/warp/clinic-engine/core"
)

// Identity is a verified principal with a validated permission tree.
type Identity struct {
	ID          string             `json:"id"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Role        core.Role          `json:"role"`
	Active      bool               `json:"active"`
	Permissions FeaturePermissions `json:"permissions"`
}

// IdentityFromRecord validates a stored record into an Identity.
func IdentityFromRecord(rec core.IdentityRecord) (*Identity, error) {
	if rec.ID == "" {
		return nil, core.Invalid("id", "identity id is required")
	}
	if !rec.Role.Valid() {
		return nil, core.Invalid("role", "unknown role %q", rec.Role)
	}
	perms, err := ParseFeaturePermissions(rec.Permissions)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:          rec.ID,
		Email:       rec.Email,
		Name:        rec.Name,
		Role:        rec.Role,
		Active:      rec.Active,
		Permissions: perms,
	}, nil
}

// Record converts the identity back into its stored form.
func (id *Identity) Record() core.IdentityRecord {
	return core.IdentityRecord{
		ID:          id.ID,
		Email:       id.Email,
		Name:        id.Name,
		Role:        id.Role,
		Active:      id.Active,
		Permissions: id.Permissions.ToMap(),
	}
}
