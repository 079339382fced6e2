package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/warp/clinic-engine/core"
)

// =============================================================================
// COUNTER STORE (core.CounterStore interface)
// =============================================================================

// Increment creates the counter at 1 or bumps it, returning the new value.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int64
	err := s.db.GetContext(ctx, &value, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1
		RETURNING value`, name)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment counter %s", name)
	}
	return value, nil
}

// =============================================================================
// IDENTITY STORE (core.IdentityStore interface)
// =============================================================================

type identityRow struct {
	ID              string `db:"id"`
	Email           string `db:"email"`
	Name            string `db:"name"`
	Role            string `db:"role"`
	Active          bool   `db:"active"`
	PermissionsJSON string `db:"permissions_json"`
	UpdatedAt       string `db:"updated_at"`
}

// FindIdentity never selects password_hash.
func (s *Store) FindIdentity(ctx context.Context, id string) (*core.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row identityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, role, active, permissions_json, updated_at
		FROM identities WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find identity")
	}

	var perms map[string]map[string]any
	if row.PermissionsJSON != "" {
		if err := json.Unmarshal([]byte(row.PermissionsJSON), &perms); err != nil {
			return nil, errors.Wrapf(err, "corrupt permissions on identity %s", id)
		}
	}

	return &core.IdentityRecord{
		ID:          row.ID,
		Email:       row.Email,
		Name:        row.Name,
		Role:        core.Role(row.Role),
		Active:      row.Active,
		Permissions: perms,
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}

// SaveIdentity upserts everything except the credential column.
func (s *Store) SaveIdentity(ctx context.Context, rec core.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	perms := rec.Permissions
	if perms == nil {
		perms = map[string]map[string]any{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return errors.Wrap(err, "failed to encode permissions")
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO identities (id, email, name, role, active, permissions_json, updated_at)
		VALUES (:id, :email, :name, :role, :active, :permissions_json, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			active = excluded.active,
			permissions_json = excluded.permissions_json,
			updated_at = excluded.updated_at`,
		identityRow{
			ID:              rec.ID,
			Email:           rec.Email,
			Name:            rec.Name,
			Role:            string(rec.Role),
			Active:          rec.Active,
			PermissionsJSON: string(permsJSON),
			UpdatedAt:       formatTime(rec.UpdatedAt),
		})
	if err != nil {
		return errors.Wrapf(err, "failed to save identity %s", rec.ID)
	}
	return nil
}
