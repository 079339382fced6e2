package access

import (
	"context"
	"time"

	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// IdentityChange is a partial update. Nil fields are left as they are.
type IdentityChange struct {
	Role        *core.Role
	Active      *bool
	Permissions *FeaturePermissions
}

// Directory mutates identities and keeps the cache coherent with them.
type Directory struct {
	store  core.IdentityStore
	cache  *IdentityCache
	logger *zap.Logger

	StoreTimeout time.Duration
	Now          func() time.Time
}

// NewDirectory creates a directory writing to store and invalidating cache.
func NewDirectory(store core.IdentityStore, cache *IdentityCache, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:        store,
		cache:        cache,
		logger:       logger,
		StoreTimeout: DefaultStoreTimeout,
		Now:          time.Now,
	}
}

// Provision creates or replaces an identity.
func (d *Directory) Provision(ctx context.Context, id *Identity) error {
	if _, err := IdentityFromRecord(id.Record()); err != nil {
		return err
	}
	return d.save(ctx, id)
}

// UpdateIdentity applies change to identity id.
func (d *Directory) UpdateIdentity(ctx context.Context, id string, change IdentityChange) (*Identity, error) {
	if change.Role != nil && !change.Role.Valid() {
		return nil, core.Invalid("role", "unknown role %q", *change.Role)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.StoreTimeout)
	rec, err := d.store.FindIdentity(lookupCtx, id)
	cancel()
	if err != nil {
		d.logger.Error("identity lookup failed", zap.String("op", "identity.find"), zap.String("identity_id", id), zap.Error(err))
		return nil, core.StoreFailure("identity.find", err)
	}
	if rec == nil {
		return nil, &core.IdentityError{IdentityID: id, Kind: core.ErrIdentityNotFound}
	}
	if rec.ID == "" {
		rec.ID = id
	}

	identity, err := IdentityFromRecord(*rec)
	if err != nil {
		return nil, err
	}
	if change.Role != nil {
		identity.Role = *change.Role
	}
	if change.Active != nil {
		identity.Active = *change.Active
	}
	if change.Permissions != nil {
		identity.Permissions = *change.Permissions
	}

	if err := d.save(ctx, identity); err != nil {
		return nil, err
	}
	d.logger.Info("identity updated",
		zap.String("identity_id", id),
		zap.String("role", string(identity.Role)),
		zap.Bool("active", identity.Active))
	return identity, nil
}

// Invalidate forces the next resolve of id to hit the store.
func (d *Directory) Invalidate(id string) {
	d.cache.Invalidate(id)
}

// ClearCache drops every cached identity, e.g. after secret rotation.
func (d *Directory) ClearCache() {
	d.cache.ClearAll()
	d.logger.Info("identity cache cleared")
}

func (d *Directory) save(ctx context.Context, identity *Identity) error {
	rec := identity.Record()
	rec.UpdatedAt = d.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, d.StoreTimeout)
	defer cancel()

	err := d.store.SaveIdentity(ctx, rec)
	// Invalidate even on failure: the write may have landed.
	d.cache.Invalidate(identity.ID)
	if err != nil {
		d.logger.Error("identity save failed", zap.String("op", "identity.save"), zap.String("identity_id", identity.ID), zap.Error(err))
		return core.StoreFailure("identity.save", err)
	}
	return nil
}
