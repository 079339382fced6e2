/*
cache.go - Short-TTL identity cache

PURPOSE:
  Sits between token verification and permission evaluation. Resolves an
  identity id to a validated Identity, serving repeated requests from
  memory for TTL (default 5 minutes) and falling back to the store on
  miss or expiry.

OUTCOMES:
  Resolve distinguishes three failures, all *core.IdentityError:
  - ErrIdentityNotFound:   store has no such identity
  - ErrIdentityInactive:   identity exists but is switched off
  - ErrIdentityResolution: the lookup itself failed (store down, timeout,
                           or an invalid stored record)

INVALIDATION:
  Invalidate(id) drops the entry and bumps a per-id generation. ClearAll
  bumps a global epoch. A fetch only populates the cache when neither
  changed while it was in flight, so a fetch that raced an invalidation
  can never reinstate stale data. Requests already holding an Identity
  finish with it.

CONCURRENCY:
  Entries are independent; one RWMutex guards the map. Concurrent misses
  for the same (id, generation, epoch) share one store round trip through
  singleflight. That round trip is bounded by StoreTimeout only, so a
  caller that goes away does not fail the others waiting on it.

SEE ALSO:
  - directory.go: Mutations that must invalidate
  - api/auth.go: Middleware calling Resolve
*/
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultIdentityTTL  = 5 * time.Minute
	DefaultStoreTimeout = 5 * time.Second
)

type cacheEntry struct {
	identity  *Identity
	fetchedAt time.Time
}

// IdentityCache caches identities by id.
type IdentityCache struct {
	store  core.IdentityStore
	logger *zap.Logger

	TTL          time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time

	mu          sync.RWMutex
	entries     map[string]cacheEntry
	generations map[string]uint64
	epoch       uint64
	flight      singleflight.Group
}

// NewIdentityCache creates an empty cache over store.
func NewIdentityCache(store core.IdentityStore, logger *zap.Logger) *IdentityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCache{
		store:        store,
		logger:       logger,
		TTL:          DefaultIdentityTTL,
		StoreTimeout: DefaultStoreTimeout,
		Now:          time.Now,
		entries:      make(map[string]cacheEntry),
		generations:  make(map[string]uint64),
	}
}

// Resolve returns the active identity for id.
func (c *IdentityCache) Resolve(ctx context.Context, id string) (*Identity, error) {
	if id == "" {
		return nil, &core.IdentityError{Kind: core.ErrIdentityNotFound}
	}

	c.mu.RLock()
	entry, ok := c.entries[id]
	gen, epoch := c.generations[id], c.epoch
	c.mu.RUnlock()

	if ok && c.Now().Sub(entry.fetchedAt) < c.TTL {
		return checkActive(entry.identity)
	}

	// The shared fetch outlives any one caller; each caller still gives up
	// on its own context.
	key := fmt.Sprintf("%s#%d#%d", id, gen, epoch)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), id, gen, epoch)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return checkActive(res.Val.(*Identity))
	case <-ctx.Done():
		return nil, &core.IdentityError{IdentityID: id, Kind: core.ErrIdentityResolution, Err: ctx.Err()}
	}
}

func checkActive(identity *Identity) (*Identity, error) {
	if !identity.Active {
		return nil, &core.IdentityError{IdentityID: identity.ID, Kind: core.ErrIdentityInactive}
	}
	return identity, nil
}

func (c *IdentityCache) fetch(ctx context.Context, id string, gen, epoch uint64) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.StoreTimeout)
	defer cancel()

	rec, err := c.store.FindIdentity(ctx, id)
	if err != nil {
		c.logger.Error("identity lookup failed",
			zap.String("op", "identity.find"),
			zap.String("identity_id", id),
			zap.Error(err))
		return nil, &core.IdentityError{
			IdentityID: id,
			Kind:       core.ErrIdentityResolution,
			Err:        core.StoreFailure("identity.find", err),
		}
	}
	if rec == nil {
		return nil, &core.IdentityError{IdentityID: id, Kind: core.ErrIdentityNotFound}
	}
	// Stores may hand back an internal id; the requested id is canonical.
	if rec.ID == "" {
		rec.ID = id
	}

	identity, err := IdentityFromRecord(*rec)
	if err != nil {
		c.logger.Error("stored identity is invalid",
			zap.String("identity_id", id),
			zap.Error(err))
		return nil, &core.IdentityError{IdentityID: id, Kind: core.ErrIdentityResolution, Err: err}
	}

	c.mu.Lock()
	if c.generations[id] == gen && c.epoch == epoch {
		c.entries[id] = cacheEntry{identity: identity, fetchedAt: c.Now()}
	}
	c.mu.Unlock()

	return identity, nil
}

// Invalidate drops id so the next Resolve fetches from the store.
func (c *IdentityCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	c.generations[id]++
}

// ClearAll drops every entry.
func (c *IdentityCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
	c.epoch++
}

// Len returns the number of cached entries, expired ones included.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
