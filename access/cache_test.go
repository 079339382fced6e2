package access_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
)

// countingStore counts FindIdentity calls and can be made to fail.
type countingStore struct {
	*store.Memory
	finds atomic.Int64
	fail  atomic.Bool
	block chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: store.NewMemory()}
}

func (s *countingStore) FindIdentity(ctx context.Context, id string) (*core.IdentityRecord, error) {
	s.finds.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return s.Memory.FindIdentity(ctx, id)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T) (*access.IdentityCache, *countingStore, *clock) {
	t.Helper()
	s := newCountingStore()
	clk := &clock{now: time.Date(2026, 1, 4, 9, 0, 0, 0, time.UTC)}
	c := access.NewIdentityCache(s, nil)
	c.Now = clk.Now

	require.NoError(t, s.SaveIdentity(context.Background(), core.IdentityRecord{
		ID: "u-1", Email: "vet@clinic.test", Role: core.RoleStaff, Active: true,
		Permissions: map[string]map[string]any{"inventory": {"canBulkRestock": false}},
	}))
	return c, s, clk
}

func TestResolve_HitWithinTTLSkipsStore(t *testing.T) {
	c, s, clk := newCache(t)
	ctx := context.Background()

	first, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	clk.Advance(4 * time.Minute)
	second, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), s.finds.Load())
}

func TestResolve_ExpiredEntryRefetches(t *testing.T) {
	c, s, clk := newCache(t)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	clk.Advance(5 * time.Minute)
	_, err = c.Resolve(ctx, "u-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.finds.Load())
}

func TestResolve_InvalidateForcesFreshFetch(t *testing.T) {
	// GIVEN: a cached identity without bulk restock rights
	c, s, _ := newCache(t)
	ctx := context.Background()
	before, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)

	// WHEN: the store record changes and the id is invalidated within the TTL
	rec, _ := s.Memory.FindIdentity(ctx, "u-1")
	rec.Permissions["inventory"]["canBulkRestock"] = true
	require.NoError(t, s.Memory.SaveIdentity(ctx, *rec))
	c.Invalidate("u-1")

	after, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)

	// THEN: the next resolve went to the store and sees the new grant
	assert.Equal(t, int64(2), s.finds.Load())
	v, _ := after.Permissions.Flag("inventory", "canBulkRestock")
	assert.True(t, v)
	old, _ := before.Permissions.Flag("inventory", "canBulkRestock")
	assert.False(t, old, "in-flight holders keep their copy")
}

func TestResolve_ClearAllForcesFreshFetch(t *testing.T) {
	c, s, _ := newCache(t)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	c.ClearAll()
	assert.Equal(t, 0, c.Len())

	_, err = c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.finds.Load())
}

func TestResolve_FetchRacingInvalidateIsNotCached(t *testing.T) {
	// GIVEN: a store lookup that is in flight
	c, s, _ := newCache(t)
	s.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Resolve(ctx, "u-1")
	}()
	require.Eventually(t, func() bool { return s.finds.Load() == 1 }, time.Second, time.Millisecond)

	// WHEN: the identity is invalidated before the lookup returns
	c.Invalidate("u-1")
	close(s.block)
	<-done

	// THEN: the stale result was not stored
	assert.Equal(t, 0, c.Len())
	s.block = nil
	_, err := c.Resolve(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.finds.Load())
}

func TestResolve_DistinctFailureOutcomes(t *testing.T) {
	c, s, _ := newCache(t)
	ctx := context.Background()
	require.NoError(t, s.Memory.SaveIdentity(ctx, core.IdentityRecord{ID: "u-off", Role: core.RoleAdmin, Active: false}))
	require.NoError(t, s.Memory.SaveIdentity(ctx, core.IdentityRecord{ID: "u-bad", Role: core.RoleStaff, Active: true,
		Permissions: map[string]map[string]any{"inventory": {"canView": "yes"}}}))

	_, err := c.Resolve(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrIdentityNotFound)
	assert.NotErrorIs(t, err, core.ErrIdentityResolution)

	_, err = c.Resolve(ctx, "u-off")
	assert.ErrorIs(t, err, core.ErrIdentityInactive)

	_, err = c.Resolve(ctx, "u-bad")
	assert.ErrorIs(t, err, core.ErrIdentityResolution)
	assert.NotErrorIs(t, err, core.ErrStoreUnavailable)

	s.fail.Store(true)
	_, err = c.Resolve(ctx, "u-1")
	assert.ErrorIs(t, err, core.ErrIdentityResolution)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, core.ErrIdentityNotFound)
}

func TestResolve_StoreTimeoutFailsClosed(t *testing.T) {
	c, s, _ := newCache(t)
	s.block = make(chan struct{})
	c.StoreTimeout = 10 * time.Millisecond

	_, err := c.Resolve(context.Background(), "u-1")

	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolve_ConcurrentMissesShareOneFetch(t *testing.T) {
	c, s, _ := newCache(t)
	s.block = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Resolve(ctx, "u-1")
			assert.NoError(t, err)
			assert.Equal(t, "u-1", id.ID)
		}()
	}
	require.Eventually(t, func() bool { return s.finds.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(s.block)
	wg.Wait()

	assert.Equal(t, int64(1), s.finds.Load())
}

func TestResolve_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	// GIVEN: a lookup started by a request that will go away
	c, s, _ := newCache(t)
	s.block = make(chan struct{})
	leaderCtx, cancelLeader := context.WithCancel(context.Background())

	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(leaderCtx, "u-1")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return s.finds.Load() == 1 }, time.Second, time.Millisecond)

	// AND: a second request waiting on the same lookup
	type outcome struct {
		id  *access.Identity
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		id, err := c.Resolve(context.Background(), "u-1")
		follower <- outcome{id, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// WHEN: the first request is cancelled before the store answers
	cancelLeader()
	err := <-leaderErr
	assert.ErrorIs(t, err, core.ErrIdentityResolution)
	assert.ErrorIs(t, err, context.Canceled)
	close(s.block)

	// THEN: the second request still resolves from the one shared lookup
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "u-1", got.id.ID)
	assert.Equal(t, int64(1), s.finds.Load())
	assert.Equal(t, 1, c.Len())
}
