package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) *Counter {
	t.Helper()
	addr := os.Getenv("CLINIC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLINIC_TEST_REDIS_ADDR not set")
	}
	client, err := Dial(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewCounter(client, fmt.Sprintf("clinic-test:%d:", time.Now().UnixNano()))
}

func TestNewCounter_DefaultPrefix(t *testing.T) {
	c := NewCounter(nil, "")
	assert.Equal(t, DefaultPrefix, c.prefix)
}

func TestCounter_ConcurrentDistinct(t *testing.T) {
	c := newCounter(t)
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Increment(context.Background(), "rst-20260104")
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.True(t, seen[1])
	assert.True(t, seen[n])
}

func TestCounter_TTLAppliedOnCreate(t *testing.T) {
	c := newCounter(t)
	c.TTL = time.Hour
	ctx := context.Background()

	v, err := c.Increment(ctx, "batch-20260104")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	ttl, err := c.client.TTL(ctx, c.prefix+"batch-20260104").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
