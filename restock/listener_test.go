package restock_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
	"github.com/warp/clinic-engine/restock"
)

// fakeReader serves queued messages, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func purchaseOrder(t *testing.T, eventType string, lines ...restock.PurchaseOrderLine) []byte {
	t.Helper()
	b, err := json.Marshal(restock.PurchaseOrderEvent{
		EventID:   "evt-1",
		EventType: eventType,
		Timestamp: testDay,
		Payload: restock.PurchaseOrderPayload{
			PurchaseOrderRef: "PO-100",
			SupplierID:       "sup-1",
			Lines:            lines,
		},
	})
	require.NoError(t, err)
	return b
}

func TestListener_ProcessAppliesPurchaseOrder(t *testing.T) {
	e, mem := setup(t)
	seedProduct(t, mem, core.Product{ID: "saline", Name: "Saline", BaseUnit: "ml", Active: true}, "0")
	l := restock.NewListener(&fakeReader{}, e, nil)

	res, err := l.Process(context.Background(), purchaseOrder(t, restock.EventPurchaseOrderReceived,
		restock.PurchaseOrderLine{ProductID: "saline", Quantity: dec("2"), Unit: "l"},
		restock.PurchaseOrderLine{ProductID: "ghost", Quantity: dec("1")},
	))

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, restock.SystemActor, res.Lines[0].Movement.CreatedBy)
	p, _ := mem.GetProduct(context.Background(), "saline")
	assert.True(t, p.CurrentStock.Equal(dec("2000")))

	batches, _ := mem.ListBatches(context.Background(), 10)
	require.Len(t, batches, 1)
	assert.Equal(t, "PO-100", batches[0].PurchaseOrderRef)
}

func TestListener_IgnoresForeignAndMalformedEvents(t *testing.T) {
	e, _ := setup(t)
	l := restock.NewListener(&fakeReader{}, e, nil)

	for _, body := range [][]byte{[]byte("{not json"), purchaseOrder(t, "PurchaseOrderCancelled")} {
		res, err := l.Process(context.Background(), body)
		assert.NoError(t, err)
		assert.Nil(t, res)
	}
}

func TestListener_ReceiverGoesToNotesNotCreator(t *testing.T) {
	e, mem := setup(t)
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", Active: true}, "0")
	l := restock.NewListener(&fakeReader{}, e, nil)

	body, err := json.Marshal(restock.PurchaseOrderEvent{
		EventType: restock.EventPurchaseOrderReceived,
		Payload: restock.PurchaseOrderPayload{
			PurchaseOrderRef: "PO-9",
			ReceivedBy:       "u-clerk",
			Lines:            []restock.PurchaseOrderLine{{ProductID: "gauze", Quantity: dec("3")}},
		},
	})
	require.NoError(t, err)

	res, err := l.Process(context.Background(), body)

	require.NoError(t, err)
	require.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, restock.SystemActor, res.Lines[0].Movement.CreatedBy)
	assert.Equal(t, "received via PO-9 by u-clerk", res.Lines[0].Movement.Notes)
}

func TestListener_ProcessReportsTransientFailure(t *testing.T) {
	mem := store.NewMemory()
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", Active: true}, "0")
	l := restock.NewListener(&fakeReader{}, newEngine(t, mem, downCounter{}), nil)
	line := restock.PurchaseOrderLine{ProductID: "gauze", Quantity: dec("4")}

	// Without a batch reference the batch number itself cannot be allocated.
	_, err := l.Process(context.Background(), purchaseOrder(t, restock.EventPurchaseOrderReceived, line))
	assert.ErrorIs(t, err, restock.ErrNotApplied)

	// With one, every line fails on its movement number instead.
	body, jerr := json.Marshal(restock.PurchaseOrderEvent{
		EventType: restock.EventPurchaseOrderReceived,
		Payload: restock.PurchaseOrderPayload{
			PurchaseOrderRef: "PO-100",
			BatchReference:   "BATCH-EXT-1",
			Lines:            []restock.PurchaseOrderLine{line},
		},
	})
	require.NoError(t, jerr)
	res, err := l.Process(context.Background(), body)
	assert.ErrorIs(t, err, restock.ErrNotApplied)
	require.NotNil(t, res)
	assert.True(t, res.Lines[0].Transient)
}

// flakyCounter fails a fixed number of increments, then recovers.
type flakyCounter struct {
	core.CounterStore
	mu       sync.Mutex
	failures int
}

func (c *flakyCounter) Increment(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return 0, errors.New("counter store unreachable")
	}
	c.mu.Unlock()
	return c.CounterStore.Increment(ctx, name)
}

func TestListener_StartRetriesUntilStoreRecovers(t *testing.T) {
	// GIVEN: a counter store that is down for the first three calls
	mem := store.NewMemory()
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", Active: true}, "0")
	counters := &flakyCounter{CounterStore: mem, failures: 3}
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: purchaseOrder(t, restock.EventPurchaseOrderReceived,
			restock.PurchaseOrderLine{ProductID: "gauze", Quantity: dec("4")})},
	}}
	l := restock.NewListener(reader, newEngine(t, mem, counters), nil)
	l.RetryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	// WHEN: the store comes back
	// THEN: the order is applied exactly once and only then committed
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{7}, reader.commits())
	p, _ := mem.GetProduct(context.Background(), "gauze")
	assert.True(t, p.CurrentStock.Equal(dec("4")))
}

func TestListener_StopWhileStoreDownLeavesOffsetUncommitted(t *testing.T) {
	// GIVEN: a counter store that never answers
	mem := store.NewMemory()
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", Active: true}, "0")
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: purchaseOrder(t, restock.EventPurchaseOrderReceived,
			restock.PurchaseOrderLine{ProductID: "gauze", Quantity: dec("4")})},
	}}
	l := restock.NewListener(reader, newEngine(t, mem, downCounter{}), nil)
	l.RetryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	// WHEN: the listener is stopped after a few failed attempts
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	// THEN: the offset stays uncommitted for redelivery
	assert.Empty(t, reader.commits())
	p, _ := mem.GetProduct(context.Background(), "gauze")
	assert.True(t, p.CurrentStock.IsZero())
}

func TestListener_StartCommitsAndStops(t *testing.T) {
	e, mem := setup(t)
	seedProduct(t, mem, core.Product{ID: "gauze", Name: "Gauze", Active: true}, "0")
	line := restock.PurchaseOrderLine{ProductID: "gauze", Quantity: dec("4")}
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: purchaseOrder(t, restock.EventPurchaseOrderReceived, line)},
		{Offset: 2, Value: []byte("garbage")},
	}}
	l := restock.NewListener(reader, e, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	assert.Equal(t, []int64{1, 2}, reader.commits())
	p, _ := mem.GetProduct(context.Background(), "gauze")
	assert.True(t, p.CurrentStock.Equal(dec("4")))
	require.NoError(t, l.Close())
	assert.True(t, reader.closed)
}
