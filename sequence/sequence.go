/*
sequence.go - Atomic sequence numbers for business documents

PURPOSE:
  Produces strictly increasing integers per named counter and formats
  them into human-legible, daily-scoped document numbers.

COUNTER NAMES:
  {documentType}-{YYYYMMDD}, lower-case:   rst-20260104
  Document numbers are upper-case, padded: RST-20260104-0001

ATOMICITY:
  Next delegates to CounterStore.Increment, a single find-and-increment-
  or-create round trip. Two concurrent callers never observe the same
  value for the same counter.

GAPS:
  A value that is allocated and then abandoned (the caller's write fails,
  the process restarts) is consumed for good. Numbers are unique and
  increasing, not contiguous.

TIMEOUTS:
  Every increment runs under Timeout. A slow or unreachable store fails
  with SequenceAllocationError wrapping the store failure.

SEE ALSO:
  - core/store.go: CounterStore contract
  - restock/engine.go: allocates movement and batch numbers
*/
package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single counter round trip.
const DefaultTimeout = 5 * time.Second

// Generator allocates sequence numbers.
type Generator struct {
	counters core.CounterStore
	logger   *zap.Logger

	Timeout  time.Duration
	Location *time.Location // day boundary for counter names
}

// NewGenerator creates a generator backed by counters.
func NewGenerator(counters core.CounterStore, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		counters: counters,
		logger:   logger,
		Timeout:  DefaultTimeout,
		Location: time.UTC,
	}
}

// Next increments counter name and returns the new value.
func (g *Generator) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, core.Invalid("counter", "name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	v, err := g.counters.Increment(ctx, name)
	if err != nil {
		g.logger.Error("counter increment failed",
			zap.String("op", "sequence.next"),
			zap.String("counter", name),
			zap.Error(err))
		return 0, &core.SequenceAllocationError{Counter: name, Err: core.StoreFailure("sequence.next", err)}
	}
	return v, nil
}

// NextDocumentNumber allocates the next number of docType for the day of at.
func (g *Generator) NextDocumentNumber(ctx context.Context, docType string, at time.Time) (string, error) {
	at = at.In(g.Location)
	n, err := g.Next(ctx, CounterName(docType, at))
	if err != nil {
		return "", err
	}
	return FormatDocumentNumber(docType, at, n), nil
}

// CounterName returns the daily counter key for docType.
func CounterName(docType string, at time.Time) string {
	return strings.ToLower(docType) + "-" + at.Format("20060102")
}

// FormatDocumentNumber renders n as a document number, e.g. TXN-20260104-0001.
func FormatDocumentNumber(docType string, at time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%04d", strings.ToUpper(docType), at.Format("20060102"), n)
}
