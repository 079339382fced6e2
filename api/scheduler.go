/*
scheduler.go - Automated reorder scan

PURPOSE:
  Periodically computes restock suggestions and keeps the latest report
  for the alerts endpoint. High-priority products (out of stock or
  oversold) are logged on every scan.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only reads: suggestions are never persisted and nothing is ordered
  - A failed scan keeps the previous report

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Threshold:     Multiplier on each reorder point (default: 1)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReorderScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Alerts endpoint
  - restock/suggest.go: Suggestion computation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/restock"
	"go.uber.org/zap"
)

// ReorderReport is the outcome of one scan.
type ReorderReport struct {
	CheckedAt   time.Time
	Suggestions []restock.Suggestion
}

// HighPriority returns the suggestions classified high.
func (r *ReorderReport) HighPriority() []restock.Suggestion {
	var out []restock.Suggestion
	for _, s := range r.Suggestions {
		if s.Priority == restock.PriorityHigh {
			out = append(out, s)
		}
	}
	return out
}

// ReorderScheduler runs reorder scans in the background.
type ReorderScheduler struct {
	Engine        *restock.Engine
	CheckInterval time.Duration
	Threshold     decimal.Decimal
	Enabled       bool
	Now           func() time.Time

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu sync.RWMutex
	last     *ReorderReport
}

// NewReorderScheduler creates a new scheduler.
func NewReorderScheduler(engine *restock.Engine, logger *zap.Logger) *ReorderScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReorderScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Threshold:     decimal.NewFromInt(1),
		Enabled:       true,
		Now:           time.Now,
		logger:        logger,
	}
}

// Start begins the scheduler.
func (rs *ReorderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("reorder scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.logger.Info("reorder scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight scan.
func (rs *ReorderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger.Info("reorder scheduler stopped")
	}
}

func (rs *ReorderScheduler) run(ticker *time.Ticker, stop chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			rs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one scan and returns its report, or nil when the scan
// failed.
func (rs *ReorderScheduler) RunNow(ctx context.Context) *ReorderReport {
	suggestions, err := rs.Engine.Suggest(ctx, restock.SuggestionQuery{Threshold: rs.Threshold})
	if err != nil {
		rs.logger.Error("reorder scan failed", zap.Error(err))
		return nil
	}

	report := &ReorderReport{CheckedAt: rs.Now().UTC(), Suggestions: suggestions}
	for _, s := range report.HighPriority() {
		rs.logger.Warn("product needs restock",
			zap.String("product_id", string(s.ProductID)),
			zap.String("stock", s.CurrentStock.String()),
			zap.String("suggested", s.SuggestedQuantity.String()),
			zap.String("unit", s.Unit))
	}
	rs.logger.Info("reorder scan completed",
		zap.Int("suggestions", len(suggestions)),
		zap.Int("high_priority", len(report.HighPriority())))

	rs.reportMu.Lock()
	rs.last = report
	rs.reportMu.Unlock()
	return report
}

// LastReport returns the most recent successful scan, or nil.
func (rs *ReorderScheduler) LastReport() *ReorderReport {
	rs.reportMu.RLock()
	defer rs.reportMu.RUnlock()
	return rs.last
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReorderScheduler) GetNextRunTime() time.Time {
	return rs.Now().Add(rs.CheckInterval)
}
