package restock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// EventPurchaseOrderReceived is the only event type the listener acts on.
const EventPurchaseOrderReceived = "PurchaseOrderReceived"

// SystemActor is recorded as the creator of event-driven restocks.
const SystemActor = "system"

// ErrNotApplied is returned by Process when an event changed nothing and
// failed only on infrastructure. The event should be processed again.
var ErrNotApplied = errors.New("purchase order not applied")

// MessageReader is the subset of *kafka.Reader the listener uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PurchaseOrderEvent announces received goods.
type PurchaseOrderEvent struct {
	EventID   string               `json:"event_id"`
	EventType string               `json:"event_type"`
	Payload   PurchaseOrderPayload `json:"payload"`
	Timestamp time.Time            `json:"timestamp"`
}

type PurchaseOrderPayload struct {
	PurchaseOrderRef string              `json:"purchase_order_ref"`
	SupplierID       string              `json:"supplier_id"`
	BatchReference   string              `json:"batch_reference"`
	ReceivedBy       string              `json:"received_by"`
	Lines            []PurchaseOrderLine `json:"lines"`
}

type PurchaseOrderLine struct {
	ProductID string           `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Unit      string           `json:"unit"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
}

// Listener turns purchase-order events into bulk restocks.
type Listener struct {
	reader MessageReader
	engine *Engine
	logger *zap.Logger

	RetryDelay time.Duration
}

// NewListener wraps an existing reader.
func NewListener(reader MessageReader, engine *Engine, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{reader: reader, engine: engine, logger: logger, RetryDelay: time.Second}
}

// NewKafkaListener creates a consumer-group reader for topic.
func NewKafkaListener(brokers []string, topic, groupID string, engine *Engine, logger *zap.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewListener(reader, engine, logger)
}

// Start consumes until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	l.logger.Info("starting purchase order listener")
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.logger.Info("stopping purchase order listener")
				return
			}
			l.logger.Error("failed to fetch kafka message", zap.Error(err))
			select {
			case <-time.After(l.RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		if !l.handle(ctx, msg) {
			l.logger.Info("stopping purchase order listener",
				zap.Int64("uncommitted_offset", msg.Offset))
			return
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			l.logger.Error("failed to commit kafka message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle processes msg until it is applied or skipped. It reports false
// when ctx ended first, in which case msg must not be committed.
func (l *Listener) handle(ctx context.Context, msg kafka.Message) bool {
	for {
		_, err := l.Process(ctx, msg.Value)
		if err == nil {
			return true
		}
		l.logger.Warn("purchase order will be retried",
			zap.Int64("offset", msg.Offset),
			zap.Duration("retry_in", l.RetryDelay),
			zap.Error(err))
		select {
		case <-time.After(l.RetryDelay):
		case <-ctx.Done():
			return false
		}
	}
}

// Close releases the reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}

// Process handles one message body. Undecodable or foreign events are
// skipped; they would never succeed on redelivery. ErrNotApplied means no
// line was applied and at least one failed transiently.
func (l *Listener) Process(ctx context.Context, value []byte) (*BatchResult, error) {
	var event PurchaseOrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("failed to unmarshal event", zap.Error(err))
		return nil, nil
	}
	if event.EventType != EventPurchaseOrderReceived {
		return nil, nil
	}

	p := event.Payload
	l.logger.Info("processing purchase order",
		zap.String("event_id", event.EventID),
		zap.String("purchase_order_ref", p.PurchaseOrderRef),
		zap.Int("lines", len(p.Lines)))

	ops := make([]Operation, len(p.Lines))
	for i, line := range p.Lines {
		ops[i] = Operation{
			ProductID: core.ProductID(line.ProductID),
			Quantity:  line.Quantity,
			Unit:      line.Unit,
			UnitCost:  line.UnitCost,
			Notes:     receivedNote(p),
		}
	}

	result, err := l.engine.BulkRestock(ctx, BulkRequest{
		Operations:       ops,
		SupplierID:       p.SupplierID,
		PurchaseOrderRef: p.PurchaseOrderRef,
		BatchReference:   p.BatchReference,
	}, SystemActor)
	if err != nil {
		l.logger.Error("purchase order restock failed",
			zap.String("purchase_order_ref", p.PurchaseOrderRef),
			zap.String("code", core.Code(err)),
			zap.Error(err))
		if core.IsTransient(err) {
			return nil, errors.Join(ErrNotApplied, err)
		}
		return nil, nil
	}
	if result.SuccessCount == 0 && anyTransient(result) {
		return result, ErrNotApplied
	}
	if result.SuccessCount < result.TotalOperations {
		l.logger.Warn("purchase order partially applied",
			zap.String("purchase_order_ref", p.PurchaseOrderRef),
			zap.String("batch_id", result.BatchID),
			zap.Int("succeeded", result.SuccessCount),
			zap.Int("total", result.TotalOperations))
	}
	return result, nil
}

func receivedNote(p PurchaseOrderPayload) string {
	note := "received via " + p.PurchaseOrderRef
	if p.ReceivedBy != "" {
		note += " by " + p.ReceivedBy
	}
	return note
}

// anyTransient reports whether some failed line may succeed on retry.
// Retrying is only safe when nothing succeeded, since applied lines would
// be booked twice.
func anyTransient(r *BatchResult) bool {
	for _, line := range r.Lines {
		if line.Transient {
			return true
		}
	}
	return false
}
