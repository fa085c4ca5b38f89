// Package outbox delivers trade-matched events recorded by the matching
// transaction. Events are appended to the outbox table inside the same
// transaction as the trades they describe; the dispatcher reads and
// delivers them after commit, so a rolled-back match is never announced.
// Delivery is at-least-once: a crash between delivery and the DELIVERED
// mark replays the event.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Sink receives delivered events. Implementations must tolerate
// duplicates.
type Sink interface {
	Deliver(ctx context.Context, event types.TradeMatchedEvent) error
}

// LoggingSink writes delivered events to the structured log. It stands in
// for an external notification channel.
type LoggingSink struct{}

func (LoggingSink) Deliver(_ context.Context, event types.TradeMatchedEvent) error {
	log.Info().
		Str("component", "notification").
		Str("event_type", types.EventTypeTradeMatched).
		Str("match_id", event.MatchID).
		Str("buy_order_id", event.BuyOrderID).
		Str("sell_order_id", event.SellOrderID).
		Int64("quantity", event.Quantity).
		Str("price", event.Price.String()).
		Msg("trade matched")
	return nil
}

// Dispatcher polls the outbox for pending events and pushes them to the
// sink.
type Dispatcher struct {
	db       *gorm.DB
	sink     Sink
	interval time.Duration
}

func NewDispatcher(db *gorm.DB, sink Sink, interval time.Duration) *Dispatcher {
	return &Dispatcher{db: db, sink: sink, interval: interval}
}

// Start runs the dispatch loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "outbox_dispatcher").Logger()
	logger.Info().Dur("interval", d.interval).Msg("starting outbox dispatcher")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down outbox dispatcher")
			return
		case <-ticker.C:
			if err := d.DispatchPending(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to dispatch outbox events")
			}
		}
	}
}

// DispatchPending delivers every pending outbox row in insertion order and
// marks each DELIVERED after a successful push. A sink failure stops the
// pass; the remaining rows are retried on the next tick.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	var rows []types.OutboxEvent
	err := d.db.Where("status = ?", types.OutboxStatusPending).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return err
	}

	for i := range rows {
		row := &rows[i]

		var event types.TradeMatchedEvent
		if err := json.Unmarshal([]byte(row.Payload), &event); err != nil {
			// Undeliverable payloads are marked delivered so they stop
			// blocking the queue; the raw row stays for inspection.
			log.Error().Err(err).
				Str("component", "outbox_dispatcher").
				Str("event_id", row.EventID).
				Msg("failed to decode outbox payload, marking delivered")
			if err := d.markDelivered(row); err != nil {
				return err
			}
			continue
		}

		if err := d.sink.Deliver(ctx, event); err != nil {
			return err
		}
		if err := d.markDelivered(row); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) markDelivered(row *types.OutboxEvent) error {
	now := time.Now()
	row.Status = types.OutboxStatusDelivered
	row.DeliveredAt = &now
	return d.db.Save(row).Error
}
