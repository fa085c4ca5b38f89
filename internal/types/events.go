package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeMatchedEvent is the notification payload emitted once per fill.
// It is written to the outbox in the matching transaction and delivered
// by the dispatcher only after that transaction commits.
type TradeMatchedEvent struct {
	MatchID     string          `json:"match_id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyTradeID  string          `json:"buy_trade_id"`
	SellTradeID string          `json:"sell_trade_id"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

const EventTypeTradeMatched = "TRADE_MATCHED"

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusDelivered OutboxStatus = "DELIVERED"
)

// OutboxEvent is a pending notification persisted alongside the work that
// produced it, so events are never delivered for rolled-back transactions.
type OutboxEvent struct {
	gorm.Model  `json:"-"`
	EventID     string       `gorm:"uniqueIndex" json:"event_id"`
	EventType   string       `json:"event_type"`
	Payload     string       `json:"payload"`
	Status      OutboxStatus `gorm:"index" json:"status"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
}
