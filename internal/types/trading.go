package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT" // rests until filled or cancelled
	OrderTypeDay    OrderType = "DAY"   // expires at end of the trading day
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusUpdated         OrderStatus = "UPDATED"
)

// IsOpen reports whether an order in this status can still match.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled || s == OrderStatusUpdated
}

// IsFinal reports whether an order in this status can never transition again.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}

type TradeStatus string

const (
	TradeStatusMatched TradeStatus = "MATCHED"
	TradeStatusSettled TradeStatus = "SETTLED"
)

type Account struct {
	gorm.Model `json:"-"`
	AccountID  string `gorm:"uniqueIndex" json:"account_id"`
	ClientID   string `gorm:"index" json:"client_id"`
}

// Equity is the reference-data record for a tradable instrument.
// ReferencePrice and TickSize are optional; matching skips the band and
// tick checks when they are absent.
type Equity struct {
	gorm.Model     `json:"-"`
	Symbol         string              `gorm:"uniqueIndex" json:"symbol"`
	Name           string              `json:"name"`
	ReferencePrice decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"reference_price"`
	TickSize       decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"tick_size"`
}

type Order struct {
	gorm.Model        `json:"-"`
	OrderID           string              `gorm:"uniqueIndex" json:"order_id"`
	AccountID         string              `gorm:"index" json:"account_id"`
	Symbol            string              `gorm:"index" json:"symbol"`
	Side              OrderSide           `json:"side"`
	OrderType         OrderType           `json:"order_type"`
	Quantity          int64               `json:"quantity"`
	RemainingQuantity int64               `json:"remaining_quantity"`
	Price             decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"price"`
	Status            OrderStatus         `gorm:"index" json:"status"`
	EntryTime         time.Time           `json:"entry_time"`
	OrderDate         time.Time           `gorm:"index" json:"order_date"` // trading date, midnight UTC
}

// Trade is one leg of a match. Two trades share a MatchID, one per order.
// Immutable after creation except for the MATCHED -> SETTLED transition.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string          `gorm:"uniqueIndex" json:"trade_id"`
	MatchID    string          `gorm:"index" json:"match_id"`
	OrderID    string          `gorm:"index" json:"order_id"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(18,4)" json:"price"`
	Commission decimal.Decimal `gorm:"type:decimal(18,4)" json:"commission"`
	Status     TradeStatus     `gorm:"index" json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Match links the two orders of a crossing event and drives settlement.
type Match struct {
	gorm.Model  `json:"-"`
	MatchID     string    `gorm:"uniqueIndex" json:"match_id"`
	BuyOrderID  string    `gorm:"index" json:"buy_order_id"`
	SellOrderID string    `gorm:"index" json:"sell_order_id"`
	MatchedAt   time.Time `gorm:"index" json:"matched_at"`
}

type CashBalance struct {
	gorm.Model `json:"-"`
	AccountID  string          `gorm:"uniqueIndex" json:"account_id"`
	Free       decimal.Decimal `gorm:"type:decimal(18,4)" json:"free"`
	Blocked    decimal.Decimal `gorm:"type:decimal(18,4)" json:"blocked"`
}

// EquityStock is the per (account, symbol) position. AvgCost is null
// exactly when free+blocked is zero.
type EquityStock struct {
	gorm.Model      `json:"-"`
	AccountID       string              `gorm:"uniqueIndex:idx_stock_account_symbol" json:"account_id"`
	Symbol          string              `gorm:"uniqueIndex:idx_stock_account_symbol" json:"symbol"`
	FreeQuantity    int64               `json:"free_quantity"`
	BlockedQuantity int64               `json:"blocked_quantity"`
	AvgCost         decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"avg_cost"`
}

// OrderHistory is an append-only snapshot of an order's state before a
// change was applied.
type OrderHistory struct {
	gorm.Model      `json:"-"`
	OrderID         string              `gorm:"index" json:"order_id"`
	OldQuantity     int64               `json:"old_quantity"`
	OldPrice        decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"old_price"`
	Status          OrderStatus         `json:"status"`
	Side            OrderSide           `json:"side"`
	OrderType       OrderType           `json:"order_type"`
	TransactionTime time.Time           `gorm:"index" json:"transaction_time"`
}

// OrderLog is the append-only audit trail of status changes.
type OrderLog struct {
	gorm.Model `json:"-"`
	OrderID    string      `gorm:"index" json:"order_id"`
	Status     OrderStatus `json:"status"`
	Message    string      `json:"message"`
	LoggedAt   time.Time   `json:"logged_at"`
}

// Distribution is the per-side settlement reporting record.
type Distribution struct {
	gorm.Model     `json:"-"`
	DistributionID string          `gorm:"uniqueIndex" json:"distribution_id"`
	OrderID        string          `gorm:"index" json:"order_id"`
	AccountID      string          `gorm:"index" json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `gorm:"type:decimal(18,4)" json:"price"`
	SettledAt      time.Time       `json:"settled_at"`
}

// CashTransaction records deposits and withdrawals against free balance.
type CashTransaction struct {
	gorm.Model    `json:"-"`
	TransactionID string          `gorm:"uniqueIndex" json:"transaction_id"`
	AccountID     string          `gorm:"index" json:"account_id"`
	Kind          string          `json:"kind"` // DEPOSIT or WITHDRAW
	Amount        decimal.Decimal `gorm:"type:decimal(18,4)" json:"amount"`
}

// SystemDate is the single process-wide trading date row (id = 1).
// It is the clock the engine runs on instead of the wall-clock date.
type SystemDate struct {
	ID        int       `gorm:"primaryKey" json:"-"`
	TradeDate time.Time `json:"trade_date"`
}
