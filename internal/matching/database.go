package matching

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var openStatuses = []types.OrderStatus{
	types.OrderStatusPending,
	types.OrderStatusPartiallyFilled,
	types.OrderStatusUpdated,
}

// orderForUpdate loads an order under an exclusive row lock. The lock is
// held until the enclosing transaction ends, serializing concurrent
// matching attempts on the same order.
func orderForUpdate(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrOrderNotFound)
		}
		return nil, err
	}
	return &order, nil
}

func accountExists(tx *gorm.DB, accountID string) (bool, error) {
	var count int64
	err := tx.Model(&types.Account{}).Where("account_id = ?", accountID).Count(&count).Error
	return count > 0, err
}

func equityBySymbol(tx *gorm.DB, symbol string) (*types.Equity, error) {
	var equity types.Equity
	err := tx.Where("symbol = ?", symbol).First(&equity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("symbol %s: %w", symbol, types.ErrEquityNotFound)
		}
		return nil, err
	}
	return &equity, nil
}

// openOppositeOrders returns the raw candidate set for a taker: same
// symbol, opposite side, open status, positive remainder. Price
// compatibility and priority ordering are applied by the engine.
func openOppositeOrders(tx *gorm.DB, taker *types.Order) ([]types.Order, error) {
	opposite := types.SideSell
	if taker.Side == types.SideSell {
		opposite = types.SideBuy
	}

	var orders []types.Order
	err := tx.
		Where("symbol = ? AND side = ? AND status IN ? AND remaining_quantity > 0 AND order_id <> ?",
			taker.Symbol, opposite, openStatuses, taker.OrderID).
		Find(&orders).Error
	return orders, err
}

// openOrderIDs lists every open order with a positive remainder, oldest
// entry first. Used by the bulk rematch.
func openOrderIDs(tx *gorm.DB) ([]string, error) {
	var ids []string
	err := tx.Model(&types.Order{}).
		Where("status IN ? AND remaining_quantity > 0", openStatuses).
		Order("entry_time ASC").
		Pluck("order_id", &ids).Error
	return ids, err
}

// appendOutbox writes the trade-matched event into the outbox inside the
// matching transaction. The dispatcher delivers it after commit.
func appendOutbox(tx *gorm.DB, event types.TradeMatchedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}
	return tx.Create(&types.OutboxEvent{
		EventID:   event.MatchID,
		EventType: types.EventTypeTradeMatched,
		Payload:   string(payload),
		Status:    types.OutboxStatusPending,
	}).Error
}
