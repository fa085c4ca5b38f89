// Package audit writes the order history snapshots and the order log.
// Both are append-only; history rows additionally dedup against the most
// recent row so repeated no-change writes do not flood the trail.
package audit

import (
	"errors"
	"time"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecordHistory captures the order's state before the just-applied change.
// oldQuantity/oldPrice override the order's current values when the caller
// knows the pre-change values (amend); otherwise the current values are
// snapshotted. If the latest history row for the order already carries
// identical status, side, type, quantity and price, nothing is written.
func RecordHistory(tx *gorm.DB, order *types.Order, oldQuantity *int64,
	oldPrice decimal.NullDecimal, transactionTime time.Time) error {

	quantity := order.Quantity
	if oldQuantity != nil {
		quantity = *oldQuantity
	}
	price := order.Price
	if oldPrice.Valid {
		price = oldPrice
	}
	when := transactionTime.Truncate(time.Second)

	var last types.OrderHistory
	err := tx.Where("order_id = ?", order.OrderID).
		Order("transaction_time DESC, id DESC").
		First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		noChange := last.Status == order.Status &&
			last.Side == order.Side &&
			last.OrderType == order.OrderType &&
			last.OldQuantity == quantity &&
			nullDecimalEqual(last.OldPrice, price)
		if noChange {
			return nil
		}
	}

	return tx.Create(&types.OrderHistory{
		OrderID:         order.OrderID,
		OldQuantity:     quantity,
		OldPrice:        price,
		Status:          order.Status,
		Side:            order.Side,
		OrderType:       order.OrderType,
		TransactionTime: when,
	}).Error
}

// LogStatusChange appends an order log row describing a status transition.
func LogStatusChange(tx *gorm.DB, order *types.Order, status types.OrderStatus, message string) error {
	return tx.Create(&types.OrderLog{
		OrderID:  order.OrderID,
		Status:   status,
		Message:  message,
		LoggedAt: time.Now(),
	}).Error
}

// ListHistory returns the order's history rows, oldest first.
func ListHistory(db *gorm.DB, orderID string) ([]types.OrderHistory, error) {
	var rows []types.OrderHistory
	err := db.Where("order_id = ?", orderID).
		Order("transaction_time ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ListLogs returns the order's log rows, oldest first.
func ListLogs(db *gorm.DB, orderID string) ([]types.OrderLog, error) {
	var rows []types.OrderLog
	err := db.Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.Decimal.Equal(b.Decimal)
}
