package trading

import (
	"errors"
	"fmt"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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

func requireAccount(tx *gorm.DB, accountID string) error {
	var account types.Account
	if err := tx.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %s: %w", accountID, types.ErrAccountNotFound)
		}
		return err
	}
	return nil
}

func requireEquity(tx *gorm.DB, symbol string) (*types.Equity, error) {
	var equity types.Equity
	if err := tx.Where("symbol = ?", symbol).First(&equity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("symbol %s: %w", symbol, types.ErrEquityNotFound)
		}
		return nil, err
	}
	return &equity, nil
}

func getOrder(db *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	err := db.Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrOrderNotFound)
		}
		return nil, err
	}
	return &order, nil
}

func listOrdersByAccount(db *gorm.DB, accountID string) ([]types.Order, error) {
	var orders []types.Order
	err := db.Where("account_id = ?", accountID).
		Order("entry_time ASC").
		Find(&orders).Error
	return orders, err
}
