package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"gorm.io/gorm"
)

// matchesOnDate returns matches whose match timestamp falls within the
// calendar day of tradeDate.
func matchesOnDate(tx *gorm.DB, tradeDate time.Time) ([]types.Match, error) {
	start := time.Date(tradeDate.Year(), tradeDate.Month(), tradeDate.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	var matches []types.Match
	err := tx.Where("matched_at >= ? AND matched_at < ?", start, end).
		Order("matched_at ASC").
		Find(&matches).Error
	return matches, err
}

func orderByID(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	err := tx.Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrOrderNotFound)
		}
		return nil, err
	}
	return &order, nil
}

func tradeByMatchAndOrder(tx *gorm.DB, matchID, orderID string) (*types.Trade, error) {
	var trade types.Trade
	err := tx.Where("match_id = ? AND order_id = ?", matchID, orderID).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("trade for match %s order %s: %w",
				matchID, orderID, types.ErrDataIntegrity)
		}
		return nil, err
	}
	return &trade, nil
}
