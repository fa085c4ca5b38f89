package migrations

import (
	"gorm.io/gorm"
)

// AddBookScanIndexes creates the composite indexes behind the hot queries:
// the matching engine's candidate scan and the settlement date window.
// Raw SQL is used for control over the index shapes.
func AddBookScanIndexes(db *gorm.DB) error {
	indexes := []string{
		// Candidate scan: open orders per symbol and side
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_side_status
		 ON orders(symbol, side, status)`,

		// Expiry: open orders by trading date
		`CREATE INDEX IF NOT EXISTS idx_orders_status_order_date
		 ON orders(status, order_date)`,

		// Settlement: trade lookup per match and order
		`CREATE INDEX IF NOT EXISTS idx_trades_match_order
		 ON trades(match_id, order_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
