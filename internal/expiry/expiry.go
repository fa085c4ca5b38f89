// Package expiry transitions the day's leftover open orders to EXPIRED at
// end of day, releasing the reservation still backing each unfilled
// remainder.
package expiry

import (
	"fmt"
	"time"

	"github.com/munal98/fintra-stock-trading-sub001/internal/audit"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service expires open orders dated the current trading day.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ExpireOldOrders runs ExpireOldOrdersTx in its own transaction.
func (s *Service) ExpireOldOrders(today time.Time) (int, error) {
	var expired int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		expired, err = s.ExpireOldOrdersTx(tx, today)
		return err
	})
	return expired, err
}

// ExpireOldOrdersTx expires every open order whose order date equals
// today. Each order is handled in its own savepoint so a data-integrity
// failure on one order does not block the rest. Returns the number of
// orders actually transitioned.
func (s *Service) ExpireOldOrdersTx(tx *gorm.DB, today time.Time) (int, error) {
	logger := log.With().Str("service", "expiry").Time("order_date", today).Logger()

	var orders []types.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status IN ? AND order_date = ?",
			[]types.OrderStatus{
				types.OrderStatusPending,
				types.OrderStatusPartiallyFilled,
				types.OrderStatusUpdated,
			}, today).
		Find(&orders).Error
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		logger.Info().Msg("no open orders to expire")
		return 0, nil
	}

	expired := 0
	failed := 0
	for i := range orders {
		order := &orders[i]
		err := tx.Transaction(func(sp *gorm.DB) error {
			return s.expireOrder(sp, order)
		})
		if err != nil {
			failed++
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to expire order")
			continue
		}
		expired++
	}

	logger.Info().Int("expired", expired).Int("failed", failed).Msg("expiry run completed")
	return expired, nil
}

// expireOrder releases the remainder's reservation and finalizes the
// order as EXPIRED.
func (s *Service) expireOrder(tx *gorm.DB, order *types.Order) error {
	if order.RemainingQuantity <= 0 {
		return fmt.Errorf("order %s has invalid remaining quantity %d: %w",
			order.OrderID, order.RemainingQuantity, types.ErrDataIntegrity)
	}

	var count int64
	if err := tx.Model(&types.Account{}).
		Where("account_id = ?", order.AccountID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("order %s references missing account %s: %w",
			order.OrderID, order.AccountID, types.ErrDataIntegrity)
	}

	if order.Side == types.SideBuy {
		if !order.Price.Valid {
			return fmt.Errorf("buy order %s has no price to release against: %w",
				order.OrderID, types.ErrDataIntegrity)
		}
		amount := order.Price.Decimal.Mul(decimal.NewFromInt(order.RemainingQuantity))
		if err := ledger.UnblockCash(tx, order.AccountID, amount); err != nil {
			return err
		}
	} else {
		if err := ledger.UnblockStock(tx, order.AccountID, order.Symbol, order.RemainingQuantity); err != nil {
			return err
		}
	}

	order.Status = types.OrderStatusExpired
	if err := tx.Save(order).Error; err != nil {
		return err
	}
	if err := audit.LogStatusChange(tx, order, types.OrderStatusExpired, "Order expired at end of day"); err != nil {
		return err
	}
	return audit.RecordHistory(tx, order, nil, decimal.NullDecimal{}, time.Now())
}
