// Package matching implements the order matching engine. Matching runs
// once per newly placed or amended order, inside that order's
// transaction; there is no background crossing loop and no in-memory
// book. Every pass re-reads open orders from storage, and the per-order
// row lock is what serializes concurrent attempts.
package matching

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/audit"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Engine matches taker orders against resting opposite-side makers in
// price-then-time priority.
type Engine struct {
	db  *gorm.DB
	cal *calendar.Service
}

func NewEngine(db *gorm.DB, cal *calendar.Service) *Engine {
	return &Engine{db: db, cal: cal}
}

// MatchOrder runs a full matching pass for the order in its own
// transaction.
func (e *Engine) MatchOrder(orderID string) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		return e.MatchOrderTx(tx, orderID)
	})
}

// MatchOrderTx runs a matching pass for the taker order inside the
// caller's transaction. Order placement and amendment call this so the
// reservation, the order row and its fills commit atomically.
func (e *Engine) MatchOrderTx(tx *gorm.DB, orderID string) error {
	logger := log.With().Str("service", "matching").Str("order_id", orderID).Logger()

	taker, err := orderForUpdate(tx, orderID)
	if err != nil {
		return err
	}

	ok, err := accountExists(tx, taker.AccountID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s references missing account %s: %w",
			taker.OrderID, taker.AccountID, types.ErrDataIntegrity)
	}

	equity, err := equityBySymbol(tx, taker.Symbol)
	if err != nil {
		return fmt.Errorf("order %s references missing equity: %w", taker.OrderID, types.ErrDataIntegrity)
	}

	today, err := e.cal.CurrentTradeDateTx(tx)
	if err != nil {
		return err
	}

	// A day order carried over from a previous trading date is stale. It
	// expires here with its reservation released, exactly as end-of-day
	// expiry would have done had it caught the order on its own day.
	if taker.OrderType == types.OrderTypeDay && !taker.OrderDate.Equal(today) {
		logger.Warn().Time("order_date", taker.OrderDate).Msg("day order stale, expiring")
		if taker.Side == types.SideBuy {
			if !taker.Price.Valid {
				return fmt.Errorf("buy order %s has no price to release against: %w",
					taker.OrderID, types.ErrDataIntegrity)
			}
			amount := taker.Price.Decimal.Mul(decimal.NewFromInt(taker.RemainingQuantity))
			if err := ledger.UnblockCash(tx, taker.AccountID, amount); err != nil {
				return err
			}
		} else {
			if err := ledger.UnblockStock(tx, taker.AccountID, taker.Symbol, taker.RemainingQuantity); err != nil {
				return err
			}
		}
		taker.Status = types.OrderStatusExpired
		if err := audit.LogStatusChange(tx, taker, types.OrderStatusExpired, "Day order expired"); err != nil {
			return err
		}
		if err := tx.Save(taker).Error; err != nil {
			return err
		}
		return audit.RecordHistory(tx, taker, nil, decimal.NullDecimal{}, time.Now())
	}

	if err := validateBandAndTick(taker, equity); err != nil {
		return err
	}

	candidates, err := e.collectMakers(tx, taker)
	if err != nil {
		return err
	}

	remaining := taker.RemainingQuantity
	filledTotal := int64(0)
	execTime := matchTimestamp(today)
	var lastExecPrice decimal.Decimal

	for i := range candidates {
		if remaining <= 0 {
			break
		}

		// Re-read under lock; the candidate scan ran without one and the
		// maker may have been filled or cancelled in between.
		maker, err := orderForUpdate(tx, candidates[i].OrderID)
		if err != nil {
			return err
		}
		if !maker.Status.IsOpen() || maker.RemainingQuantity <= 0 || !priceCompatible(taker, maker) {
			continue
		}

		matchQty := remaining
		if maker.RemainingQuantity < matchQty {
			matchQty = maker.RemainingQuantity
		}
		price := tradePrice(taker, maker)

		matchID, takerTradeID, makerTradeID, err := e.recordFill(tx, taker, maker, matchQty, price, execTime)
		if err != nil {
			return err
		}

		if err := e.updateMakerAfterFill(tx, maker, matchQty); err != nil {
			return err
		}

		remaining -= matchQty
		filledTotal += matchQty
		lastExecPrice = price

		logger.Debug().
			Str("match_id", matchID).
			Str("maker_order_id", maker.OrderID).
			Str("taker_trade_id", takerTradeID).
			Str("maker_trade_id", makerTradeID).
			Int64("quantity", matchQty).
			Str("price", price.String()).
			Msg("fill recorded")
	}

	return e.finalizeTaker(tx, taker, remaining, filledTotal, lastExecPrice)
}

// MatchAllOpenOrders re-attempts matching for every open order, each in
// its own transaction so one bad order does not block the rest. It reuses
// the single-order pass verbatim. Returns the number of orders processed
// and the number that failed.
func (e *Engine) MatchAllOpenOrders() (int, int, error) {
	var ids []string
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		ids, err = openOrderIDs(tx)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	failed := 0
	for _, id := range ids {
		if err := e.MatchOrder(id); err != nil {
			failed++
			log.Error().Err(err).
				Str("service", "matching").
				Str("order_id", id).
				Msg("bulk rematch failed for order")
		}
	}

	log.Info().
		Str("service", "matching").
		Int("processed", len(ids)).
		Int("failed", failed).
		Msg("bulk rematch completed")
	return len(ids), failed, nil
}

// collectMakers returns price-compatible opposite orders sorted by price
// priority (best for the taker first), then entry time.
func (e *Engine) collectMakers(tx *gorm.DB, taker *types.Order) ([]types.Order, error) {
	orders, err := openOppositeOrders(tx, taker)
	if err != nil {
		return nil, err
	}

	makers := orders[:0]
	for _, maker := range orders {
		if !maker.Price.Valid {
			// An unpriced market remainder cannot be priced as a maker.
			continue
		}
		if priceCompatible(taker, &maker) {
			makers = append(makers, maker)
		}
	}

	sort.SliceStable(makers, func(i, j int) bool {
		cmp := makers[i].Price.Decimal.Cmp(makers[j].Price.Decimal)
		if cmp != 0 {
			if taker.Side == types.SideBuy {
				return cmp < 0 // cheapest ask first
			}
			return cmp > 0 // highest bid first
		}
		return makers[i].EntryTime.Before(makers[j].EntryTime)
	})
	return makers, nil
}

// priceCompatible reports whether the taker may cross the maker. Market
// takers are compatible with any priced maker; a limit taker's limit must
// not be worse than the maker's.
func priceCompatible(taker, maker *types.Order) bool {
	if taker.OrderType == types.OrderTypeMarket {
		return true
	}
	if !taker.Price.Valid || !maker.Price.Valid {
		return false
	}
	if taker.Side == types.SideBuy {
		return taker.Price.Decimal.GreaterThanOrEqual(maker.Price.Decimal)
	}
	return taker.Price.Decimal.LessThanOrEqual(maker.Price.Decimal)
}

// tradePrice is the maker's price, bounded by the taker's own limit when
// it carries one, so the taker never trades through its limit.
func tradePrice(taker, maker *types.Order) decimal.Decimal {
	makerPrice := maker.Price.Decimal
	if !taker.Price.Valid {
		return makerPrice
	}
	takerPrice := taker.Price.Decimal
	if taker.Side == types.SideBuy {
		return decimal.Min(takerPrice, makerPrice)
	}
	return decimal.Max(takerPrice, makerPrice)
}

// validateBandAndTick applies the optional pre-trade checks: price within
// ±10% of the reference price, and price aligned to the tick size. Absent
// metadata means the check is skipped, not an error.
func validateBandAndTick(order *types.Order, equity *types.Equity) error {
	if !order.Price.Valid {
		return nil
	}
	price := order.Price.Decimal

	if equity.ReferencePrice.Valid {
		ref := equity.ReferencePrice.Decimal
		upper := ref.Mul(decimal.NewFromFloat(1.10))
		lower := ref.Mul(decimal.NewFromFloat(0.90))
		if price.LessThan(lower) || price.GreaterThan(upper) {
			return &types.ValidationError{
				Message: fmt.Sprintf("price %s outside ±10%% band of reference %s", price, ref),
			}
		}
	}

	if equity.TickSize.Valid && equity.TickSize.Decimal.Sign() > 0 {
		if !price.Mod(equity.TickSize.Decimal).IsZero() {
			return &types.ValidationError{
				Message: fmt.Sprintf("price %s not aligned to tick size %s", price, equity.TickSize.Decimal),
			}
		}
	}

	return nil
}

// matchTimestamp pins the wall-clock time of day onto the current trade
// date. Settlement selects matches by trade date, so a fill recorded
// after the calendar has advanced past the wall clock still lands in the
// right settlement window.
func matchTimestamp(tradeDate time.Time) time.Time {
	now := time.Now().UTC()
	return tradeDate.Add(now.Sub(now.Truncate(24 * time.Hour)))
}

// recordFill creates the Match row, both trade legs and the outbox event
// for one crossing. The match-group id is a UUID generated here, inside
// the transaction that creates the rows.
func (e *Engine) recordFill(tx *gorm.DB, taker, maker *types.Order,
	quantity int64, price decimal.Decimal, now time.Time) (matchID, takerTradeID, makerTradeID string, err error) {

	matchID = uuid.New().String()

	buyOrder, sellOrder := taker, maker
	if taker.Side == types.SideSell {
		buyOrder, sellOrder = maker, taker
	}

	if err = tx.Create(&types.Match{
		MatchID:     matchID,
		BuyOrderID:  buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
		MatchedAt:   now,
	}).Error; err != nil {
		return "", "", "", err
	}

	makeTrade := func(orderID string) (*types.Trade, error) {
		trade := &types.Trade{
			TradeID:    uuid.New().String(),
			MatchID:    matchID,
			OrderID:    orderID,
			Quantity:   quantity,
			Price:      price,
			Commission: decimal.Zero,
			Status:     types.TradeStatusMatched,
			ExecutedAt: now,
		}
		return trade, tx.Create(trade).Error
	}

	buyTrade, err := makeTrade(buyOrder.OrderID)
	if err != nil {
		return "", "", "", err
	}
	sellTrade, err := makeTrade(sellOrder.OrderID)
	if err != nil {
		return "", "", "", err
	}

	err = appendOutbox(tx, types.TradeMatchedEvent{
		MatchID:     matchID,
		BuyOrderID:  buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
		BuyTradeID:  buyTrade.TradeID,
		SellTradeID: sellTrade.TradeID,
		Quantity:    quantity,
		Price:       price,
		Timestamp:   now,
	})
	if err != nil {
		return "", "", "", err
	}

	if taker.Side == types.SideBuy {
		takerTradeID, makerTradeID = buyTrade.TradeID, sellTrade.TradeID
	} else {
		takerTradeID, makerTradeID = sellTrade.TradeID, buyTrade.TradeID
	}
	return matchID, takerTradeID, makerTradeID, nil
}

func (e *Engine) updateMakerAfterFill(tx *gorm.DB, maker *types.Order, quantity int64) error {
	maker.RemainingQuantity -= quantity
	if maker.RemainingQuantity < 0 {
		maker.RemainingQuantity = 0
	}

	message := "Order partially matched"
	maker.Status = types.OrderStatusPartiallyFilled
	if maker.RemainingQuantity == 0 {
		maker.Status = types.OrderStatusFilled
		message = "Order fully matched/filled"
	}

	if err := audit.LogStatusChange(tx, maker, maker.Status, message); err != nil {
		return err
	}
	if err := tx.Save(maker).Error; err != nil {
		return err
	}
	return audit.RecordHistory(tx, maker, nil, decimal.NullDecimal{}, time.Now())
}

// finalizeTaker applies the post-walk status rules: filled, market
// remainder converted to a resting day order at the last executed price,
// or resting as-is.
func (e *Engine) finalizeTaker(tx *gorm.DB, taker *types.Order,
	remaining, filledTotal int64, lastExecPrice decimal.Decimal) error {

	taker.RemainingQuantity = remaining

	switch {
	case remaining == 0:
		taker.Status = types.OrderStatusFilled
		if err := audit.LogStatusChange(tx, taker, taker.Status, "Order fully matched/filled"); err != nil {
			return err
		}

	case taker.OrderType == types.OrderTypeMarket:
		if filledTotal > 0 {
			// Market-to-limit: the remainder rests as a day order at the
			// last executed price.
			taker.OrderType = types.OrderTypeDay
			taker.Price = decimal.NewNullDecimal(lastExecPrice)
			taker.Status = types.OrderStatusPartiallyFilled
			if err := audit.LogStatusChange(tx, taker, taker.Status,
				"MTL: remainder resting at last executed price"); err != nil {
				return err
			}
		} else {
			taker.Status = types.OrderStatusPending
			if err := audit.LogStatusChange(tx, taker, taker.Status,
				"Market order pending: awaiting opposite liquidity"); err != nil {
				return err
			}
		}

	default:
		if filledTotal > 0 {
			taker.Status = types.OrderStatusPartiallyFilled
			if err := audit.LogStatusChange(tx, taker, taker.Status, "Order partially matched"); err != nil {
				return err
			}
		}
		// No fills: the order rests in its current status (PENDING or
		// UPDATED), nothing to log.
	}

	if err := tx.Save(taker).Error; err != nil {
		return err
	}
	return audit.RecordHistory(tx, taker, nil, decimal.NullDecimal{}, time.Now())
}
