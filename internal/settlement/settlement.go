// Package settlement settles matched trades on a T+2 cycle. Each match is
// settled exactly once: cash moves from buyer to seller, the buyer's
// position is credited at a commission-inclusive average cost, the
// seller's blocked shares leave the account, and both trade legs flip to
// SETTLED.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service settles the trades of recorded matches.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// SettleTradesOnDate runs SettleTradesOnDateTx in its own transaction.
func (s *Service) SettleTradesOnDate(tradeDate time.Time) (int, error) {
	var settled int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		settled, err = s.SettleTradesOnDateTx(tx, tradeDate)
		return err
	})
	return settled, err
}

// SettleTradesOnDateTx settles every match whose match timestamp falls on
// tradeDate. Each match settles inside its own savepoint so one bad match
// does not roll back the others. Returns the number of matches actually
// settled; already-settled matches are skipped and not counted.
func (s *Service) SettleTradesOnDateTx(tx *gorm.DB, tradeDate time.Time) (int, error) {
	logger := log.With().Str("service", "settlement").Time("trade_date", tradeDate).Logger()

	matches, err := matchesOnDate(tx, tradeDate)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		logger.Info().Msg("no matches to settle")
		return 0, nil
	}

	logger.Info().Int("matches", len(matches)).Msg("starting settlement run")

	settled := 0
	failed := 0
	for i := range matches {
		match := &matches[i]
		var done bool
		err := tx.Transaction(func(sp *gorm.DB) error {
			var err error
			done, err = s.settleMatch(sp, match)
			return err
		})
		if err != nil {
			failed++
			logger.Error().Err(err).Str("match_id", match.MatchID).Msg("failed to settle match")
			continue
		}
		if done {
			settled++
		}
	}

	logger.Info().
		Int("settled", settled).
		Int("skipped", len(matches)-settled-failed).
		Int("failed", failed).
		Msg("settlement run completed")
	return settled, nil
}

// settleMatch settles both legs of one match. Returns false without error
// when the match needs no work (already settled, or half-settled which is
// logged and left alone).
func (s *Service) settleMatch(tx *gorm.DB, match *types.Match) (bool, error) {
	buyOrder, err := orderByID(tx, match.BuyOrderID)
	if err != nil {
		return false, fmt.Errorf("match %s buy order: %w", match.MatchID, err)
	}
	sellOrder, err := orderByID(tx, match.SellOrderID)
	if err != nil {
		return false, fmt.Errorf("match %s sell order: %w", match.MatchID, err)
	}

	buyTrade, err := tradeByMatchAndOrder(tx, match.MatchID, buyOrder.OrderID)
	if err != nil {
		return false, fmt.Errorf("match %s buy trade: %w", match.MatchID, err)
	}
	sellTrade, err := tradeByMatchAndOrder(tx, match.MatchID, sellOrder.OrderID)
	if err != nil {
		return false, fmt.Errorf("match %s sell trade: %w", match.MatchID, err)
	}

	if buyTrade.Status == types.TradeStatusSettled && sellTrade.Status == types.TradeStatusSettled {
		log.Debug().
			Str("service", "settlement").
			Str("match_id", match.MatchID).
			Msg("match already settled, skipping")
		return false, nil
	}
	if buyTrade.Status == types.TradeStatusSettled || sellTrade.Status == types.TradeStatusSettled {
		// Half-settled pairs are a data defect; never auto-repaired.
		log.Warn().
			Str("service", "settlement").
			Str("match_id", match.MatchID).
			Str("buy_trade_status", string(buyTrade.Status)).
			Str("sell_trade_status", string(sellTrade.Status)).
			Msg("partial settlement detected, skipping")
		return false, nil
	}

	if err := validateTradePair(match, buyTrade, sellTrade); err != nil {
		return false, err
	}

	quantity := buyTrade.Quantity
	price := buyTrade.Price
	gross := price.Mul(decimal.NewFromInt(quantity))

	if err := ledger.TransferCash(tx, buyOrder.AccountID, sellOrder.AccountID, gross); err != nil {
		return false, fmt.Errorf("match %s cash transfer: %w", match.MatchID, err)
	}

	// Buyer: the blocked reservation pays for the trade plus commission,
	// and the shares arrive at a commission-inclusive average cost.
	if err := ledger.ReduceBlockedCash(tx, buyOrder.AccountID, gross.Add(buyTrade.Commission)); err != nil {
		return false, fmt.Errorf("match %s buyer side: %w", match.MatchID, err)
	}
	if err := ledger.CreditPosition(tx, buyOrder.AccountID, buyOrder.Symbol,
		quantity, price, buyTrade.Commission); err != nil {
		return false, fmt.Errorf("match %s buyer position: %w", match.MatchID, err)
	}

	// Seller: blocked shares leave the account, proceeds arrive net of
	// commission.
	if err := ledger.ReleaseBlockedStock(tx, sellOrder.AccountID, sellOrder.Symbol, quantity); err != nil {
		return false, fmt.Errorf("match %s seller side: %w", match.MatchID, err)
	}
	if err := ledger.AddFreeCash(tx, sellOrder.AccountID, gross.Sub(sellTrade.Commission)); err != nil {
		return false, fmt.Errorf("match %s seller proceeds: %w", match.MatchID, err)
	}

	buyTrade.Status = types.TradeStatusSettled
	sellTrade.Status = types.TradeStatusSettled
	if err := tx.Save(buyTrade).Error; err != nil {
		return false, err
	}
	if err := tx.Save(sellTrade).Error; err != nil {
		return false, err
	}

	now := time.Now()
	if err := createDistribution(tx, buyOrder, quantity, price, now); err != nil {
		return false, fmt.Errorf("match %s buy distribution: %w", match.MatchID, err)
	}
	if err := createDistribution(tx, sellOrder, quantity, price, now); err != nil {
		return false, fmt.Errorf("match %s sell distribution: %w", match.MatchID, err)
	}

	log.Debug().
		Str("service", "settlement").
		Str("match_id", match.MatchID).
		Int64("quantity", quantity).
		Str("price", price.String()).
		Msg("match settled")
	return true, nil
}

// validateTradePair rejects matches whose legs disagree before any balance
// moves.
func validateTradePair(match *types.Match, buyTrade, sellTrade *types.Trade) error {
	if buyTrade.Quantity <= 0 {
		return fmt.Errorf("match %s has invalid trade quantity %d: %w",
			match.MatchID, buyTrade.Quantity, types.ErrDataIntegrity)
	}
	if buyTrade.Price.Sign() <= 0 {
		return fmt.Errorf("match %s has invalid price %s: %w",
			match.MatchID, buyTrade.Price, types.ErrDataIntegrity)
	}
	if buyTrade.Quantity != sellTrade.Quantity || !buyTrade.Price.Equal(sellTrade.Price) {
		return fmt.Errorf("match %s has inconsistent trade legs (buy %d@%s, sell %d@%s): %w",
			match.MatchID, buyTrade.Quantity, buyTrade.Price,
			sellTrade.Quantity, sellTrade.Price, types.ErrDataIntegrity)
	}
	return nil
}

func createDistribution(tx *gorm.DB, order *types.Order, quantity int64,
	price decimal.Decimal, settledAt time.Time) error {

	return tx.Create(&types.Distribution{
		DistributionID: uuid.New().String(),
		OrderID:        order.OrderID,
		AccountID:      order.AccountID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       quantity,
		Price:          price,
		SettledAt:      settledAt,
	}).Error
}
