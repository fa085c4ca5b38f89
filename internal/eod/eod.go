// Package eod orchestrates the end-of-day run: expire the day's leftover
// orders, settle the matches that have reached T+2, and advance the
// trading date — all in one transaction so a partial run is never
// observable.
package eod

import (
	"github.com/gin-gonic/gin"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/expiry"
	"github.com/munal98/fintra-stock-trading-sub001/internal/matching"
	"github.com/munal98/fintra-stock-trading-sub001/internal/settlement"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Result summarizes one end-of-day run.
type Result struct {
	TradeDate      string `json:"trade_date"`
	SettlementDate string `json:"settlement_date"`
	NextTradeDate  string `json:"next_trade_date"`
	ExpiredOrders  int    `json:"expired_orders"`
	SettledMatches int    `json:"settled_matches"`
}

// Service is the end-of-day orchestrator.
type Service struct {
	db         *gorm.DB
	cal        *calendar.Service
	expiry     *expiry.Service
	settlement *settlement.Service
	engine     *matching.Engine
}

func NewService(db *gorm.DB, cal *calendar.Service, exp *expiry.Service,
	set *settlement.Service, engine *matching.Engine) *Service {
	return &Service{db: db, cal: cal, expiry: exp, settlement: set, engine: engine}
}

// RunEndOfDay executes expiry, T+2 settlement and the calendar advance in
// strict order inside a single transaction.
func (s *Service) RunEndOfDay() (*Result, error) {
	var result Result
	err := s.db.Transaction(func(tx *gorm.DB) error {
		today, err := s.cal.CurrentTradeDateTx(tx)
		if err != nil {
			return err
		}
		settlementDate := calendar.BusinessDayBefore(today, 2)
		nextDate := calendar.BusinessDayAfter(today, 1)

		expired, err := s.expiry.ExpireOldOrdersTx(tx, today)
		if err != nil {
			return err
		}
		settled, err := s.settlement.SettleTradesOnDateTx(tx, settlementDate)
		if err != nil {
			return err
		}
		if err := s.cal.AdvanceTradeDateTx(tx, nextDate); err != nil {
			return err
		}

		result = Result{
			TradeDate:      today.Format("2006-01-02"),
			SettlementDate: settlementDate.Format("2006-01-02"),
			NextTradeDate:  nextDate.Format("2006-01-02"),
			ExpiredOrders:  expired,
			SettledMatches: settled,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "eod").
		Str("trade_date", result.TradeDate).
		Str("next_trade_date", result.NextTradeDate).
		Int("expired_orders", result.ExpiredOrders).
		Int("settled_matches", result.SettledMatches).
		Msg("end of day completed")
	return &result, nil
}

// GinHandlers contains HTTP handlers for the administrative EOD and
// rematch triggers.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) RunEndOfDayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.RunEndOfDay()
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) RematchAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		processed, failed, err := h.service.engine.MatchAllOpenOrders()
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"processed": processed, "failed": failed})
	}
}
