// Package calendar provides weekend-aware business-day arithmetic and the
// simulated trading date the whole engine runs on.
package calendar

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const systemDateRowID = 1

// Day truncates t to midnight UTC, the canonical form for trading dates.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// BusinessDayBefore steps back one calendar day at a time, counting only
// weekdays, until n business days have been counted.
func BusinessDayBefore(from time.Time, n int) time.Time {
	cursor := Day(from)
	moved := 0
	for moved < n {
		cursor = cursor.AddDate(0, 0, -1)
		if !isWeekend(cursor) {
			moved++
		}
	}
	return cursor
}

// BusinessDayAfter steps forward one calendar day at a time, counting only
// weekdays, until n business days have been counted.
func BusinessDayAfter(from time.Time, n int) time.Time {
	cursor := Day(from)
	moved := 0
	for moved < n {
		cursor = cursor.AddDate(0, 0, 1)
		if !isWeekend(cursor) {
			moved++
		}
	}
	return cursor
}

// Service is the accessor for the persistent trading date. Every
// date-sensitive code path reads the date through here; only the EOD
// orchestrator advances it.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CurrentTradeDateTx returns the trading date, creating the row from the
// wall-clock date on first use.
func (s *Service) CurrentTradeDateTx(tx *gorm.DB) (time.Time, error) {
	var row types.SystemDate
	err := tx.First(&row, systemDateRowID).Error
	if err == nil {
		return Day(row.TradeDate), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, err
	}

	row = types.SystemDate{ID: systemDateRowID, TradeDate: Day(time.Now().UTC())}
	if err := tx.Create(&row).Error; err != nil {
		return time.Time{}, err
	}
	log.Info().
		Str("service", "calendar").
		Time("trade_date", row.TradeDate).
		Msg("system date initialized")
	return row.TradeDate, nil
}

// CurrentTradeDate is CurrentTradeDateTx in its own transaction.
func (s *Service) CurrentTradeDate() (time.Time, error) {
	var date time.Time
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		date, err = s.CurrentTradeDateTx(tx)
		return err
	})
	return date, err
}

// AdvanceTradeDateTx sets the trading date to next. Called exactly once
// per EOD run, inside the EOD transaction.
func (s *Service) AdvanceTradeDateTx(tx *gorm.DB, next time.Time) error {
	result := tx.Model(&types.SystemDate{}).
		Where("id = ?", systemDateRowID).
		Update("trade_date", Day(next))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("system date row not initialized")
	}
	return nil
}

// GinHandlers contains HTTP handlers for system-date endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetSystemDateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := h.service.CurrentTradeDate()
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"trade_date": date.Format("2006-01-02")})
	}
}
