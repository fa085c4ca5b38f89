// Package orderbook builds a read-only price-level view of the resting
// orders for a symbol. There is no in-memory book; the view is assembled
// from storage on every request.
package orderbook

import (
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Level is one aggregated price level of the book.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Book is the two-sided view for one symbol. Bids are sorted best (highest)
// first, asks best (lowest) first.
type Book struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// Service assembles book views.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetBook returns the aggregated book for symbol. Unpriced market
// remainders are excluded: they have no level to rest at.
func (s *Service) GetBook(symbol string) (*Book, error) {
	var orders []types.Order
	err := s.db.
		Where("symbol = ? AND status IN ? AND remaining_quantity > 0",
			symbol, []types.OrderStatus{
				types.OrderStatusPending,
				types.OrderStatusPartiallyFilled,
				types.OrderStatusUpdated,
			}).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	priced := lo.Filter(orders, func(o types.Order, _ int) bool {
		return o.Price.Valid
	})
	bySide := lo.GroupBy(priced, func(o types.Order) types.OrderSide {
		return o.Side
	})

	return &Book{
		Symbol: symbol,
		Bids:   aggregate(bySide[types.SideBuy], true),
		Asks:   aggregate(bySide[types.SideSell], false),
	}, nil
}

// aggregate collapses orders into price levels and sorts them best-first
// for the given side.
func aggregate(orders []types.Order, descending bool) []Level {
	byPrice := lo.GroupBy(orders, func(o types.Order) string {
		return o.Price.Decimal.String()
	})

	levels := lo.MapToSlice(byPrice, func(_ string, group []types.Order) Level {
		return Level{
			Price: group[0].Price.Decimal,
			Quantity: lo.SumBy(group, func(o types.Order) int64 {
				return o.RemainingQuantity
			}),
			Orders: len(group),
		}
	})

	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

// GinHandlers contains HTTP handlers for order book endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		book, err := h.service.GetBook(c.Param("symbol"))
		response.Handle(c, book, err)
	}
}
