// Package trading implements the order lifecycle: placement with upfront
// reservation, amendment, cancellation and read access to orders and
// their audit trail. Each mutation runs in a single transaction together
// with the reservation move and a synchronous matching pass.
package trading

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/audit"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/matching"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns order placement, amendment and cancellation.
type Service struct {
	db     *gorm.DB
	cal    *calendar.Service
	engine *matching.Engine
}

func NewService(db *gorm.DB, cal *calendar.Service, engine *matching.Engine) *Service {
	return &Service{db: db, cal: cal, engine: engine}
}

// OrderRequest is the input for placing a new order.
type OrderRequest struct {
	AccountID string              `json:"account_id" binding:"required"`
	Symbol    string              `json:"symbol" binding:"required"`
	Side      types.OrderSide     `json:"side" binding:"required"`
	OrderType types.OrderType     `json:"order_type" binding:"required"`
	Quantity  int64               `json:"quantity" binding:"required"`
	Price     decimal.NullDecimal `json:"price"`
}

func (r *OrderRequest) validate() error {
	if r.Side != types.SideBuy && r.Side != types.SideSell {
		return &types.ValidationError{Message: fmt.Sprintf("invalid side %q", r.Side)}
	}
	switch r.OrderType {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeDay:
	default:
		return &types.ValidationError{Message: fmt.Sprintf("invalid order type %q", r.OrderType)}
	}
	if r.Quantity <= 0 {
		return &types.ValidationError{Message: "quantity must be positive"}
	}
	if r.Price.Valid && r.Price.Decimal.Sign() <= 0 {
		return &types.ValidationError{Message: "price must be positive"}
	}
	if r.OrderType != types.OrderTypeMarket && !r.Price.Valid {
		return &types.ValidationError{Message: "limit and day orders require a price"}
	}
	// A buy reservation is price*quantity, so even a market buy must
	// carry a price to bound the block.
	if r.Side == types.SideBuy && !r.Price.Valid {
		return &types.ValidationError{Message: "buy orders require a price"}
	}
	return nil
}

// PlaceOrder reserves the resources the order may consume, creates it as
// PENDING on the current trading date and runs a matching pass, all in
// one transaction. If any step fails nothing is kept.
func (s *Service) PlaceOrder(req *OrderRequest) (*types.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	order := &types.Order{
		OrderID:           uuid.New().String(),
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderType:         req.OrderType,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Price:             req.Price,
		Status:            types.OrderStatusPending,
		EntryTime:         time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := requireAccount(tx, req.AccountID); err != nil {
			return err
		}
		if _, err := requireEquity(tx, req.Symbol); err != nil {
			return err
		}

		today, err := s.cal.CurrentTradeDateTx(tx)
		if err != nil {
			return err
		}
		order.OrderDate = today

		if err := s.reserve(tx, order, order.RemainingQuantity, order.Price); err != nil {
			return err
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if err := audit.LogStatusChange(tx, order, types.OrderStatusPending, "Order accepted"); err != nil {
			return err
		}
		if err := audit.RecordHistory(tx, order, nil, decimal.NullDecimal{}, time.Now()); err != nil {
			return err
		}
		if err := s.engine.MatchOrderTx(tx, order.OrderID); err != nil {
			return err
		}

		// Reload: the matching pass may have filled or converted the order.
		reloaded, err := getOrder(tx, order.OrderID)
		if err != nil {
			return err
		}
		*order = *reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "trading").
		Str("order_id", order.OrderID).
		Str("account_id", order.AccountID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("status", string(order.Status)).
		Int64("quantity", order.Quantity).
		Msg("order placed")
	return order, nil
}

// reserve blocks the resources backing quantity units of the order: cash
// (price*quantity) for a buy, shares for a sell.
func (s *Service) reserve(tx *gorm.DB, order *types.Order, quantity int64, price decimal.NullDecimal) error {
	if order.Side == types.SideBuy {
		amount := price.Decimal.Mul(decimal.NewFromInt(quantity))
		return ledger.BlockCash(tx, order.AccountID, amount)
	}
	return ledger.BlockStock(tx, order.AccountID, order.Symbol, quantity)
}

// release unblocks the reservation backing quantity units of the order.
func (s *Service) release(tx *gorm.DB, order *types.Order, quantity int64, price decimal.NullDecimal) error {
	if quantity <= 0 {
		return nil
	}
	if order.Side == types.SideBuy {
		amount := price.Decimal.Mul(decimal.NewFromInt(quantity))
		return ledger.UnblockCash(tx, order.AccountID, amount)
	}
	return ledger.UnblockStock(tx, order.AccountID, order.Symbol, quantity)
}

// AmendRequest is the input for updating an order's quantity and price.
type AmendRequest struct {
	Quantity int64               `json:"quantity" binding:"required"`
	Price    decimal.NullDecimal `json:"price" binding:"required"`
}

// UpdateOrder replaces the order's quantity and price. Only orders that
// have not yet traded (PENDING or UPDATED) are amendable; the old
// reservation is released, the new one blocked, and the order re-enters
// matching as UPDATED.
func (s *Service) UpdateOrder(orderID string, req *AmendRequest) (*types.Order, error) {
	if req.Quantity <= 0 {
		return nil, &types.ValidationError{Message: "quantity must be positive"}
	}
	if !req.Price.Valid || req.Price.Decimal.Sign() <= 0 {
		return nil, &types.ValidationError{Message: "price must be positive"}
	}

	var order *types.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = orderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != types.OrderStatusPending && order.Status != types.OrderStatusUpdated {
			return fmt.Errorf("order %s in status %s: %w",
				orderID, order.Status, types.ErrOrderNotAmendable)
		}

		oldQuantity := order.Quantity
		oldPrice := order.Price

		if err := s.release(tx, order, order.RemainingQuantity, order.Price); err != nil {
			return err
		}

		order.Quantity = req.Quantity
		order.RemainingQuantity = req.Quantity
		order.Price = req.Price
		order.Status = types.OrderStatusUpdated
		if order.OrderType == types.OrderTypeMarket {
			order.OrderType = types.OrderTypeLimit
		}

		if err := s.reserve(tx, order, order.RemainingQuantity, order.Price); err != nil {
			return err
		}
		if err := tx.Save(order).Error; err != nil {
			return err
		}
		if err := audit.LogStatusChange(tx, order, types.OrderStatusUpdated, "Order amended"); err != nil {
			return err
		}
		if err := audit.RecordHistory(tx, order, &oldQuantity, oldPrice, time.Now()); err != nil {
			return err
		}
		if err := s.engine.MatchOrderTx(tx, order.OrderID); err != nil {
			return err
		}

		reloaded, err := getOrder(tx, order.OrderID)
		if err != nil {
			return err
		}
		*order = *reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "trading").
		Str("order_id", orderID).
		Int64("quantity", order.Quantity).
		Str("status", string(order.Status)).
		Msg("order amended")
	return order, nil
}

// CancelOrder cancels an open order, releasing only the reservation still
// backing its unfilled remainder.
func (s *Service) CancelOrder(orderID string) (*types.Order, error) {
	var order *types.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = orderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.IsFinal() {
			return fmt.Errorf("order %s in status %s: %w",
				orderID, order.Status, types.ErrOrderNotCancellable)
		}

		if err := s.release(tx, order, order.RemainingQuantity, order.Price); err != nil {
			return err
		}

		order.Status = types.OrderStatusCancelled
		if err := tx.Save(order).Error; err != nil {
			return err
		}
		if err := audit.LogStatusChange(tx, order, types.OrderStatusCancelled, "Order cancelled"); err != nil {
			return err
		}
		return audit.RecordHistory(tx, order, nil, decimal.NullDecimal{}, time.Now())
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "trading").
		Str("order_id", orderID).
		Msg("order cancelled")
	return order, nil
}

// GetOrder returns the order by its public id.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return getOrder(s.db, orderID)
}

// ListOrders returns an account's orders, oldest first.
func (s *Service) ListOrders(accountID string) ([]types.Order, error) {
	return listOrdersByAccount(s.db, accountID)
}

// CreateEquity registers a tradable instrument with optional reference
// price and tick size.
func (s *Service) CreateEquity(symbol, name string, referencePrice, tickSize decimal.NullDecimal) (*types.Equity, error) {
	if symbol == "" {
		return nil, &types.ValidationError{Message: "symbol is required"}
	}
	equity := &types.Equity{
		Symbol:         symbol,
		Name:           name,
		ReferencePrice: referencePrice,
		TickSize:       tickSize,
	}
	if err := s.db.Create(equity).Error; err != nil {
		return nil, err
	}
	log.Info().
		Str("service", "trading").
		Str("symbol", symbol).
		Msg("equity created")
	return equity, nil
}

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		order, err := h.service.PlaceOrder(&req)
		response.Handle(c, order, err)
	}
}

func (h *GinHandlers) UpdateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AmendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		order, err := h.service.UpdateOrder(c.Param("order_id"), &req)
		response.Handle(c, order, err)
	}
}

func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.CancelOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.ListOrders(c.Param("account_id"))
		response.Handle(c, orders, err)
	}
}

func (h *GinHandlers) GetOrderHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := audit.ListHistory(h.service.db, c.Param("order_id"))
		response.Handle(c, rows, err)
	}
}

func (h *GinHandlers) GetOrderLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := audit.ListLogs(h.service.db, c.Param("order_id"))
		response.Handle(c, rows, err)
	}
}

type createEquityRequest struct {
	Symbol         string              `json:"symbol" binding:"required"`
	Name           string              `json:"name"`
	ReferencePrice decimal.NullDecimal `json:"reference_price"`
	TickSize       decimal.NullDecimal `json:"tick_size"`
}

func (h *GinHandlers) CreateEquityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createEquityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		equity, err := h.service.CreateEquity(req.Symbol, req.Name, req.ReferencePrice, req.TickSize)
		response.Handle(c, equity, err)
	}
}
