package ledger

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service exposes the account-facing ledger operations: account
// provisioning, cash deposits/withdrawals, external position transfers
// and balance/portfolio queries.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	Free      decimal.Decimal `json:"free"`
	Blocked   decimal.Decimal `json:"blocked"`
	Total     decimal.Decimal `json:"total"`
}

type HoldingResponse struct {
	Symbol          string              `json:"symbol"`
	FreeQuantity    int64               `json:"free_quantity"`
	BlockedQuantity int64               `json:"blocked_quantity"`
	AvgCost         decimal.NullDecimal `json:"avg_cost"`
}

type PortfolioResponse struct {
	AccountID string            `json:"account_id"`
	Cash      BalanceResponse   `json:"cash"`
	Holdings  []HoldingResponse `json:"holdings"`
}

// CreateAccount provisions an account together with its zeroed cash
// balance row, optionally seeded with an initial deposit.
func (s *Service) CreateAccount(accountID, clientID string, initialCash decimal.Decimal) (*types.Account, error) {
	if accountID == "" {
		return nil, &types.ValidationError{Message: "account_id is required"}
	}
	if initialCash.Sign() < 0 {
		return nil, &types.ValidationError{Message: "initial_cash cannot be negative"}
	}

	account := &types.Account{AccountID: accountID, ClientID: clientID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return err
		}
		balance := &types.CashBalance{
			AccountID: accountID,
			Free:      initialCash,
			Blocked:   decimal.Zero,
		}
		return tx.Create(balance).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "ledger").
		Str("account_id", accountID).
		Str("initial_cash", initialCash.String()).
		Msg("account created")
	return account, nil
}

// Deposit credits the account's free balance and records a cash
// transaction row.
func (s *Service) Deposit(accountID string, amount decimal.Decimal) (*types.CashTransaction, error) {
	return s.cashTransaction(accountID, amount, "DEPOSIT", AddFreeCash)
}

// Withdraw debits the account's free balance, rejecting overdrafts, and
// records a cash transaction row.
func (s *Service) Withdraw(accountID string, amount decimal.Decimal) (*types.CashTransaction, error) {
	return s.cashTransaction(accountID, amount, "WITHDRAW", WithdrawFreeCash)
}

func (s *Service) cashTransaction(accountID string, amount decimal.Decimal, kind string,
	move func(*gorm.DB, string, decimal.Decimal) error) (*types.CashTransaction, error) {

	record := &types.CashTransaction{
		TransactionID: uuid.New().String(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := requireAccount(tx, accountID); err != nil {
			return err
		}
		if err := move(tx, accountID, amount); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// TransferIn credits shares arriving from outside the system into the
// account's free position at the supplied unit cost, recomputing the
// weighted-average cost.
func (s *Service) TransferIn(accountID, symbol string, quantity int64, unitCost decimal.Decimal) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := requireAccount(tx, accountID); err != nil {
			return err
		}
		if err := requireEquity(tx, symbol); err != nil {
			return err
		}
		return CreditPosition(tx, accountID, symbol, quantity, unitCost, decimal.Zero)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("service", "ledger").
		Str("account_id", accountID).
		Str("symbol", symbol).
		Int64("quantity", quantity).
		Msg("external transfer in applied")
	return nil
}

// GetBalance returns the account's cash balance.
func (s *Service) GetBalance(accountID string) (*BalanceResponse, error) {
	var balance types.CashBalance
	if err := s.db.Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, types.ErrBalanceNotFound)
		}
		return nil, err
	}
	return &BalanceResponse{
		AccountID: accountID,
		Free:      balance.Free,
		Blocked:   balance.Blocked,
		Total:     balance.Free.Add(balance.Blocked),
	}, nil
}

// GetPortfolio returns the account's holdings and cash in one view.
func (s *Service) GetPortfolio(accountID string) (*PortfolioResponse, error) {
	cash, err := s.GetBalance(accountID)
	if err != nil {
		return nil, err
	}

	var stocks []types.EquityStock
	if err := s.db.Where("account_id = ?", accountID).Order("symbol").Find(&stocks).Error; err != nil {
		return nil, err
	}

	holdings := make([]HoldingResponse, 0, len(stocks))
	for _, stock := range stocks {
		holdings = append(holdings, HoldingResponse{
			Symbol:          stock.Symbol,
			FreeQuantity:    stock.FreeQuantity,
			BlockedQuantity: stock.BlockedQuantity,
			AvgCost:         stock.AvgCost,
		})
	}

	return &PortfolioResponse{AccountID: accountID, Cash: *cash, Holdings: holdings}, nil
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

func requireEquity(tx *gorm.DB, symbol string) error {
	var equity types.Equity
	if err := tx.Where("symbol = ?", symbol).First(&equity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("symbol %s: %w", symbol, types.ErrEquityNotFound)
		}
		return err
	}
	return nil
}

// GinHandlers contains HTTP handlers for ledger endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type createAccountRequest struct {
	AccountID   string          `json:"account_id" binding:"required"`
	ClientID    string          `json:"client_id"`
	InitialCash decimal.Decimal `json:"initial_cash"`
}

func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		account, err := h.service.CreateAccount(req.AccountID, req.ClientID, req.InitialCash)
		response.Handle(c, account, err)
	}
}

type cashRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cashRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		record, err := h.service.Deposit(req.AccountID, req.Amount)
		response.Handle(c, record, err)
	}
}

func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cashRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		record, err := h.service.Withdraw(req.AccountID, req.Amount)
		response.Handle(c, record, err)
	}
}

type transferInRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Symbol    string          `json:"symbol" binding:"required"`
	Quantity  int64           `json:"quantity" binding:"required"`
	UnitCost  decimal.Decimal `json:"unit_cost" binding:"required"`
}

func (h *GinHandlers) TransferInHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		err := h.service.TransferIn(req.AccountID, req.Symbol, req.Quantity, req.UnitCost)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "transfer applied"})
	}
}

func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balance, err := h.service.GetBalance(c.Param("account_id"))
		response.Handle(c, balance, err)
	}
}

func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolio, err := h.service.GetPortfolio(c.Param("account_id"))
		response.Handle(c, portfolio, err)
	}
}
