package types

import "errors"

// Sentinel errors for domain-level error handling.
// pkg/response maps these to HTTP status codes.
var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrEquityNotFound      = errors.New("equity_not_found")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrBalanceNotFound     = errors.New("cash_balance_not_found")
	ErrStockNotFound       = errors.New("equity_stock_not_found")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrInsufficientStock   = errors.New("insufficient_stock")
	ErrInsufficientBlocked = errors.New("insufficient_blocked")
	ErrSameAccount         = errors.New("same_account_transfer")
	ErrOrderNotCancellable = errors.New("order_not_cancellable")
	ErrOrderNotAmendable   = errors.New("order_not_amendable")

	// ErrDataIntegrity marks upstream data defects (null refs, inconsistent
	// trade pairs). Batch loops abort the offending item and continue.
	ErrDataIntegrity = errors.New("data_integrity")
)

// ValidationError represents a request or pre-trade validation failure
// (band/tick violation, non-positive amounts, missing price).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
