// Package ledger implements the reservation ledger: per-account cash
// balances (free/blocked) and per-account-equity positions
// (free/blocked/average cost), with solvency-checked block, unblock and
// transfer primitives.
//
// The primitives take the caller's transaction handle and must run inside
// the same transaction as the order or trade mutation that depends on
// them. They are not idempotent; the enclosing transaction boundary
// guarantees at-most-once application per business event.
package ledger

import (
	"errors"
	"fmt"

	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// avgCostScale is the rounding applied to weighted-average cost results.
const avgCostScale = 4

func balanceForUpdate(tx *gorm.DB, accountID string) (*types.CashBalance, error) {
	var balance types.CashBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, types.ErrBalanceNotFound)
		}
		return nil, err
	}
	return &balance, nil
}

func stockForUpdate(tx *gorm.DB, accountID, symbol string) (*types.EquityStock, error) {
	var stock types.EquityStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s symbol %s: %w", accountID, symbol, types.ErrStockNotFound)
		}
		return nil, err
	}
	return &stock, nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return &types.ValidationError{Message: "amount must be positive"}
	}
	return nil
}

func validateQuantity(quantity int64) error {
	if quantity <= 0 {
		return &types.ValidationError{Message: "quantity must be positive"}
	}
	return nil
}

// BlockCash moves amount from the account's free balance to its blocked
// balance. Fails with ErrInsufficientFunds if free < amount.
func BlockCash(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return err
	}
	if balance.Free.LessThan(amount) {
		return fmt.Errorf("block %s for account %s (free %s): %w",
			amount, accountID, balance.Free, types.ErrInsufficientFunds)
	}
	balance.Free = balance.Free.Sub(amount)
	balance.Blocked = balance.Blocked.Add(amount)
	return tx.Save(balance).Error
}

// UnblockCash moves amount from blocked back to free. Fails with
// ErrInsufficientBlocked if blocked < amount.
func UnblockCash(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return err
	}
	if balance.Blocked.LessThan(amount) {
		return fmt.Errorf("unblock %s for account %s (blocked %s): %w",
			amount, accountID, balance.Blocked, types.ErrInsufficientBlocked)
	}
	balance.Blocked = balance.Blocked.Sub(amount)
	balance.Free = balance.Free.Add(amount)
	return tx.Save(balance).Error
}

// ReduceBlockedCash consumes amount from the blocked balance without
// crediting free. Used on the buyer side of settlement, where the blocked
// reservation pays for the trade.
func ReduceBlockedCash(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return err
	}
	if balance.Blocked.LessThan(amount) {
		return fmt.Errorf("reduce blocked %s for account %s (blocked %s): %w",
			amount, accountID, balance.Blocked, types.ErrInsufficientBlocked)
	}
	balance.Blocked = balance.Blocked.Sub(amount)
	return tx.Save(balance).Error
}

// AddFreeCash credits amount to the account's free balance.
func AddFreeCash(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return err
	}
	balance.Free = balance.Free.Add(amount)
	return tx.Save(balance).Error
}

// WithdrawFreeCash debits amount from the free balance. Fails with
// ErrInsufficientFunds if free < amount.
func WithdrawFreeCash(tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return err
	}
	if balance.Free.LessThan(amount) {
		return fmt.Errorf("withdraw %s for account %s (free %s): %w",
			amount, accountID, balance.Free, types.ErrInsufficientFunds)
	}
	balance.Free = balance.Free.Sub(amount)
	return tx.Save(balance).Error
}

// TransferCash atomically debits the sender's free balance and credits the
// receiver's. Fails with ErrSameAccount when from == to and
// ErrInsufficientFunds when the sender's free balance is short.
func TransferCash(tx *gorm.DB, fromAccountID, toAccountID string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if fromAccountID == toAccountID {
		return fmt.Errorf("account %s: %w", fromAccountID, types.ErrSameAccount)
	}
	fromBalance, err := balanceForUpdate(tx, fromAccountID)
	if err != nil {
		return err
	}
	toBalance, err := balanceForUpdate(tx, toAccountID)
	if err != nil {
		return err
	}
	if fromBalance.Free.LessThan(amount) {
		return fmt.Errorf("transfer %s from account %s (free %s): %w",
			amount, fromAccountID, fromBalance.Free, types.ErrInsufficientFunds)
	}
	fromBalance.Free = fromBalance.Free.Sub(amount)
	toBalance.Free = toBalance.Free.Add(amount)
	if err := tx.Save(fromBalance).Error; err != nil {
		return err
	}
	return tx.Save(toBalance).Error
}

// HasEnoughCash reports whether the account's free balance covers amount.
func HasEnoughCash(tx *gorm.DB, accountID string, amount decimal.Decimal) (bool, error) {
	balance, err := balanceForUpdate(tx, accountID)
	if err != nil {
		return false, err
	}
	return balance.Free.GreaterThanOrEqual(amount), nil
}

// BlockStock moves quantity from the position's free quantity to blocked.
// Fails with ErrInsufficientStock if free < quantity.
func BlockStock(tx *gorm.DB, accountID, symbol string, quantity int64) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	stock, err := stockForUpdate(tx, accountID, symbol)
	if err != nil {
		return err
	}
	if stock.FreeQuantity < quantity {
		return fmt.Errorf("block %d of %s for account %s (free %d): %w",
			quantity, symbol, accountID, stock.FreeQuantity, types.ErrInsufficientStock)
	}
	stock.FreeQuantity -= quantity
	stock.BlockedQuantity += quantity
	return tx.Save(stock).Error
}

// UnblockStock moves quantity from blocked back to free. Fails with
// ErrInsufficientBlocked if blocked < quantity.
func UnblockStock(tx *gorm.DB, accountID, symbol string, quantity int64) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	stock, err := stockForUpdate(tx, accountID, symbol)
	if err != nil {
		return err
	}
	if stock.BlockedQuantity < quantity {
		return fmt.Errorf("unblock %d of %s for account %s (blocked %d): %w",
			quantity, symbol, accountID, stock.BlockedQuantity, types.ErrInsufficientBlocked)
	}
	stock.BlockedQuantity -= quantity
	stock.FreeQuantity += quantity
	return tx.Save(stock).Error
}

// ReleaseBlockedStock consumes quantity from the blocked position without
// crediting free. Used on the seller side of settlement: the blocked
// shares leave the account. AvgCost is cleared when the position reaches
// zero.
func ReleaseBlockedStock(tx *gorm.DB, accountID, symbol string, quantity int64) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	stock, err := stockForUpdate(tx, accountID, symbol)
	if err != nil {
		return err
	}
	if stock.BlockedQuantity < quantity {
		return fmt.Errorf("release %d of %s for account %s (blocked %d): %w",
			quantity, symbol, accountID, stock.BlockedQuantity, types.ErrInsufficientBlocked)
	}
	stock.BlockedQuantity -= quantity
	if stock.FreeQuantity+stock.BlockedQuantity == 0 {
		stock.AvgCost = decimal.NullDecimal{}
	}
	return tx.Save(stock).Error
}

// HasEnoughStock reports whether the account's free position in symbol
// covers quantity. A missing position counts as zero.
func HasEnoughStock(tx *gorm.DB, accountID, symbol string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, nil
	}
	stock, err := stockForUpdate(tx, accountID, symbol)
	if err != nil {
		if errors.Is(err, types.ErrStockNotFound) {
			return false, nil
		}
		return false, err
	}
	return stock.FreeQuantity >= quantity, nil
}

// CreditPosition credits quantity shares at the given unit price plus
// commission to the account's free position, recomputing the weighted
// average cost. The position row is created on first credit. Used on
// buy-side settlement and on external transfers in.
func CreditPosition(tx *gorm.DB, accountID, symbol string, quantity int64,
	price, commission decimal.Decimal) error {

	if err := validateQuantity(quantity); err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return &types.ValidationError{Message: "price must be positive"}
	}

	totalCost := price.Mul(decimal.NewFromInt(quantity))
	if commission.Sign() > 0 {
		totalCost = totalCost.Add(commission)
	}
	unitCost := totalCost.Div(decimal.NewFromInt(quantity)).Round(avgCostScale)

	stock, err := stockForUpdate(tx, accountID, symbol)
	if err != nil {
		if !errors.Is(err, types.ErrStockNotFound) {
			return err
		}
		stock = &types.EquityStock{
			AccountID:    accountID,
			Symbol:       symbol,
			FreeQuantity: quantity,
			AvgCost:      decimal.NewNullDecimal(unitCost),
		}
		return tx.Create(stock).Error
	}

	currentQuantity := stock.FreeQuantity + stock.BlockedQuantity
	currentCost := decimal.Zero
	if stock.AvgCost.Valid && currentQuantity > 0 {
		currentCost = stock.AvgCost.Decimal
	}

	newAvgCost := WeightedAverageCost(currentQuantity, currentCost, quantity, unitCost)
	stock.FreeQuantity += quantity
	stock.AvgCost = decimal.NewNullDecimal(newAvgCost)
	return tx.Save(stock).Error
}

// WeightedAverageCost returns (q0*c0 + q1*c1) / (q0+q1) rounded to 4
// decimal places, half-up.
func WeightedAverageCost(q0 int64, c0 decimal.Decimal, q1 int64, c1 decimal.Decimal) decimal.Decimal {
	totalValue := c0.Mul(decimal.NewFromInt(q0)).Add(c1.Mul(decimal.NewFromInt(q1)))
	totalQuantity := decimal.NewFromInt(q0 + q1)
	return totalValue.Div(totalQuantity).Round(avgCostScale)
}
