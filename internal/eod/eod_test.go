package eod

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/database"
	"github.com/munal98/fintra-stock-trading-sub001/internal/expiry"
	"github.com/munal98/fintra-stock-trading-sub001/internal/matching"
	"github.com/munal98/fintra-stock-trading-sub001/internal/settlement"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Tuesday; two business days before is the preceding Friday.
var (
	tuesday = time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	friday  = time.Date(2025, time.June, 6, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	require.NoError(t, db.Create(&types.SystemDate{ID: 1, TradeDate: tuesday}).Error)

	cal := calendar.NewService(db)
	svc := NewService(db, cal,
		expiry.NewService(db),
		settlement.NewService(db),
		matching.NewEngine(db, cal))
	return svc, db
}

// TestRunEndOfDay covers the full closing sequence: a day order dated
// today expires with its reservation released, a trade pair matched two
// business days ago settles, and the trading date advances one business
// day.
func TestRunEndOfDay(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, db.Create(&types.Account{AccountID: "buyer", ClientID: "c1"}).Error)
	require.NoError(t, db.Create(&types.Account{AccountID: "seller", ClientID: "c2"}).Error)
	require.NoError(t, db.Create(&types.Equity{Symbol: "THYAO", Name: "Turkish Airlines"}).Error)

	// Buyer: 500.00 blocked for today's resting day order, plus 500.00
	// blocked for Friday's matched trade.
	require.NoError(t, db.Create(&types.CashBalance{
		AccountID: "buyer",
		Free:      decimal.RequireFromString("1000.00"),
		Blocked:   decimal.RequireFromString("1000.00"),
	}).Error)
	require.NoError(t, db.Create(&types.CashBalance{
		AccountID: "seller", Free: decimal.Zero, Blocked: decimal.Zero,
	}).Error)
	require.NoError(t, db.Create(&types.EquityStock{
		AccountID: "seller", Symbol: "THYAO",
		FreeQuantity: 0, BlockedQuantity: 10,
		AvgCost: decimal.NewNullDecimal(decimal.RequireFromString("30.00")),
	}).Error)

	// Today's resting day order.
	restingID := uuid.New().String()
	require.NoError(t, db.Create(&types.Order{
		OrderID: restingID, AccountID: "buyer", Symbol: "THYAO",
		Side: types.SideBuy, OrderType: types.OrderTypeDay,
		Quantity: 10, RemainingQuantity: 10,
		Price:     decimal.NewNullDecimal(decimal.RequireFromString("50.00")),
		Status:    types.OrderStatusPending,
		EntryTime: tuesday.Add(10 * time.Hour), OrderDate: tuesday,
	}).Error)

	// Friday's matched pair, due for T+2 settlement today.
	matchID := uuid.New().String()
	buyID, sellID := uuid.New().String(), uuid.New().String()
	price := decimal.RequireFromString("50.00")
	for _, o := range []struct {
		id   string
		acct string
		side types.OrderSide
	}{
		{buyID, "buyer", types.SideBuy},
		{sellID, "seller", types.SideSell},
	} {
		require.NoError(t, db.Create(&types.Order{
			OrderID: o.id, AccountID: o.acct, Symbol: "THYAO",
			Side: o.side, OrderType: types.OrderTypeLimit,
			Quantity: 10, RemainingQuantity: 0,
			Price:     decimal.NewNullDecimal(price),
			Status:    types.OrderStatusFilled,
			EntryTime: friday, OrderDate: friday,
		}).Error)
		require.NoError(t, db.Create(&types.Trade{
			TradeID: uuid.New().String(), MatchID: matchID, OrderID: o.id,
			Quantity: 10, Price: price, Commission: decimal.Zero,
			Status: types.TradeStatusMatched, ExecutedAt: friday.Add(11 * time.Hour),
		}).Error)
	}
	require.NoError(t, db.Create(&types.Match{
		MatchID: matchID, BuyOrderID: buyID, SellOrderID: sellID,
		MatchedAt: friday.Add(11 * time.Hour),
	}).Error)

	result, err := svc.RunEndOfDay()
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExpiredOrders)
	assert.Equal(t, 1, result.SettledMatches)
	assert.Equal(t, "2025-06-10", result.TradeDate)
	assert.Equal(t, "2025-06-06", result.SettlementDate)
	assert.Equal(t, "2025-06-11", result.NextTradeDate)

	// Day order expired, its 500.00 reservation released.
	var resting types.Order
	require.NoError(t, db.Where("order_id = ?", restingID).First(&resting).Error)
	assert.Equal(t, types.OrderStatusExpired, resting.Status)

	// Friday's trades settled: shares moved, cash moved.
	var trades []types.Trade
	require.NoError(t, db.Where("match_id = ?", matchID).Find(&trades).Error)
	for _, trade := range trades {
		assert.Equal(t, types.TradeStatusSettled, trade.Status)
	}

	var buyerStock types.EquityStock
	require.NoError(t, db.Where("account_id = ? AND symbol = ?", "buyer", "THYAO").
		First(&buyerStock).Error)
	assert.Equal(t, int64(10), buyerStock.FreeQuantity)

	var buyer types.CashBalance
	require.NoError(t, db.Where("account_id = ?", "buyer").First(&buyer).Error)
	// 1000 - 500 transfer + 500 expiry release; blocked 1000 - 500 expiry - 500 settlement.
	assert.True(t, buyer.Free.Equal(decimal.RequireFromString("1000.00")), "buyer free = %s", buyer.Free)
	assert.True(t, buyer.Blocked.IsZero(), "buyer blocked = %s", buyer.Blocked)

	var seller types.CashBalance
	require.NoError(t, db.Where("account_id = ?", "seller").First(&seller).Error)
	assert.True(t, seller.Free.Equal(decimal.RequireFromString("500.00")), "seller free = %s", seller.Free)

	// Trading date advanced exactly one business day.
	date, err := calendar.NewService(db).CurrentTradeDate()
	require.NoError(t, err)
	assert.Equal(t, tuesday.AddDate(0, 0, 1), date)
}

// A failure in any step must roll back the whole run, including
// expirations already applied.
func TestRunEndOfDayIsAtomic(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, db.Create(&types.Account{AccountID: "buyer", ClientID: "c1"}).Error)
	require.NoError(t, db.Create(&types.Equity{Symbol: "THYAO", Name: "Turkish Airlines"}).Error)
	require.NoError(t, db.Create(&types.CashBalance{
		AccountID: "buyer",
		Free:      decimal.Zero,
		Blocked:   decimal.RequireFromString("500.00"),
	}).Error)

	restingID := uuid.New().String()
	require.NoError(t, db.Create(&types.Order{
		OrderID: restingID, AccountID: "buyer", Symbol: "THYAO",
		Side: types.SideBuy, OrderType: types.OrderTypeDay,
		Quantity: 10, RemainingQuantity: 10,
		Price:     decimal.NewNullDecimal(decimal.RequireFromString("50.00")),
		Status:    types.OrderStatusPending,
		EntryTime: tuesday, OrderDate: tuesday,
	}).Error)

	// Break the settlement step, which runs after expiry.
	require.NoError(t, db.Migrator().DropTable(&types.Match{}))

	_, err := svc.RunEndOfDay()
	require.Error(t, err)

	// The expiry that ran before the failure was rolled back.
	var order types.Order
	require.NoError(t, db.Where("order_id = ?", restingID).First(&order).Error)
	assert.Equal(t, types.OrderStatusPending, order.Status)

	var balance types.CashBalance
	require.NoError(t, db.Where("account_id = ?", "buyer").First(&balance).Error)
	assert.True(t, balance.Blocked.Equal(decimal.RequireFromString("500.00")),
		"blocked = %s", balance.Blocked)

	date, err := calendar.NewService(db).CurrentTradeDate()
	require.NoError(t, err)
	assert.Equal(t, tuesday, date, "trade date must not advance on failure")
}

func TestRunEndOfDayOnEmptyDay(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.RunEndOfDay()
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExpiredOrders)
	assert.Equal(t, 0, result.SettledMatches)
	assert.Equal(t, "2025-06-11", result.NextTradeDate)
}
