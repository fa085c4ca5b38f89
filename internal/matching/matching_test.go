package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/database"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var tradeDate = calendar.Day(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	require.NoError(t, db.Create(&types.SystemDate{ID: 1, TradeDate: tradeDate}).Error)
	require.NoError(t, db.Create(&types.Account{AccountID: "buyer", ClientID: "c1"}).Error)
	require.NoError(t, db.Create(&types.Account{AccountID: "seller", ClientID: "c2"}).Error)
	require.NoError(t, db.Create(&types.Equity{Symbol: "THYAO", Name: "Turkish Airlines"}).Error)

	return NewEngine(db, calendar.NewService(db)), db
}

type orderParams struct {
	account   string
	side      types.OrderSide
	orderType types.OrderType
	quantity  int64
	remaining int64
	price     string // empty means no price
	entryTime time.Time
	orderDate time.Time
	status    types.OrderStatus
}

func insertOrder(t *testing.T, db *gorm.DB, params orderParams) string {
	t.Helper()
	if params.status == "" {
		params.status = types.OrderStatusPending
	}
	if params.remaining == 0 {
		params.remaining = params.quantity
	}
	if params.entryTime.IsZero() {
		params.entryTime = time.Now()
	}
	if params.orderDate.IsZero() {
		params.orderDate = tradeDate
	}
	var price decimal.NullDecimal
	if params.price != "" {
		price = decimal.NewNullDecimal(decimal.RequireFromString(params.price))
	}

	order := &types.Order{
		OrderID:           uuid.New().String(),
		AccountID:         params.account,
		Symbol:            "THYAO",
		Side:              params.side,
		OrderType:         params.orderType,
		Quantity:          params.quantity,
		RemainingQuantity: params.remaining,
		Price:             price,
		Status:            params.status,
		EntryTime:         params.entryTime,
		OrderDate:         params.orderDate,
	}
	require.NoError(t, db.Create(order).Error)
	return order.OrderID
}

func loadOrder(t *testing.T, db *gorm.DB, orderID string) types.Order {
	t.Helper()
	var order types.Order
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return order
}

func loadTrades(t *testing.T, db *gorm.DB, orderID string) []types.Trade {
	t.Helper()
	var trades []types.Trade
	require.NoError(t, db.Where("order_id = ?", orderID).Order("id ASC").Find(&trades).Error)
	return trades
}

func TestLimitOrdersCrossAtMakerPrice(t *testing.T) {
	engine, db := newTestEngine(t)

	makerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "52.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	taker := loadOrder(t, db, takerID)
	maker := loadOrder(t, db, makerID)
	assert.Equal(t, types.OrderStatusFilled, taker.Status)
	assert.Equal(t, types.OrderStatusFilled, maker.Status)
	assert.Equal(t, int64(0), taker.RemainingQuantity)
	assert.Equal(t, int64(0), maker.RemainingQuantity)

	// Trade executes at the maker's price, never worse for the taker.
	trades := loadTrades(t, db, takerID)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(decimal.RequireFromString("50.00")),
		"price = %s", trades[0].Price)
	assert.Equal(t, int64(10), trades[0].Quantity)

	var match types.Match
	require.NoError(t, db.Where("match_id = ?", trades[0].MatchID).First(&match).Error)
	assert.Equal(t, takerID, match.BuyOrderID)
	assert.Equal(t, makerID, match.SellOrderID)

	// Both legs share the match group id.
	makerTrades := loadTrades(t, db, makerID)
	require.Len(t, makerTrades, 1)
	assert.Equal(t, trades[0].MatchID, makerTrades[0].MatchID)
}

func TestPricePriorityBestPriceFirst(t *testing.T) {
	engine, db := newTestEngine(t)

	expensiveID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "51.00",
	})
	cheapID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "55.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, cheapID).Status)
	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, expensiveID).Status)
}

func TestTimePriorityBreaksPriceTies(t *testing.T) {
	engine, db := newTestEngine(t)

	base := time.Now()
	lateID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00", entryTime: base.Add(time.Second),
	})
	earlyID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00", entryTime: base,
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00", entryTime: base.Add(2 * time.Second),
	})

	require.NoError(t, engine.MatchOrder(takerID))

	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, earlyID).Status)
	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, lateID).Status)
}

func TestPartialFillAcrossMakers(t *testing.T) {
	engine, db := newTestEngine(t)

	makerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 4, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	taker := loadOrder(t, db, takerID)
	assert.Equal(t, types.OrderStatusPartiallyFilled, taker.Status)
	assert.Equal(t, int64(6), taker.RemainingQuantity)
	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, makerID).Status)
}

func TestIncompatiblePricesDoNotCross(t *testing.T) {
	engine, db := newTestEngine(t)

	makerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "49.99",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, takerID).Status)
	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, makerID).Status)
	assert.Empty(t, loadTrades(t, db, takerID))
}

func TestMarketTakerTakesMakerPrice(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 5, price: "48.50",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeMarket,
		quantity: 5,
	})

	require.NoError(t, engine.MatchOrder(takerID))

	trades := loadTrades(t, db, takerID)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(decimal.RequireFromString("48.50")))
	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, takerID).Status)
}

func TestMarketTakerWithPriceCapNeverTradesThrough(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 5, price: "52.00",
	})
	// Market buy carrying a price: fills, but not above its own cap.
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeMarket,
		quantity: 5, price: "51.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	trades := loadTrades(t, db, takerID)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(decimal.RequireFromString("51.00")),
		"price = %s", trades[0].Price)
}

func TestMarketRemainderConvertsToRestingDayOrder(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 4, price: "49.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeMarket,
		quantity: 10,
	})

	require.NoError(t, engine.MatchOrder(takerID))

	taker := loadOrder(t, db, takerID)
	assert.Equal(t, types.OrderStatusPartiallyFilled, taker.Status)
	assert.Equal(t, types.OrderTypeDay, taker.OrderType)
	assert.Equal(t, int64(6), taker.RemainingQuantity)
	require.True(t, taker.Price.Valid)
	assert.True(t, taker.Price.Decimal.Equal(decimal.RequireFromString("49.00")),
		"remainder rests at last executed price, got %s", taker.Price.Decimal)
}

func TestMarketTakerNoLiquidityStaysPending(t *testing.T) {
	engine, db := newTestEngine(t)

	takerID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeMarket,
		quantity: 10,
	})

	require.NoError(t, engine.MatchOrder(takerID))

	taker := loadOrder(t, db, takerID)
	assert.Equal(t, types.OrderStatusPending, taker.Status)
	assert.Equal(t, types.OrderTypeMarket, taker.OrderType)
	assert.Empty(t, loadTrades(t, db, takerID))
}

func TestUnpricedMakerIsSkipped(t *testing.T) {
	engine, db := newTestEngine(t)

	// A resting market order without a price cannot serve as a maker.
	unpricedID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeMarket,
		quantity: 10,
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, takerID).Status)
	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, unpricedID).Status)
}

func TestStaleDayOrderExpiresInsteadOfMatching(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Create(&types.CashBalance{
		AccountID: "buyer",
		Free:      decimal.Zero,
		Blocked:   decimal.RequireFromString("500.00"),
	}).Error)

	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	staleID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeDay,
		quantity: 10, price: "50.00", orderDate: tradeDate.AddDate(0, 0, -1),
	})

	require.NoError(t, engine.MatchOrder(staleID))

	assert.Equal(t, types.OrderStatusExpired, loadOrder(t, db, staleID).Status)
	assert.Empty(t, loadTrades(t, db, staleID))

	// The stale order's reservation came back; nothing stays blocked.
	var balance types.CashBalance
	require.NoError(t, db.Where("account_id = ?", "buyer").First(&balance).Error)
	assert.True(t, balance.Free.Equal(decimal.RequireFromString("500.00")), "free = %s", balance.Free)
	assert.True(t, balance.Blocked.IsZero(), "blocked = %s", balance.Blocked)
}

func TestStaleSellDayOrderReleasesBlockedShares(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Create(&types.EquityStock{
		AccountID: "seller", Symbol: "THYAO",
		FreeQuantity: 90, BlockedQuantity: 10,
		AvgCost: decimal.NewNullDecimal(decimal.RequireFromString("40.00")),
	}).Error)

	staleID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeDay,
		quantity: 10, price: "50.00", orderDate: tradeDate.AddDate(0, 0, -1),
	})

	require.NoError(t, engine.MatchOrder(staleID))

	assert.Equal(t, types.OrderStatusExpired, loadOrder(t, db, staleID).Status)

	var stock types.EquityStock
	require.NoError(t, db.Where("account_id = ? AND symbol = ?", "seller", "THYAO").
		First(&stock).Error)
	assert.Equal(t, int64(100), stock.FreeQuantity)
	assert.Equal(t, int64(0), stock.BlockedQuantity)
}

func TestBandValidationRejectsOutOfBandPrice(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Model(&types.Equity{}).Where("symbol = ?", "THYAO").
		Update("reference_price", decimal.RequireFromString("100.00")).Error)

	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "111.00",
	})

	var validationErr *types.ValidationError
	assert.ErrorAs(t, engine.MatchOrder(takerID), &validationErr)
}

func TestBandValidationAcceptsEdgeOfBand(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Model(&types.Equity{}).Where("symbol = ?", "THYAO").
		Update("reference_price", decimal.RequireFromString("100.00")).Error)

	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "110.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))
	assert.Equal(t, types.OrderStatusPending, loadOrder(t, db, takerID).Status)
}

func TestTickValidation(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Model(&types.Equity{}).Where("symbol = ?", "THYAO").
		Update("tick_size", decimal.RequireFromString("0.05")).Error)

	offTickID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.02",
	})
	var validationErr *types.ValidationError
	assert.ErrorAs(t, engine.MatchOrder(offTickID), &validationErr)

	onTickID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.05",
	})
	require.NoError(t, engine.MatchOrder(onTickID))
}

func TestMissingMetadataSkipsChecks(t *testing.T) {
	engine, db := newTestEngine(t)

	// Seeded equity has neither reference price nor tick size.
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "999.99",
	})

	require.NoError(t, engine.MatchOrder(takerID))
}

func TestMatchWritesOutboxEvent(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	var events []types.OutboxEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTypeTradeMatched, events[0].EventType)
	assert.Equal(t, types.OutboxStatusPending, events[0].Status)

	trades := loadTrades(t, db, takerID)
	require.Len(t, trades, 1)
	assert.Equal(t, trades[0].MatchID, events[0].EventID)
}

func TestMatchStampedWithCurrentTradeDate(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	// The system date is simulated, not the wall clock; the match must
	// carry the trading date so settlement's date window finds it.
	trades := loadTrades(t, db, takerID)
	require.Len(t, trades, 1)
	var match types.Match
	require.NoError(t, db.Where("match_id = ?", trades[0].MatchID).First(&match).Error)
	assert.True(t, calendar.Day(match.MatchedAt.UTC()).Equal(tradeDate),
		"matched_at = %s, want date %s", match.MatchedAt, tradeDate)
	assert.True(t, calendar.Day(trades[0].ExecutedAt.UTC()).Equal(tradeDate),
		"executed_at = %s", trades[0].ExecutedAt)
}

func TestMatchOrderNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.ErrorIs(t, engine.MatchOrder("missing"), types.ErrOrderNotFound)
}

func TestMissingEquityIsIntegrityFailure(t *testing.T) {
	engine, db := newTestEngine(t)

	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	require.NoError(t, db.Model(&types.Order{}).Where("order_id = ?", takerID).
		Update("symbol", "GHOST").Error)

	assert.ErrorIs(t, engine.MatchOrder(takerID), types.ErrDataIntegrity)
}

func TestBulkRematchCrossesRestingOrders(t *testing.T) {
	engine, db := newTestEngine(t)

	buyID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})
	sellID := insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 10, price: "50.00",
	})

	processed, failed, err := engine.MatchAllOpenOrders()
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, failed)

	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, buyID).Status)
	assert.Equal(t, types.OrderStatusFilled, loadOrder(t, db, sellID).Status)
}

func TestRemainingQuantityNeverNegative(t *testing.T) {
	engine, db := newTestEngine(t)

	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 3, price: "50.00",
	})
	insertOrder(t, db, orderParams{
		account: "seller", side: types.SideSell, orderType: types.OrderTypeLimit,
		quantity: 5, price: "50.00",
	})
	takerID := insertOrder(t, db, orderParams{
		account: "buyer", side: types.SideBuy, orderType: types.OrderTypeLimit,
		quantity: 7, price: "50.00",
	})

	require.NoError(t, engine.MatchOrder(takerID))

	var orders []types.Order
	require.NoError(t, db.Find(&orders).Error)
	for _, order := range orders {
		assert.GreaterOrEqual(t, order.RemainingQuantity, int64(0))
		assert.LessOrEqual(t, order.RemainingQuantity, order.Quantity)
		if order.RemainingQuantity == 0 {
			assert.Equal(t, types.OrderStatusFilled, order.Status)
		}
	}
}
