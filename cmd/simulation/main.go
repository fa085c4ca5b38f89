package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/munal98/fintra-stock-trading-sub001/internal/auth"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/database"
	"github.com/munal98/fintra-stock-trading-sub001/internal/eod"
	"github.com/munal98/fintra-stock-trading-sub001/internal/expiry"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/matching"
	"github.com/munal98/fintra-stock-trading-sub001/internal/orderbook"
	"github.com/munal98/fintra-stock-trading-sub001/internal/settlement"
	"github.com/munal98/fintra-stock-trading-sub001/internal/trading"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numAccounts    = 8
	ordersPerDay   = 40
	tradingDays    = 3
	numWorkers     = 4
	serverAddress  = "http://localhost:8080"
	initialCash    = "100000.00"
	initialShares  = 500
	seedSharesCost = "100.00"
)

var symbols = []string{"THYAO", "GARAN", "ASELS", "SISE", "KCHOL"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulationClient handles HTTP communication with the trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// authenticate fetches a JWT for the simulation client and stores it for
// subsequent requests. Tokens are only issued to clients that own
// accounts, so this runs after account seeding.
func (sc *simulationClient) authenticate() error {
	credentials := map[string]string{
		"client_id":  auth.TestClientID,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	sc.authToken = result.Data.Token
	return nil
}

// post sends an authenticated POST with a JSON payload and decodes the
// data envelope into out when out is non-nil.
func (sc *simulationClient) post(path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

type orderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// placeOrder submits a random order for the account and returns its
// resulting state.
func (sc *simulationClient) placeOrder(accountID string) (*orderResult, error) {
	symbol := symbols[rand.Intn(len(symbols))]
	side := "BUY"
	if rand.Intn(2) == 1 {
		side = "SELL"
	}
	// Prices stay close to the 100.00 reference so the band check passes.
	price := fmt.Sprintf("%d.%02d", 95+rand.Intn(10), rand.Intn(100))

	payload := map[string]interface{}{
		"account_id": accountID,
		"symbol":     symbol,
		"side":       side,
		"order_type": "DAY",
		"quantity":   int64(rand.Intn(20) + 1),
		"price":      price,
	}

	var result orderResult
	if err := sc.post("/api/v1/orders", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) setupAccount(accountID string) error {
	err := sc.post("/api/v1/internal/accounts", map[string]interface{}{
		"account_id":   accountID,
		"client_id":    auth.TestClientID,
		"initial_cash": initialCash,
	}, nil)
	if err != nil {
		return err
	}

	// Seed every account with shares so sell orders have inventory.
	for _, symbol := range symbols {
		err := sc.post("/api/v1/internal/transfers/in", map[string]interface{}{
			"account_id": accountID,
			"symbol":     symbol,
			"quantity":   int64(initialShares),
			"unit_cost":  seedSharesCost,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (sc *simulationClient) setupEquities() error {
	for _, symbol := range symbols {
		err := sc.post("/api/v1/internal/equities", map[string]interface{}{
			"symbol":          symbol,
			"name":            symbol + " simulated equity",
			"reference_price": "100.00",
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

type eodResult struct {
	TradeDate      string `json:"trade_date"`
	NextTradeDate  string `json:"next_trade_date"`
	ExpiredOrders  int    `json:"expired_orders"`
	SettledMatches int    `json:"settled_matches"`
}

func (sc *simulationClient) runEndOfDay() (*eodResult, error) {
	var result eodResult
	if err := sc.post("/api/v1/internal/eod", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// main runs the trading simulation: it starts an in-process server, seeds
// accounts and equities, then drives several simulated trading days of
// random order flow, closing each day with an end-of-day run.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	if err := simClient.setupEquities(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create equities")
	}

	accountIDs := make([]string, numAccounts)
	for i := range accountIDs {
		accountIDs[i] = fmt.Sprintf("ACC-%03d", i+1)
		if err := simClient.setupAccount(accountIDs[i]); err != nil {
			log.Fatal().Err(err).Str("account_id", accountIDs[i]).Msg("Failed to set up account")
		}
	}
	log.Info().Int("accounts", numAccounts).Int("symbols", len(symbols)).Msg("Simulation seeded")

	if err := simClient.authenticate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate simulation client")
	}

	totals := struct {
		Placed   int
		Filled   int
		Partial  int
		Resting  int
		Failed   int
		Expired  int
		Settled  int
		ByStatus map[string]int
	}{ByStatus: make(map[string]int)}
	start := time.Now()

	for day := 1; day <= tradingDays; day++ {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for w := 0; w < numWorkers; w++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				for i := 0; i < ordersPerDay/numWorkers; i++ {
					accountID := accountIDs[rand.Intn(len(accountIDs))]
					result, err := simClient.placeOrder(accountID)

					mu.Lock()
					if err != nil {
						totals.Failed++
						log.Warn().Err(err).Int("worker_id", workerID).Msg("Order rejected")
					} else {
						totals.Placed++
						totals.ByStatus[result.Status]++
					}
					mu.Unlock()

					time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
				}
			}(w)
		}
		wg.Wait()

		eodRes, err := simClient.runEndOfDay()
		if err != nil {
			log.Fatal().Err(err).Int("day", day).Msg("End-of-day run failed")
		}
		totals.Expired += eodRes.ExpiredOrders
		totals.Settled += eodRes.SettledMatches
		log.Info().
			Int("day", day).
			Str("trade_date", eodRes.TradeDate).
			Str("next_trade_date", eodRes.NextTradeDate).
			Int("expired_orders", eodRes.ExpiredOrders).
			Int("settled_matches", eodRes.SettledMatches).
			Msg("Trading day closed")
	}

	// Two extra EOD runs so the last days' matches reach T+2 and settle.
	for i := 0; i < 2; i++ {
		eodRes, err := simClient.runEndOfDay()
		if err != nil {
			log.Fatal().Err(err).Msg("Settlement catch-up EOD failed")
		}
		totals.Settled += eodRes.SettledMatches
	}

	duration := time.Since(start)
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf(`
Orders placed:    %d
Orders rejected:  %d
Orders expired:   %d
Matches settled:  %d
Duration:         %v

Status at placement
-------------------
`, totals.Placed, totals.Failed, totals.Expired, totals.Settled, duration.Round(time.Millisecond))

	for status, count := range totals.ByStatus {
		fmt.Printf("%-18s %d\n", status, count)
	}
	fmt.Println("\n" + strings.Repeat("=", 70))

	log.Info().
		Int("orders_placed", totals.Placed).
		Int("matches_settled", totals.Settled).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// startServer initializes and starts the trading API server without auth
// middleware, mirroring the production route layout.
func startServer() error {
	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(db, []byte("simulation-secret"))
	authService.RegisterClient(auth.TestClientID, auth.TestAPISecret)

	calendarService := calendar.NewService(db)
	ledgerService := ledger.NewService(db)
	matchingEngine := matching.NewEngine(db, calendarService)
	tradingService := trading.NewService(db, calendarService, matchingEngine)
	orderbookService := orderbook.NewService(db)
	expiryService := expiry.NewService(db)
	settlementService := settlement.NewService(db)
	eodService := eod.NewService(db, calendarService, expiryService, settlementService, matchingEngine)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	authHandlers := auth.NewGinHandlers(authService)
	calendarHandlers := calendar.NewGinHandlers(calendarService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	tradingHandlers := trading.NewGinHandlers(tradingService)
	orderbookHandlers := orderbook.NewGinHandlers(orderbookService)
	eodHandlers := eod.NewGinHandlers(eodService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		orders := v1.Group("/orders")
		{
			orders.POST("", tradingHandlers.PlaceOrderHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.PUT("/:order_id", tradingHandlers.UpdateOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
			orders.GET("/:order_id/history", tradingHandlers.GetOrderHistoryHandler())
			orders.GET("/:order_id/logs", tradingHandlers.GetOrderLogsHandler())
		}

		v1.GET("/orderbook/:symbol", orderbookHandlers.GetBookHandler())
		v1.GET("/accounts/:account_id/balance", ledgerHandlers.GetBalanceHandler())
		v1.GET("/accounts/:account_id/portfolio", ledgerHandlers.GetPortfolioHandler())

		internal := v1.Group("/internal")
		{
			internal.POST("/accounts", ledgerHandlers.CreateAccountHandler())
			internal.POST("/equities", tradingHandlers.CreateEquityHandler())
			internal.POST("/cash/deposit", ledgerHandlers.DepositHandler())
			internal.POST("/cash/withdraw", ledgerHandlers.WithdrawHandler())
			internal.POST("/transfers/in", ledgerHandlers.TransferInHandler())
			internal.GET("/system-date", calendarHandlers.GetSystemDateHandler())
			internal.POST("/eod", eodHandlers.RunEndOfDayHandler())
			internal.POST("/rematch", eodHandlers.RematchAllHandler())
		}
	}

	return router.Run(":8080")
}
