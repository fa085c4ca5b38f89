package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/munal98/fintra-stock-trading-sub001/internal/auth"
	"github.com/munal98/fintra-stock-trading-sub001/internal/calendar"
	"github.com/munal98/fintra-stock-trading-sub001/internal/database"
	"github.com/munal98/fintra-stock-trading-sub001/internal/eod"
	"github.com/munal98/fintra-stock-trading-sub001/internal/expiry"
	"github.com/munal98/fintra-stock-trading-sub001/internal/ledger"
	"github.com/munal98/fintra-stock-trading-sub001/internal/matching"
	"github.com/munal98/fintra-stock-trading-sub001/internal/orderbook"
	"github.com/munal98/fintra-stock-trading-sub001/internal/outbox"
	"github.com/munal98/fintra-stock-trading-sub001/internal/settlement"
	"github.com/munal98/fintra-stock-trading-sub001/internal/trading"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading ledger server with graceful
// shutdown support. It wires the calendar, ledger, matching, settlement
// and end-of-day services, starts the outbox dispatcher and EOD scheduler,
// and exposes the API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(db, middleware.JWTSecret())
	authHandlers := auth.NewGinHandlers(authService)
	// Register development credentials
	authService.RegisterClient(auth.TestClientID, auth.TestAPISecret)

	calendarService := calendar.NewService(db)
	calendarHandlers := calendar.NewGinHandlers(calendarService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	matchingEngine := matching.NewEngine(db, calendarService)

	tradingService := trading.NewService(db, calendarService, matchingEngine)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	orderbookService := orderbook.NewService(db)
	orderbookHandlers := orderbook.NewGinHandlers(orderbookService)

	expiryService := expiry.NewService(db)
	settlementService := settlement.NewService(db)

	eodService := eod.NewService(db, calendarService, expiryService, settlementService, matchingEngine)
	eodHandlers := eod.NewGinHandlers(eodService)

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatcher := outbox.NewDispatcher(db, outbox.LoggingSink{}, time.Second)
	go dispatcher.Start(workerCtx)

	if interval := os.Getenv("EOD_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Invalid EOD_INTERVAL")
		}
		scheduler := eod.NewScheduler(eodService, d)
		go scheduler.Start(workerCtx)
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, tradingHandlers, ledgerHandlers,
		orderbookHandlers, calendarHandlers, eodHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order/account routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	orderbookHandlers *orderbook.GinHandlers,
	calendarHandlers *calendar.GinHandlers,
	eodHandlers *eod.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", tradingHandlers.PlaceOrderHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.PUT("/:order_id", tradingHandlers.UpdateOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
			orders.GET("/:order_id/history", tradingHandlers.GetOrderHistoryHandler())
			orders.GET("/:order_id/logs", tradingHandlers.GetOrderLogsHandler())
		}

		// Account routes
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth())
		{
			accounts.GET("/:account_id/balance", ledgerHandlers.GetBalanceHandler())
			accounts.GET("/:account_id/portfolio", ledgerHandlers.GetPortfolioHandler())
			accounts.GET("/:account_id/orders", tradingHandlers.ListOrdersHandler())
		}

		// Order book routes
		book := v1.Group("/orderbook")
		book.Use(middleware.JWTAuth())
		{
			book.GET("/:symbol", orderbookHandlers.GetBookHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
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
}
