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
	"github.com/shopspring/decimal"

	"github.com/ksred/tradegate-api/internal/auth"
	"github.com/ksred/tradegate-api/internal/breaker"
	"github.com/ksred/tradegate-api/internal/database"
	"github.com/ksred/tradegate-api/internal/exchange"
	"github.com/ksred/tradegate-api/internal/fees"
	"github.com/ksred/tradegate-api/internal/idempotency"
	"github.com/ksred/tradegate-api/internal/ledger"
	"github.com/ksred/tradegate-api/internal/limits"
	"github.com/ksred/tradegate-api/internal/marketdata"
	"github.com/ksred/tradegate-api/internal/pipeline"
	"github.com/ksred/tradegate-api/pkg/middleware"

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

// main initializes and runs the guardrail pipeline server with graceful
// shutdown support. Every component is constructed here and injected
// explicitly; there are no process-wide engine singletons.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "tradegate-secret-key"
	}
	middleware.SetJWTSecret(jwtSecret)
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	marks := marketdata.NewStaticProvider()
	seedMarkPrices(marks)

	ledgerStore := ledger.NewStore(db, marks)
	ledgerHandlers := ledger.NewGinHandlers(ledgerStore)

	guard := idempotency.NewGuard(db, idempotency.DefaultTTL)
	calculator := fees.NewCalculator(feeConfig())
	limiter := limits.NewLimiter(db, limits.Config{})
	breakerEngine := breaker.NewEngine(db, ledgerStore, breaker.Config{})
	breakerHandlers := breaker.NewGinHandlers(breakerEngine)

	executor := exchange.NewSimulator(exchange.DefaultVenues(), marks)

	pipelineService := pipeline.NewService(
		guard, calculator, limiter, breakerEngine, executor, ledgerStore,
		pipeline.DefaultExecutionTimeout,
	)
	pipelineHandlers := pipeline.NewGinHandlers(pipelineService)

	// Create and start the idempotency sweeper
	sweeper := idempotency.NewSweeper(guard.GetDB(), time.Hour)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, pipelineHandlers, ledgerHandlers, breakerHandlers)

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

// feeConfig builds the per-venue fee tables matching the simulated
// venues.
func feeConfig() fees.Config {
	return fees.Config{
		Tables: map[string]fees.FeeTable{
			"binance": {
				MakerBps:  decimal.NewFromInt(8),
				TakerBps:  decimal.NewFromInt(10),
				SpreadBps: decimal.NewFromInt(2),
			},
			"coinbase": {
				MakerBps:  decimal.NewFromInt(15),
				TakerBps:  decimal.NewFromInt(25),
				SpreadBps: decimal.NewFromInt(4),
			},
			"kraken": {
				MakerBps:  decimal.NewFromInt(12),
				TakerBps:  decimal.NewFromInt(16),
				SpreadBps: decimal.NewFromInt(3),
			},
		},
		Default: fees.FeeTable{
			MakerBps:  decimal.NewFromInt(20),
			TakerBps:  decimal.NewFromInt(30),
			SpreadBps: decimal.NewFromInt(5),
		},
		SlippageBufferBps: decimal.NewFromInt(5),
		SafetyMarginBps:   decimal.NewFromInt(3),
		MinEdgeBps:        decimal.NewFromInt(10),
	}
}

// seedMarkPrices loads reference prices for the simulated venues.
func seedMarkPrices(marks *marketdata.StaticProvider) {
	for _, venue := range []string{"binance", "coinbase", "kraken"} {
		marks.SetPrice(venue, "BTC-USD", decimal.NewFromInt(65000))
		marks.SetPrice(venue, "ETH-USD", decimal.NewFromInt(3400))
		marks.SetPrice(venue, "SOL-USD", decimal.NewFromInt(150))
	}
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Ledger routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	pipelineHandlers *pipeline.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	breakerHandlers *breaker.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", pipelineHandlers.SubmitOrderHandler())
			orders.GET("/:fill_id", pipelineHandlers.GetFillHandler())
		}

		// Ledger routes
		ledgerGroup := v1.Group("/ledger")
		ledgerGroup.Use(middleware.JWTAuth())
		{
			ledgerGroup.POST("/events", ledgerHandlers.AppendEventHandler())
			ledgerGroup.GET("/:owner_id/equity", ledgerHandlers.EquityHandler())
			ledgerGroup.GET("/:owner_id/drawdown", ledgerHandlers.DrawdownHandler())
			ledgerGroup.GET("/:owner_id/profit-series", ledgerHandlers.ProfitSeriesHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.GET("/breaker/:scope_id", breakerHandlers.GetStateHandler())
			internal.POST("/breaker/:scope_id/reset", breakerHandlers.ResetHandler())
		}
	}
}
