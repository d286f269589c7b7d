package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
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
	"github.com/ksred/tradegate-api/internal/types"
	"github.com/ksred/tradegate-api/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	exchanges = []string{"binance", "coinbase", "kraken"}
	symbols   = []string{"BTC-USD", "ETH-USD", "SOL-USD"}
	sides     = []string{types.SideBuy, types.SideSell}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the guardrail API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"submit": {name: "Submit Order"},
			"get":    {name: "Get Fill"},
			"fund":   {name: "Fund Scope"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate obtains a JWT token using the test API credentials
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.record("auth", time.Since(start))
	}()

	body, _ := json.Marshal(auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	})

	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if !envelope.Success {
		return "", fmt.Errorf("authentication rejected with status %d", resp.StatusCode)
	}

	return envelope.Data.Token, nil
}

func (sc *simulationClient) record(route string, d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(d)
}

func (sc *simulationClient) recordFailure(route string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].failures++
}

// submitResult is the slice of the API response the simulation cares about.
type submitResult struct {
	Status string `json:"status"`
	Gate   string `json:"gate"`
	Reason string `json:"reason"`
	Cached bool   `json:"cached"`
	Fill   *struct {
		FillID string `json:"fill_id"`
	} `json:"fill"`
}

// fundScope seeds starting capital for an owner scope through the
// ledger events endpoint.
func (sc *simulationClient) fundScope(ownerID string, amount int64) error {
	start := time.Now()
	defer func() {
		sc.record("fund", time.Since(start))
	}()

	body, _ := json.Marshal(map[string]any{
		"owner_id": ownerID,
		"kind":     ledger.EventDeposit,
		"amount":   decimal.NewFromInt(amount),
		"currency": "USD",
		"note":     "simulation seed capital",
	})

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/ledger/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.recordFailure("fund")
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		sc.recordFailure("fund")
		return fmt.Errorf("funding failed with status %d", resp.StatusCode)
	}
	return nil
}

// submitOrder sends one order through the pipeline and returns the
// typed result, regardless of accept or reject.
func (sc *simulationClient) submitOrder(order *types.OrderRequest, idempotencyKey string) (*submitResult, error) {
	start := time.Now()
	defer func() {
		sc.record("submit", time.Since(start))
	}()

	body, _ := json.Marshal(order)
	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.recordFailure("submit")
		return nil, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool          `json:"success"`
		Data    *submitResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		sc.recordFailure("submit")
		return nil, err
	}
	if envelope.Data == nil {
		sc.recordFailure("submit")
		return nil, fmt.Errorf("submit failed with status %d", resp.StatusCode)
	}

	return envelope.Data, nil
}

// getFill retrieves a fill by ID to exercise the status endpoint
func (sc *simulationClient) getFill(fillID string) error {
	start := time.Now()
	defer func() {
		sc.record("get", time.Since(start))
	}()

	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/api/v1/orders/"+fillID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.recordFailure("get")
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		sc.recordFailure("get")
		return fmt.Errorf("get fill failed with status %d", resp.StatusCode)
	}
	return nil
}

// printPerformanceStats prints per-route latency statistics
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n⏱  Route Performance")
	fmt.Println(strings.Repeat("-", 80))
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-16s calls=%-5d failures=%-4d min=%-10v max=%-10v mean=%-10v median=%-10v p95=%-10v p99=%v\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}

// simulationStats aggregates outcomes across all workers
type simulationStats struct {
	mu             sync.Mutex
	TotalOrders    int
	Accepted       int
	CachedReplays  int
	RejectedByGate map[string]int
	Exchanges      map[string]int
	Sides          map[string]int
}

func (s *simulationStats) recordResult(order *types.OrderRequest, result *submitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalOrders++
	s.Exchanges[order.Exchange]++
	s.Sides[order.Side]++

	if result.Cached {
		s.CachedReplays++
	}
	if result.Status == pipeline.StatusAccepted {
		s.Accepted++
		return
	}
	s.RejectedByGate[result.Gate]++
}

// main runs the full simulation: it starts the API server in-process,
// funds a set of bot scopes, then drives concurrent workers that submit
// randomized orders (with occasional deliberate duplicate keys) and
// prints aggregate outcome and latency statistics.
func main() {
	gin.SetMode(gin.ReleaseMode)

	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Give the server a moment to come up
	time.Sleep(500 * time.Millisecond)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulation client")
	}

	// Seed capital so equity and breaker metrics have a base to work from
	for w := 0; w < numWorkers; w++ {
		ownerID := fmt.Sprintf("BOT_%d", w)
		if err := simClient.fundScope(ownerID, 100000); err != nil {
			log.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to fund scope")
		}
	}

	stats := &simulationStats{
		RejectedByGate: make(map[string]int),
		Exchanges:      make(map[string]int),
		Sides:          make(map[string]int),
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, simClient, stats)
		}(w)
	}
	wg.Wait()
	duration := time.Since(start)

	printSummary(stats, duration)
	simClient.printPerformanceStats()
}

// runWorker submits a randomized batch of orders for one bot scope
func runWorker(workerID int, simClient *simulationClient, stats *simulationStats) {
	numOrders := rand.Intn(maxOrders-minOrders+1) + minOrders
	ownerID := fmt.Sprintf("BOT_%d", workerID)

	for i := 0; i < numOrders; i++ {
		order := &types.OrderRequest{
			OwnerID:         ownerID,
			UserID:          "SIM_USER",
			Exchange:        exchanges[rand.Intn(len(exchanges))],
			Symbol:          symbols[rand.Intn(len(symbols))],
			Side:            sides[rand.Intn(len(sides))],
			OrderType:       types.OrderTypeMarket,
			Quantity:        decimal.NewFromFloat(float64(rand.Intn(100)+1) / 100),
			ExpectedEdgeBps: decimal.NewFromInt(int64(rand.Intn(80))),
			Mode:            types.ModePaper,
		}

		key := uuid.New().String()
		result, err := simClient.submitOrder(order, key)
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to submit order")
			continue
		}
		stats.recordResult(order, result)

		// Occasionally resubmit the same key to exercise idempotent replay
		if rand.Intn(10) == 0 {
			replay, err := simClient.submitOrder(order, key)
			if err == nil {
				stats.recordResult(order, replay)
			}
		}

		if result.Fill != nil {
			if err := simClient.getFill(result.Fill.FillID); err != nil {
				log.Error().Err(err).Str("fill_id", result.Fill.FillID).Msg("Failed to fetch fill")
			}
		}

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// printSummary prints the outcome distribution with simple ASCII bar charts
func printSummary(stats *simulationStats, duration time.Duration) {
	fmt.Printf(`
%s
📊 Simulation Summary
%s
Total Orders:     %d
Accepted:         %d
Cached Replays:   %d
Duration:         %v

🚦 Rejections by Gate
--------------------
`, strings.Repeat("=", 80), strings.Repeat("-", 80),
		stats.TotalOrders, stats.Accepted, stats.CachedReplays, duration.Round(time.Millisecond))

	for gate, count := range stats.RejectedByGate {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 40)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-16s: %s (%d)\n", gate, bar, count)
	}

	fmt.Println("\n📈 Exchange Distribution")
	fmt.Println("----------------------")
	maxCount := 0
	for _, count := range stats.Exchanges {
		if count > maxCount {
			maxCount = count
		}
	}
	for venue, count := range stats.Exchanges {
		barLength := int(float64(count) / float64(maxCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-10s: %s (%d)\n", venue, bar, count)
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	acceptRate := 0.0
	if stats.TotalOrders > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.TotalOrders) * 100
	}
	log.Info().
		Float64("accept_rate", acceptRate).
		Int("total_orders", stats.TotalOrders).
		Int("accepted", stats.Accepted).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// startServer initializes and starts the guardrail API server in-process
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService("tradegate-secret-key")
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	marks := marketdata.NewStaticProvider()
	for _, venue := range exchanges {
		marks.SetPrice(venue, "BTC-USD", decimal.NewFromInt(65000))
		marks.SetPrice(venue, "ETH-USD", decimal.NewFromInt(3400))
		marks.SetPrice(venue, "SOL-USD", decimal.NewFromInt(150))
	}

	ledgerStore := ledger.NewStore(db, marks)
	guard := idempotency.NewGuard(db, idempotency.DefaultTTL)
	calculator := fees.NewCalculator(fees.Config{
		Default: fees.FeeTable{
			MakerBps:  decimal.NewFromInt(10),
			TakerBps:  decimal.NewFromInt(15),
			SpreadBps: decimal.NewFromInt(3),
		},
		SlippageBufferBps: decimal.NewFromInt(5),
		SafetyMarginBps:   decimal.NewFromInt(3),
	})
	limiter := limits.NewLimiter(db, limits.Config{})
	breakerEngine := breaker.NewEngine(db, ledgerStore, breaker.Config{})
	executor := exchange.NewSimulator(exchange.DefaultVenues(), marks)

	pipelineService := pipeline.NewService(
		guard, calculator, limiter, breakerEngine, executor, ledgerStore,
		pipeline.DefaultExecutionTimeout,
	)

	// Initialize router
	router := gin.New()
	authHandlers := auth.NewGinHandlers(authService)
	pipelineHandlers := pipeline.NewGinHandlers(pipelineService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerStore)
	breakerHandlers := breaker.NewGinHandlers(breakerEngine)

	// Setup routes
	setupRoutes(router, authHandlers, pipelineHandlers, ledgerHandlers, breakerHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
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

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.GET("/breaker/:scope_id", breakerHandlers.GetStateHandler())
			internal.POST("/breaker/:scope_id/reset", breakerHandlers.ResetHandler())
		}
	}
}
