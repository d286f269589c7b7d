package limits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestLimiter returns a limiter over an in-memory database with a
// controllable clock.
func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&TradeLimitCounter{}))

	limiter := NewLimiter(db, cfg)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

func TestBotDailyCap(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{BotDailyCap: 3, BurstCap: 100})

	for i := 0; i < 3; i++ {
		*clock = clock.Add(time.Minute)
		decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
		require.NoError(t, err)
		assert.True(t, decision.Approved, "submission %d should pass", i+1)
	}

	decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "daily cap reached for bot BOT_A")

	// A different bot under the same user is unaffected.
	decision, err = limiter.CheckAndIncrement("BOT_B", "USER_1", "binance")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestUserDailyCapSpansBots(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{BotDailyCap: 100, UserDailyCap: 2, BurstCap: 100})

	for _, botID := range []string{"BOT_A", "BOT_B"} {
		decision, err := limiter.CheckAndIncrement(botID, "USER_1", "binance")
		require.NoError(t, err)
		assert.True(t, decision.Approved)
	}

	decision, err := limiter.CheckAndIncrement("BOT_C", "USER_1", "binance")
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "daily cap reached for user USER_1")
}

func TestDailyCapResetsAtUTCMidnight(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{BotDailyCap: 1, BurstCap: 100})

	decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	require.True(t, decision.Approved)

	decision, err = limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	require.False(t, decision.Approved)

	// Cross into the next UTC day and the counter starts fresh.
	*clock = time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	decision, err = limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestBurstWindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{BurstCap: 2, BurstWindow: 10 * time.Second})

	for i := 0; i < 2; i++ {
		decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
		require.NoError(t, err)
		require.True(t, decision.Approved)
		*clock = clock.Add(time.Second)
	}

	decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "burst cap reached for exchange binance")

	// The burst cap is per exchange.
	decision, err = limiter.CheckAndIncrement("BOT_A", "USER_1", "kraken")
	require.NoError(t, err)
	assert.True(t, decision.Approved)

	// Once the oldest submission falls out of the trailing window a new
	// one fits again.
	*clock = clock.Add(9 * time.Second)
	decision, err = limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestRejectionIncrementsNothing(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{BotDailyCap: 100, BurstCap: 1, BurstWindow: 10 * time.Second})

	decision, err := limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
	require.NoError(t, err)
	require.True(t, decision.Approved)

	// Burst-rejected submissions must not consume daily budget.
	for i := 0; i < 5; i++ {
		decision, err = limiter.CheckAndIncrement("BOT_A", "USER_1", "binance")
		require.NoError(t, err)
		require.False(t, decision.Approved)
	}

	now := clock.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := limiter.db.GetCount("BOT_A", WindowBotDay, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDefaultsApplied(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	assert.Equal(t, DefaultBotDailyCap, limiter.cfg.BotDailyCap)
	assert.Equal(t, DefaultUserDailyCap, limiter.cfg.UserDailyCap)
	assert.Equal(t, DefaultBurstCap, limiter.cfg.BurstCap)
	assert.Equal(t, DefaultBurstWindow, limiter.cfg.BurstWindow)
}
