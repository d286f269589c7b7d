package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGuard(t *testing.T, ttl time.Duration) (*Guard, *time.Time) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&PendingOrderRecord{}))

	guard := NewGuard(db, ttl)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return clock }
	return guard, &clock
}

func TestReserveFreshKey(t *testing.T) {
	guard, _ := newTestGuard(t, DefaultTTL)

	reservation, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	assert.Nil(t, reservation.Previous)
	assert.Equal(t, "BOT_A", reservation.OwnerID)
	assert.Equal(t, "key-1", reservation.Key)
}

func TestReserveUnresolvedKeyConflicts(t *testing.T) {
	guard, _ := newTestGuard(t, DefaultTTL)

	_, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)

	_, err = guard.Reserve("BOT_A", "key-1")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)
}

func TestReserveResolvedKeyReturnsCachedOutcome(t *testing.T) {
	guard, _ := newTestGuard(t, DefaultTTL)

	_, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	require.NoError(t, guard.Resolve("BOT_A", "key-1", OutcomeAccepted, "FILL_123"))

	reservation, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	require.NotNil(t, reservation.Previous)
	assert.Equal(t, OutcomeAccepted, reservation.Previous.Outcome)
	assert.Equal(t, "FILL_123", reservation.Previous.FillID)
}

func TestSameKeyDifferentOwnersAreIndependent(t *testing.T) {
	guard, _ := newTestGuard(t, DefaultTTL)

	_, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)

	reservation, err := guard.Reserve("BOT_B", "key-1")
	require.NoError(t, err)
	assert.Nil(t, reservation.Previous)
}

func TestExpiredRecordTreatedAsAbsent(t *testing.T) {
	guard, clock := newTestGuard(t, time.Hour)

	_, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	require.NoError(t, guard.Resolve("BOT_A", "key-1", OutcomeAccepted, "FILL_123"))

	// Past the TTL the resolved record no longer replays; the key is
	// reservable again.
	*clock = clock.Add(2 * time.Hour)
	reservation, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	assert.Nil(t, reservation.Previous)
}

func TestResolveIsSingleShot(t *testing.T) {
	guard, _ := newTestGuard(t, DefaultTTL)

	_, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	require.NoError(t, guard.Resolve("BOT_A", "key-1", OutcomeRejected, ""))

	err = guard.Resolve("BOT_A", "key-1", OutcomeAccepted, "FILL_123")
	assert.Error(t, err)

	reservation, err := guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	require.NotNil(t, reservation.Previous)
	assert.Equal(t, OutcomeRejected, reservation.Previous.Outcome)
}

func TestDeleteExpiredSweepsOnlyStaleRecords(t *testing.T) {
	guard, clock := newTestGuard(t, time.Hour)

	_, err := guard.Reserve("BOT_A", "old-key")
	require.NoError(t, err)

	*clock = clock.Add(30 * time.Minute)
	_, err = guard.Reserve("BOT_A", "new-key")
	require.NoError(t, err)

	// 90 minutes in: old-key is expired, new-key is not.
	removed, err := guard.GetDB().DeleteExpired(clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = guard.Reserve("BOT_A", "new-key")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)
}
