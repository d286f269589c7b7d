// Package idempotency deduplicates order submissions by a caller-supplied
// key. A reservation must be taken before an order is executed and
// resolved exactly once afterwards; duplicate keys observe the original
// outcome instead of executing twice.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultTTL is how long a record blocks resubmission before it is
// treated as absent.
const DefaultTTL = 24 * time.Hour

// ErrDuplicateInFlight is returned when an unresolved, unexpired record
// already exists for the (owner, key) pair. The caller should wait for
// the original submission to settle rather than resubmit.
var ErrDuplicateInFlight = errors.New("duplicate submission already in flight")

// Reservation is the result of a successful Reserve call. When Previous
// is set, the pair was already resolved and the caller must return the
// cached outcome instead of executing again.
type Reservation struct {
	OwnerID  string
	Key      string
	Previous *PendingOrderRecord
}

// Guard reserves and resolves idempotency records.
type Guard struct {
	db  *Database
	ttl time.Duration
	now func() time.Time
}

// NewGuard creates a guard with the given record TTL; ttl <= 0 uses
// DefaultTTL.
func NewGuard(gormDB *gorm.DB, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		db:  NewDatabase(gormDB),
		ttl: ttl,
		now: time.Now,
	}
}

// Reserve claims the (owner, key) pair. Exactly one of three things
// happens: a fresh reservation is returned, the cached outcome of a
// resolved record is returned via Reservation.Previous, or
// ErrDuplicateInFlight reports an unresolved concurrent submission.
// Expired records are treated as absent.
func (g *Guard) Reserve(ownerID, key string) (*Reservation, error) {
	record, err := g.db.GetRecord(ownerID, key)
	if err != nil {
		return nil, err
	}

	if record != nil {
		if record.ExpiresAt.After(g.now()) {
			if record.Resolved() {
				return &Reservation{OwnerID: ownerID, Key: key, Previous: record}, nil
			}
			return nil, ErrDuplicateInFlight
		}
		// Expired: clear it so the unique index admits a new reservation.
		if err := g.db.DeleteRecord(record); err != nil {
			return nil, err
		}
	}

	fresh := &PendingOrderRecord{
		OwnerID:        ownerID,
		IdempotencyKey: key,
		SubmittedAt:    g.now(),
		ExpiresAt:      g.now().Add(g.ttl),
	}
	if err := g.db.CreateRecord(fresh); err != nil {
		if !IsDuplicateKey(err) {
			return nil, err
		}
		// Lost an insert race; the winner's record decides.
		winner, rerr := g.db.GetRecord(ownerID, key)
		if rerr != nil {
			return nil, rerr
		}
		if winner != nil && winner.Resolved() {
			return &Reservation{OwnerID: ownerID, Key: key, Previous: winner}, nil
		}
		return nil, ErrDuplicateInFlight
	}

	return &Reservation{OwnerID: ownerID, Key: key}, nil
}

// Resolve writes the final outcome for a reservation. It must be called
// exactly once per fresh reservation, for accepted and rejected
// submissions alike.
func (g *Guard) Resolve(ownerID, key, outcome, fillID string) error {
	return g.db.ResolveRecord(ownerID, key, outcome, fillID)
}

// GetDB exposes the database layer for the sweeper.
func (g *Guard) GetDB() *Database {
	return g.db
}

// Sweeper periodically removes expired idempotency records.
type Sweeper struct {
	db       *Database
	interval time.Duration
}

// NewSweeper creates a sweeper that runs on the given interval;
// interval <= 0 defaults to one hour.
func NewSweeper(db *Database, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{db: db, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "idempotency_sweeper").Logger()
	logger.Info().Msg("starting idempotency sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down idempotency sweeper")
			return
		case <-ticker.C:
			removed, err := s.db.DeleteExpired(time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("failed to sweep expired idempotency records")
				continue
			}
			if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("swept expired idempotency records")
			}
		}
	}
}
