// Package limits enforces per-bot, per-user, and per-exchange burst
// submission caps. Day windows are UTC calendar days backed by persisted
// counters; the burst window is a true sliding window over the trailing
// few seconds, not a clock-aligned bucket.
package limits

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Default caps. The documentation for the deployed system quotes several
// figures for the per-bot cap; 50/day is the conservative one and all
// caps are configuration, not law.
const (
	DefaultBotDailyCap  = 50
	DefaultUserDailyCap = 500
	DefaultBurstCap     = 10
	DefaultBurstWindow  = 10 * time.Second
)

// Config holds the limiter caps. Zero values take the defaults.
type Config struct {
	BotDailyCap  int
	UserDailyCap int
	BurstCap     int
	BurstWindow  time.Duration
}

// Decision is the limiter's verdict for one submission.
type Decision struct {
	Approved bool
	Reason   string
}

// Limiter evaluates and increments submission counters. A single mutex
// serializes evaluations so no two concurrent submissions can both
// observe "under cap" and increment past it (single-instance; swap for
// database-level locking when scaling horizontally).
type Limiter struct {
	db  *Database
	cfg Config

	mu     sync.Mutex
	bursts map[string][]time.Time // exchange -> submission times in the trailing window
	now    func() time.Time
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(gormDB *gorm.DB, cfg Config) *Limiter {
	if cfg.BotDailyCap <= 0 {
		cfg.BotDailyCap = DefaultBotDailyCap
	}
	if cfg.UserDailyCap <= 0 {
		cfg.UserDailyCap = DefaultUserDailyCap
	}
	if cfg.BurstCap <= 0 {
		cfg.BurstCap = DefaultBurstCap
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = DefaultBurstWindow
	}
	return &Limiter{
		db:     NewDatabase(gormDB),
		cfg:    cfg,
		bursts: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// CheckAndIncrement evaluates every applicable counter and, only if all
// are under their caps, increments them atomically. A rejection
// increments nothing.
func (l *Limiter) CheckAndIncrement(botID, userID, exchange string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Evaluate first; nothing is written until every check passes.
	recent := l.pruneBurst(exchange, now)
	if len(recent) >= l.cfg.BurstCap {
		return Decision{Reason: fmt.Sprintf("burst cap reached for exchange %s: %d submissions in %s",
			exchange, len(recent), l.cfg.BurstWindow)}, nil
	}

	botCount, err := l.db.GetCount(botID, WindowBotDay, dayStart)
	if err != nil {
		return Decision{}, err
	}
	if botCount >= l.cfg.BotDailyCap {
		return Decision{Reason: fmt.Sprintf("daily cap reached for bot %s: %d/%d",
			botID, botCount, l.cfg.BotDailyCap)}, nil
	}

	userCount, err := l.db.GetCount(userID, WindowUserDay, dayStart)
	if err != nil {
		return Decision{}, err
	}
	if userCount >= l.cfg.UserDailyCap {
		return Decision{Reason: fmt.Sprintf("daily cap reached for user %s: %d/%d",
			userID, userCount, l.cfg.UserDailyCap)}, nil
	}

	keys := []CounterKey{
		{ScopeID: botID, WindowKind: WindowBotDay},
		{ScopeID: userID, WindowKind: WindowUserDay},
	}
	if err := l.db.IncrementAll(keys, dayStart); err != nil {
		return Decision{}, err
	}

	l.bursts[exchange] = append(recent, now)
	return Decision{Approved: true}, nil
}

// pruneBurst drops burst entries older than the trailing window and
// returns the surviving ones.
func (l *Limiter) pruneBurst(exchange string, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.BurstWindow)
	previous := l.bursts[exchange]
	recent := previous[:0]
	for _, at := range previous {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	l.bursts[exchange] = recent
	return recent
}
