package github

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal state - every search goes to the API.
	BreakerClosed BreakerState = iota
	// BreakerOpen means recent searches kept failing - searches are skipped.
	BreakerOpen
	// BreakerHalfOpen means the cooldown passed and one probe search is in flight.
	BreakerHalfOpen
)

// Breaker stops a Client from calling an API that keeps failing. After
// Threshold consecutive failures it opens and Fetch returns empty results
// without a request. Once Cooldown has passed a single probe is let through;
// its outcome closes the breaker or opens it for another cooldown.
type Breaker struct {
	mu sync.Mutex

	// Configuration
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	// State
	state         BreakerState
	failures      int       // consecutive failures while closed
	openedAt      time.Time // when the breaker last opened
	totalAllowed  int64
	totalRejected int64
}

// BreakerConfig holds configuration for the circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	// Default: 5
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30 seconds
	Cooldown time.Duration

	// Logger for logging breaker transitions.
	Logger *slog.Logger
}

// NewBreaker creates a Breaker with the given configuration.
func NewBreaker(cfg *BreakerConfig) *Breaker {
	if cfg == nil {
		cfg = &BreakerConfig{}
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		state:     BreakerClosed,
	}
}

// Allow reports whether a search may be sent now.
func (b *Breaker) Allow() bool {
	return b.AllowAt(time.Now())
}

// AllowAt reports whether a search may be sent at the given time.
// This variant is useful for testing with controlled timestamps.
func (b *Breaker) AllowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			b.totalRejected++
			return false
		}
		b.state = BreakerHalfOpen
		b.logger.Info("circuit breaker probing", "cooldown", b.cooldown)
		b.totalAllowed++
		return true

	case BreakerHalfOpen:
		// Only the probe goes through.
		b.totalRejected++
		return false
	}

	b.totalAllowed++
	return true
}

// Success records a search that got a usable response.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		b.logger.Info("circuit breaker reset: search succeeded")
	}
	b.state = BreakerClosed
	b.failures = 0
}

// Failure records a failed search.
func (b *Breaker) Failure() {
	b.FailureAt(time.Now())
}

// FailureAt records a failed search at the given time.
func (b *Breaker) FailureAt(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trip(now)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip(now)
		}
	}
}

// Release gives back an allowed search that was abandoned before it got an
// answer, so a pending probe does not hold the breaker half open.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
	}
}

// trip opens the breaker. Caller holds mu.
func (b *Breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.logger.Warn("circuit breaker tripped: searches keep failing",
		"consecutive_failures", b.failures,
		"threshold", b.threshold,
		"cooldown", b.cooldown,
	)
	b.failures = 0
}

// State returns the current state of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:         b.state,
		TotalAllowed:  b.totalAllowed,
		TotalRejected: b.totalRejected,
		Failures:      b.failures,
		Threshold:     b.threshold,
	}
}

// BreakerStats holds breaker statistics.
type BreakerStats struct {
	State         BreakerState
	TotalAllowed  int64
	TotalRejected int64
	Failures      int
	Threshold     int
}

// Reset manually closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// String returns a human-readable state description.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
