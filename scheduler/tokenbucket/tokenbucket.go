// Package tokenbucket provides the replenishing balance each scheduling group
// spends to get its requests dispatched.
package tokenbucket

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// TokenBucket holds a balance in [0, Capacity] that grows by Rate tokens per
// second. Replenishment is computed lazily on each access, there is no
// background refill.
type TokenBucket struct {
	capacity float64
	rate     float64
	clk      clock.PassiveClock

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// New creates a full bucket. Capacity and rate must be non-negative; a zero
// rate bucket never refills once drained.
func New(capacity, rate float64, clk clock.PassiveClock) (*TokenBucket, error) {
	if capacity < 0 || math.IsNaN(capacity) || math.IsInf(capacity, 0) {
		return nil, errors.Errorf("invalid token bucket capacity %v", capacity)
	}
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, errors.Errorf("invalid token bucket rate %v", rate)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TokenBucket{
		capacity:   capacity,
		rate:       rate,
		clk:        clk,
		tokens:     capacity,
		lastRefill: clk.Now(),
	}, nil
}

func (b *TokenBucket) Capacity() float64 { return b.capacity }
func (b *TokenBucket) Rate() float64     { return b.rate }

// TryConsume takes one token if a whole token is available, and reports
// whether it did.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(b.clk.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Refund returns one token taken by TryConsume, up to Capacity.
func (b *TokenBucket) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(b.clk.Now())
	b.tokens = math.Min(b.capacity, b.tokens+1)
}

// Balance returns the replenished balance as of now.
func (b *TokenBucket) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(b.clk.Now())
	return b.tokens
}

// Must be called with mu held. A clock that moved backwards adds nothing.
func (b *TokenBucket) replenish(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed.Seconds()*b.rate)
	b.lastRefill = now
}

func (b *TokenBucket) String() string {
	return fmt.Sprintf("TokenBucket{capacity:%v, rate:%v/s, balance:%.2f}", b.capacity, b.rate, b.Balance())
}
