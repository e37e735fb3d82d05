package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionBlockUser   = "block_user"
	ActionAPIRequest  = "api_request"
)

// Policy is a token bucket: Burst tokens, one token regained every Every.
type Policy struct {
	Burst int
	Every time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
}

// NewRateLimiter creates a limiter with the default per-action policies.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		policies: map[string]Policy{
			// 10 messages per minute, one every 6 seconds sustained
			ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
			ActionBlockUser:   {Burst: 5, Every: time.Minute},
			ActionAPIRequest:  {Burst: 60, Every: 250 * time.Millisecond},
		},
		fallback: Policy{Burst: 20, Every: 3 * time.Second},
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// SetPolicy overrides the policy of an action. Existing buckets keep their old limits.
func (rl *RateLimiter) SetPolicy(action string, p Policy) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.policies[action] = p
}

// Allow reports whether userID may perform action now and consumes a token if so.
// When denied it returns how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		p, found := rl.policies[action]
		if !found {
			p = rl.fallback
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(p.Every), p.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// GetStatus returns the tokens currently available for a user action.
func (rl *RateLimiter) GetStatus(userID, action string) (tokens int, maxTokens int) {
	rl.mutex.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mutex.Unlock()
	if !ok {
		return 0, 0
	}
	return int(b.limiter.TokensAt(rl.now())), b.limiter.Burst()
}

// Cleanup removes buckets not used within idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}
