package usecase

import "time"

// RateLimiter throttles user actions. It reports how long to wait when the
// action is refused.
type RateLimiter interface {
	Allow(userID, action string) (bool, time.Duration)
}
