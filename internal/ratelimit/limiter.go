package ratelimit

import "context"

// RateLimiter throttles outbound call placement per dialer agent.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
