package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultCycleLeaseKey = "lead-retry-engine:cycle-lease"
	defaultCycleLeaseTTL = 2 * time.Minute
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// CycleLease is a cluster-wide lock that keeps processing cycles of different
// replicas from overlapping. The TTL bounds how long a crashed holder blocks
// other replicas.
type CycleLease struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	token  func() string
	held   string
}

func NewCycleLease(client *goredis.Client, ttl time.Duration) (*CycleLease, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultCycleLeaseTTL
	}

	return &CycleLease{
		client: client,
		key:    defaultCycleLeaseKey,
		ttl:    ttl,
		token:  func() string { return uuid.NewString() },
	}, nil
}

// Acquire reports whether this process now holds the lease. Callers serialize
// Acquire/Release pairs themselves.
func (l *CycleLease) Acquire(ctx context.Context) (bool, error) {
	token := l.token()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cycle lease: %w", err)
	}
	if ok {
		l.held = token
	}
	return ok, nil
}

// Release drops the lease only if this process still holds it.
func (l *CycleLease) Release(ctx context.Context) error {
	if l.held == "" {
		return nil
	}
	token := l.held
	l.held = ""

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release cycle lease: %w", err)
	}
	return nil
}
