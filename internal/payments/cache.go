package payments

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// StatusCache keeps recent session statuses in Redis so hot status polls
// skip Postgres and the gateways. It is read-through only; a cache miss or
// a Redis outage just falls back to the durable path.
type StatusCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewStatusCache creates the cache. A nil client disables caching.
func NewStatusCache(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *StatusCache {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StatusCache{rdb: rdb, ttl: ttl, logger: logger}
}

func statusKey(reference string) string {
	return "payments:status:" + reference
}

// Get returns the cached status for a reference, or "" on miss.
func (c *StatusCache) Get(ctx context.Context, reference string) SessionStatus {
	if c == nil || c.rdb == nil {
		return ""
	}
	val, err := c.rdb.Get(ctx, statusKey(reference)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("status cache read failed", "error", err, "reference", reference)
		}
		return ""
	}
	return SessionStatus(val)
}

// Set stores the status for a reference. Terminal statuses keep the
// configured TTL; open statuses get a short one so live polls stay fresh.
func (c *StatusCache) Set(ctx context.Context, reference string, status SessionStatus) {
	if c == nil || c.rdb == nil {
		return
	}
	ttl := c.ttl
	if !status.Terminal() {
		ttl = 30 * time.Second
	}
	if err := c.rdb.Set(ctx, statusKey(reference), string(status), ttl).Err(); err != nil {
		c.logger.Warn("status cache write failed", "error", err, "reference", reference)
	}
}

// tokenCache shares gateway OAuth tokens across instances via Redis, with
// an in-process fallback when Redis is absent. The gateway clients refresh
// tokens from concurrent requests, so the in-process fields are guarded.
type tokenCache struct {
	rdb *redis.Client
	key string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenCache(rdb *redis.Client, key string) *tokenCache {
	return &tokenCache{rdb: rdb, key: key}
}

func (t *tokenCache) get(ctx context.Context, now time.Time) string {
	if t.rdb != nil {
		if val, err := t.rdb.Get(ctx, t.key).Result(); err == nil && val != "" {
			return val
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && now.Before(t.expires) {
		return t.token
	}
	return ""
}

func (t *tokenCache) put(ctx context.Context, token string, ttl time.Duration, now time.Time) {
	t.mu.Lock()
	t.token = token
	t.expires = now.Add(ttl)
	t.mu.Unlock()
	if t.rdb != nil {
		_ = t.rdb.Set(ctx, t.key, token, ttl).Err()
	}
}
