package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/reviewdeck/core/internal/cstore"
)

// sessionCache is an optional look-aside cache in front of the C-STORE
// sessions table, giving clustered deployments (spec §4.1's owning-server-id /
// T_orphan note) a shared fast path for session resolution without making
// redis load-bearing: every cache miss falls back to C-STORE.
type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// newSessionCache returns nil (a no-op cache) when addr is empty.
func newSessionCache(addr string, ttl time.Duration) *sessionCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &sessionCache{client: client, ttl: ttl}
}

func (c *sessionCache) get(ctx context.Context, id string) (cstore.Session, bool) {
	if c == nil {
		return cstore.Session{}, false
	}
	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		return cstore.Session{}, false
	}
	var sess cstore.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return cstore.Session{}, false
	}
	return sess, true
}

func (c *sessionCache) set(ctx context.Context, sess cstore.Session) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(sess.ID), raw, c.ttl).Err()
}

func (c *sessionCache) invalidate(ctx context.Context, id string) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, cacheKey(id)).Err()
}

func cacheKey(id string) string { return "session:" + id }
