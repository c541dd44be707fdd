package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// RoleCache caches resolved roles for the hot read path. A small in-process
// expirable LRU fronts an optional shared Redis layer so that a fleet of
// resolver instances converges on the same answers.
//
// Only positive results are cached; a user without a resolvable role is
// re-resolved every time so that a just-assigned role shows up promptly.
type RoleCache struct {
	local   *lru.LRU[string, roles.Role]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRoleCache creates an in-process cache holding up to size entries for
// ttl.
func NewRoleCache(size int, ttl time.Duration) *RoleCache {
	return &RoleCache{
		local: lru.NewLRU[string, roles.Role](size, nil, ttl),
		ttl:   ttl,
	}
}

// NewRoleCacheWithRedis creates a cache that additionally reads through and
// writes through a shared Redis instance.
func NewRoleCacheWithRedis(size int, ttl time.Duration, client *redis.Client) *RoleCache {
	c := NewRoleCache(size, ttl)
	c.redis = client
	return c
}

// SetMetrics attaches Redis command counters to the cache.
func (c *RoleCache) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

func (c *RoleCache) countCommand(command, status string) {
	if c.metrics != nil {
		c.metrics.RedisCommandsTotal.WithLabelValues(command, status).Inc()
	}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("rolecore:role:%s", userID)
}

// Get returns the cached resolved role for a user.
func (c *RoleCache) Get(ctx context.Context, userID string) (roles.Role, bool) {
	if role, ok := c.local.Get(userID); ok {
		return role, true
	}

	if c.redis == nil {
		return "", false
	}
	data, err := c.redis.Get(ctx, cacheKey(userID)).Result()
	switch {
	case err == redis.Nil:
		c.countCommand("get", "miss")
		return "", false
	case err != nil:
		// Transport errors are cache misses too.
		c.countCommand("get", "error")
		return "", false
	}
	c.countCommand("get", "hit")
	var role roles.Role
	if err := json.Unmarshal([]byte(data), &role); err != nil {
		return "", false
	}
	c.local.Add(userID, role)
	return role, true
}

// Set stores a resolved role for a user.
func (c *RoleCache) Set(ctx context.Context, userID string, role roles.Role) {
	c.local.Add(userID, role)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(role)
	if err != nil {
		return
	}
	// Best effort; a failed cache write is not a resolver failure.
	if err := c.redis.Set(ctx, cacheKey(userID), data, c.ttl).Err(); err != nil {
		c.countCommand("set", "error")
		return
	}
	c.countCommand("set", "success")
}

// Invalidate drops a user's cached role. Called after migration-on-read and
// by rollback flows that change role state out from under the cache.
func (c *RoleCache) Invalidate(ctx context.Context, userID string) {
	c.local.Remove(userID)

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		c.countCommand("del", "error")
		return
	}
	c.countCommand("del", "success")
}
