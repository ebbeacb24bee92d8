package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown is a per-slug entry latch backed by SETNX with a TTL. After a
// flatten or a failed round, arming the cooldown keeps the loop from
// immediately re-entering the same market. The latch outlives a process
// restart, which is the point of keeping it in Redis rather than in memory.
type Cooldown struct {
	rdb *redis.Client
}

// NewCooldown creates a Cooldown latch backed by the given Client.
func NewCooldown(c *Client) *Cooldown {
	return &Cooldown{rdb: c.Underlying()}
}

func cooldownKey(slug string) string {
	return "cooldown:" + slug
}

// Arm starts a cooldown for slug lasting ttl. Re-arming an active cooldown
// extends it.
func (cd *Cooldown) Arm(ctx context.Context, slug string, ttl time.Duration) error {
	if err := cd.rdb.Set(ctx, cooldownKey(slug), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("redis: arm cooldown %s: %w", slug, err)
	}
	return nil
}

// Active reports whether slug is still cooling down.
func (cd *Cooldown) Active(ctx context.Context, slug string) (bool, error) {
	n, err := cd.rdb.Exists(ctx, cooldownKey(slug)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s: %w", slug, err)
	}
	return n > 0, nil
}
