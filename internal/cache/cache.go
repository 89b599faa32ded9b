package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tgvault/tgvault/internal/storage"
	"github.com/tgvault/tgvault/internal/types"
)

// UserCache wraps a UserStore with Redis read-through caching. Every update
// message hits the user row, so the hot path reads Redis and only touches
// Postgres on a miss or a write.
type UserCache struct {
	users storage.UserStore
	redis *redis.Client
}

func NewUserCache(users storage.UserStore, redisClient *redis.Client) *UserCache {
	return &UserCache{
		users: users,
		redis: redisClient,
	}
}

// Cache key patterns
const (
	userKey = "user:%d"
)

// Cache durations
const (
	// Tier changes must propagate quickly: a promoted user should see
	// premium limits on their next message, not next hour.
	userCacheDuration = 1 * time.Minute
)

func (c *UserCache) key(id int64) string {
	return fmt.Sprintf(userKey, id)
}

// GetUser returns the cached user or fetches from the database.
func (c *UserCache) GetUser(ctx context.Context, id int64) (*types.User, error) {
	cached, err := c.redis.Get(ctx, c.key(id)).Result()
	if err == nil {
		var user types.User
		if err := json.Unmarshal([]byte(cached), &user); err == nil {
			return &user, nil
		}
	}

	user, err := c.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	c.set(ctx, user)
	return user, nil
}

// UpsertUser writes through and refreshes the cached row.
func (c *UserCache) UpsertUser(ctx context.Context, id int64, username, firstName, lastName string) (*types.User, error) {
	user, err := c.users.UpsertUser(ctx, id, username, firstName, lastName)
	if err != nil {
		return nil, err
	}

	c.set(ctx, user)
	return user, nil
}

// SetTier invalidates rather than refreshes: the authoritative row comes
// back on the next read.
func (c *UserCache) SetTier(ctx context.Context, id int64, tier types.Tier) error {
	if err := c.users.SetTier(ctx, id, tier); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *UserCache) SetLanguage(ctx context.Context, id int64, language string) error {
	if err := c.users.SetLanguage(ctx, id, language); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *UserCache) set(ctx context.Context, user *types.User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	c.redis.Set(ctx, c.key(user.ID), data, userCacheDuration)
}

func (c *UserCache) invalidate(ctx context.Context, id int64) {
	c.redis.Del(ctx, c.key(id))
}
