package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/tgvault/tgvault/internal/storage"
	"github.com/tgvault/tgvault/internal/types"
)

// setupTestRedis creates an in-memory Redis server for testing
func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		DB:   0,
	})

	cleanup := func() {
		redisClient.Close()
		mr.Close()
	}

	return redisClient, cleanup
}

type countingUserStore struct {
	users map[int64]*types.User
	gets  int
}

func newCountingUserStore() *countingUserStore {
	return &countingUserStore{users: make(map[int64]*types.User)}
}

func (s *countingUserStore) UpsertUser(_ context.Context, id int64, username, firstName, lastName string) (*types.User, error) {
	u, ok := s.users[id]
	if !ok {
		u = &types.User{ID: id, Tier: types.TierRegular}
		s.users[id] = u
	}
	u.Username = username
	u.FirstName = firstName
	u.LastName = lastName
	copied := *u
	return &copied, nil
}

func (s *countingUserStore) GetUser(_ context.Context, id int64) (*types.User, error) {
	s.gets++
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *countingUserStore) SetTier(_ context.Context, id int64, tier types.Tier) error {
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Tier = tier
	return nil
}

func (s *countingUserStore) SetLanguage(_ context.Context, id int64, language string) error {
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Language = language
	return nil
}

func TestUserCache_ReadThrough(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	db := newCountingUserStore()
	cache := NewUserCache(db, redisClient)
	ctx := context.Background()

	if _, err := cache.UpsertUser(ctx, 7, "alice", "Alice", ""); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	// Upsert primed the cache, so reads should not hit the database.
	for i := 0; i < 3; i++ {
		u, err := cache.GetUser(ctx, 7)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u.Username != "alice" {
			t.Errorf("Expected username alice, got %q", u.Username)
		}
	}
	if db.gets != 0 {
		t.Errorf("Expected 0 database reads after upsert, got %d", db.gets)
	}
}

func TestUserCache_SetTierInvalidates(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	db := newCountingUserStore()
	cache := NewUserCache(db, redisClient)
	ctx := context.Background()

	if _, err := cache.UpsertUser(ctx, 7, "alice", "Alice", ""); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	if err := cache.SetTier(ctx, 7, types.TierPremium); err != nil {
		t.Fatalf("SetTier failed: %v", err)
	}

	// The stale cached row must not mask the promotion.
	u, err := cache.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Tier != types.TierPremium {
		t.Errorf("Expected premium tier after promotion, got %s", u.Tier)
	}
	if db.gets != 1 {
		t.Errorf("Expected exactly 1 database read after invalidation, got %d", db.gets)
	}
}

func TestUserCache_MissFallsBack(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	db := newCountingUserStore()
	cache := NewUserCache(db, redisClient)
	ctx := context.Background()

	if _, err := cache.GetUser(ctx, 404); err != storage.ErrNotFound {
		t.Fatalf("Expected ErrNotFound for unknown user, got %v", err)
	}
}
