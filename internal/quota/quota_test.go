package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/types"
)

const mb = int64(1024 * 1024)

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

	_, err = redisClient.Ping(context.Background()).Result()
	if err != nil {
		t.Fatalf("Failed to connect to test Redis: %v", err)
	}

	cleanup := func() {
		redisClient.Close()
		mr.Close()
	}

	return redisClient, cleanup
}

func testLedger(t *testing.T, redisClient *redis.Client) *Ledger {
	ledger, err := NewLedger(redisClient, config.Quota{
		Regular:  config.TierCaps{PerFileBytes: 100 * mb, DailyBytes: 500 * mb},
		Premium:  config.TierCaps{PerFileBytes: 500 * mb, DailyBytes: 2000 * mb},
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	return ledger
}

func TestLedger_CheckAllowanceIsIdempotent(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 1, Tier: types.TierRegular}

	var first Allowance
	for i := 0; i < 5; i++ {
		a, err := ledger.CheckAllowance(ctx, user, 50*mb)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if i == 0 {
			first = a
			continue
		}
		if a != first {
			t.Fatalf("Check %d returned %+v, expected %+v", i+1, a, first)
		}
	}

	if !first.Allowed {
		t.Fatal("Expected 50MB to be allowed for a fresh user")
	}
	if first.RemainingDailyBytes != 500*mb {
		t.Fatalf("Expected 500MB remaining, got %d", first.RemainingDailyBytes)
	}
}

func TestLedger_PerFileCapBeatsDailyRemainder(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 2, Tier: types.TierRegular}

	// Fits the daily quota but not the per-file cap.
	a, err := ledger.CheckAllowance(ctx, user, 150*mb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if a.Allowed {
		t.Fatal("Expected 150MB to be rejected by the per-file cap")
	}
	if !errors.Is(a.Reason, ErrFileTooLarge) {
		t.Fatalf("Expected ErrFileTooLarge, got %v", a.Reason)
	}
	if a.PerFileLimitBytes != 100*mb {
		t.Fatalf("Expected per-file limit 100MB, got %d", a.PerFileLimitBytes)
	}
}

func TestLedger_ConsumeEnforcesDailyCap(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 3, Tier: types.TierRegular}

	if err := ledger.Consume(ctx, user, 450*mb); err != nil {
		t.Fatalf("Unexpected error consuming 450MB: %v", err)
	}

	// 100MB would push past the 500MB cap; counter must be untouched.
	err := ledger.Consume(ctx, user, 100*mb)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}

	consumed, err := ledger.Consumed(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if consumed != 450*mb {
		t.Fatalf("Expected consumption to stay at 450MB, got %d", consumed)
	}

	// A smaller item that still fits goes through.
	if err := ledger.Consume(ctx, user, 50*mb); err != nil {
		t.Fatalf("Unexpected error consuming final 50MB: %v", err)
	}
}

func TestLedger_ConcurrentConsumeNeverOvershoots(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 4, Tier: types.TierRegular}

	// 20 workers of 50MB each against a 500MB cap: exactly 10 may win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Consume(ctx, user, 50*mb); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("Expected exactly 10 successful consumes, got %d", succeeded)
	}

	consumed, err := ledger.Consumed(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if consumed != 500*mb {
		t.Fatalf("Expected 500MB consumed, got %d", consumed)
	}
}

func TestLedger_TierChangeAppliesAtNextCheck(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 5, Tier: types.TierRegular}

	if err := ledger.Consume(ctx, user, 450*mb); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	a, err := ledger.CheckAllowance(ctx, user, 100*mb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if a.Allowed {
		t.Fatal("Expected 100MB to be rejected at 450/500MB")
	}

	// Same pending request after the upgrade: the live tier decides.
	user.Tier = types.TierPremium
	a, err = ledger.CheckAllowance(ctx, user, 100*mb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !a.Allowed {
		t.Fatalf("Expected 100MB to be allowed after upgrade, reason: %v", a.Reason)
	}
	if a.RemainingDailyBytes != 1550*mb {
		t.Fatalf("Expected 1550MB remaining under premium cap, got %d", a.RemainingDailyBytes)
	}
}

func TestLedger_RefundReturnsConsumedBytes(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 8, Tier: types.TierRegular}

	if err := ledger.Consume(ctx, user, 300*mb); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := ledger.Refund(ctx, user, 100*mb); err != nil {
		t.Fatalf("Unexpected error refunding: %v", err)
	}

	consumed, err := ledger.Consumed(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if consumed != 200*mb {
		t.Fatalf("Expected 200MB consumed after refund, got %d", consumed)
	}

	// The freed allowance is usable again.
	if err := ledger.Consume(ctx, user, 300*mb); err != nil {
		t.Fatalf("Unexpected error consuming refunded allowance: %v", err)
	}
}

func TestLedger_RefundNeverGoesNegative(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 9, Tier: types.TierRegular}

	if err := ledger.Consume(ctx, user, 50*mb); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Over-refund clamps to zero instead of banking negative consumption.
	if err := ledger.Refund(ctx, user, 200*mb); err != nil {
		t.Fatalf("Unexpected error refunding: %v", err)
	}

	consumed, err := ledger.Consumed(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if consumed != 0 {
		t.Fatalf("Expected 0 consumed after over-refund, got %d", consumed)
	}

	// Refund on an empty day key is a no-op, not an error.
	if err := ledger.Refund(ctx, &types.User{ID: 10, Tier: types.TierRegular}, 10*mb); err != nil {
		t.Fatalf("Unexpected error refunding untouched user: %v", err)
	}
}

func TestLedger_NewDayStartsAtZero(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := testLedger(t, redisClient)
	ctx := context.Background()
	user := &types.User{ID: 6, Tier: types.TierRegular}

	now := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	if err := ledger.Consume(ctx, user, 500*mb); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := ledger.Consume(ctx, user, 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded at the cap, got %v", err)
	}

	// Cross midnight in the reference timezone: fresh zeroed record.
	now = now.Add(20 * time.Minute)

	consumed, err := ledger.Consumed(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if consumed != 0 {
		t.Fatalf("Expected 0 consumed on the new day, got %d", consumed)
	}

	if err := ledger.Consume(ctx, user, 100*mb); err != nil {
		t.Fatalf("Unexpected error consuming on the new day: %v", err)
	}
}
