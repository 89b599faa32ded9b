package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/types"
)

var (
	// ErrQuotaExceeded means the daily cap would be exceeded.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrFileTooLarge means a single item exceeds the per-file cap,
	// regardless of remaining daily allowance.
	ErrFileTooLarge = errors.New("file exceeds per-file limit")
)

// Counter keys outlive their day by a margin so a sweep is never needed
// for correctness; rollover happens lazily because the key embeds the day.
const counterTTL = 48 * time.Hour

// Ledger tracks per-user bytes consumed per calendar day in Redis.
// Caps are configuration keyed by tier and always read live, so a tier
// change takes effect on the next check.
type Ledger struct {
	redis *redis.Client
	caps  map[types.Tier]config.TierCaps
	loc   *time.Location
	now   func() time.Time
}

// Allowance is the verdict of a CheckAllowance call.
type Allowance struct {
	Allowed             bool
	Reason              error // ErrQuotaExceeded or ErrFileTooLarge when not allowed
	RemainingDailyBytes int64
	PerFileLimitBytes   int64
}

func NewLedger(redisClient *redis.Client, cfg config.Quota) (*Ledger, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", cfg.Timezone, err)
	}

	return &Ledger{
		redis: redisClient,
		caps: map[types.Tier]config.TierCaps{
			types.TierRegular: cfg.Regular,
			types.TierPremium: cfg.Premium,
		},
		loc: loc,
		now: time.Now,
	}, nil
}

// Caps returns the live caps for a tier. Unknown tiers fall back to regular.
func (l *Ledger) Caps(tier types.Tier) config.TierCaps {
	caps, ok := l.caps[tier]
	if !ok {
		return l.caps[types.TierRegular]
	}
	return caps
}

func (l *Ledger) dayKey(userID int64) string {
	day := l.now().In(l.loc).Format("2006-01-02")
	return fmt.Sprintf("quota:%d:%s", userID, day)
}

// Consumed returns the bytes consumed by the user for the current day key.
func (l *Ledger) Consumed(ctx context.Context, userID int64) (int64, error) {
	consumed, err := l.redis.Get(ctx, l.dayKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota read failed: %w", err)
	}
	return consumed, nil
}

// CheckAllowance reports whether proposedBytes fits under both the user's
// per-file cap and the remaining daily allowance. Pure read, never mutates.
func (l *Ledger) CheckAllowance(ctx context.Context, user *types.User, proposedBytes int64) (Allowance, error) {
	caps := l.Caps(user.Tier)

	consumed, err := l.Consumed(ctx, user.ID)
	if err != nil {
		return Allowance{}, err
	}

	remaining := caps.DailyBytes - consumed
	if remaining < 0 {
		remaining = 0
	}

	a := Allowance{
		Allowed:             true,
		RemainingDailyBytes: remaining,
		PerFileLimitBytes:   caps.PerFileBytes,
	}

	// Per-file cap first: a too-large file stays rejected even with the
	// whole daily allowance left.
	if proposedBytes > caps.PerFileBytes {
		a.Allowed = false
		a.Reason = ErrFileTooLarge
		return a, nil
	}
	if proposedBytes > remaining {
		a.Allowed = false
		a.Reason = ErrQuotaExceeded
		return a, nil
	}

	return a, nil
}

// Lua script for an atomic check-and-increment against the daily cap.
// Either the whole amount is consumed or the counter is left unchanged.
const consumeScript = `
	local key = KEYS[1]
	local amount = tonumber(ARGV[1])
	local cap = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local consumed = tonumber(redis.call('GET', key) or 0)
	if consumed + amount > cap then
		return -1
	end

	local total = redis.call('INCRBY', key, amount)
	redis.call('EXPIRE', key, ttl)
	return total
`

// Consume atomically adds actualBytes to the user's counter for the current
// day. Fails with ErrQuotaExceeded if that would push consumption above the
// daily cap for the user's current tier; no partial consumption happens.
func (l *Ledger) Consume(ctx context.Context, user *types.User, actualBytes int64) error {
	if actualBytes < 0 {
		return fmt.Errorf("negative consumption %d for user %d", actualBytes, user.ID)
	}

	caps := l.Caps(user.Tier)
	key := l.dayKey(user.ID)

	result, err := l.redis.Eval(ctx, consumeScript, []string{key},
		actualBytes, caps.DailyBytes, int64(counterTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("quota consume failed: %w", err)
	}

	total, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected result type from quota script")
	}

	if total == -1 {
		return ErrQuotaExceeded
	}

	return nil
}

// Lua script returning bytes to the counter, clamped so the day's
// consumption can never go negative.
const refundScript = `
	local key = KEYS[1]
	local amount = tonumber(ARGV[1])

	local consumed = tonumber(redis.call('GET', key) or 0)
	if consumed == 0 then
		return 0
	end
	if amount > consumed then
		amount = consumed
	end
	return redis.call('DECRBY', key, amount)
`

// Refund returns consumed bytes after a transfer whose stored object had to
// be discarded, so the user is not charged for a file they never received.
func (l *Ledger) Refund(ctx context.Context, user *types.User, actualBytes int64) error {
	if actualBytes < 0 {
		return fmt.Errorf("negative refund %d for user %d", actualBytes, user.ID)
	}

	result, err := l.redis.Eval(ctx, refundScript, []string{l.dayKey(user.ID)}, actualBytes).Result()
	if err != nil {
		return fmt.Errorf("quota refund failed: %w", err)
	}
	if _, ok := result.(int64); !ok {
		return fmt.Errorf("unexpected result type from quota script")
	}

	return nil
}
