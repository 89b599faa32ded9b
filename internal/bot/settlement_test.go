package bot

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/transfer"
	"github.com/tgvault/tgvault/internal/types"
)

const mbSize = int64(1024 * 1024)

type fakeRecordStore struct {
	records   map[string]types.StoredObjectRecord
	createErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]types.StoredObjectRecord{}}
}

func (f *fakeRecordStore) CreateRecord(_ context.Context, rec types.StoredObjectRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.records[rec.ObjectKey] = rec
	return nil
}

func (f *fakeRecordStore) ListExpired(_ context.Context, _ time.Time, _ int) ([]types.StoredObjectRecord, error) {
	return nil, nil
}

func (f *fakeRecordStore) DeleteRecord(_ context.Context, objectKey string) error {
	delete(f.records, objectKey)
	return nil
}

func (f *fakeRecordStore) ListByOwner(_ context.Context, _ int64) ([]types.StoredObjectRecord, error) {
	return nil, nil
}

type fakeObjectStore struct {
	deleted []string
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) Presign(_ context.Context, key, _ string, _ time.Duration) (*url.URL, error) {
	return url.Parse("https://storage.local/" + key)
}

func settlementBot(t *testing.T, records *fakeRecordStore, objects *fakeObjectStore) (*Bot, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ledger, err := quota.NewLedger(redisClient, config.Quota{
		Regular:  config.TierCaps{PerFileBytes: 100 * mbSize, DailyBytes: 500 * mbSize},
		Premium:  config.TierCaps{PerFileBytes: 500 * mbSize, DailyBytes: 2000 * mbSize},
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}

	b := &Bot{
		records: records,
		ledger:  ledger,
		objects: objects,
		cfg:     &config.Config{Vault: config.Vault{RetentionWindow: 24 * time.Hour}},
	}
	cleanup := func() {
		redisClient.Close()
		mr.Close()
	}
	return b, cleanup
}

func TestSettleTransfer_RegistersRecordAndCharges(t *testing.T) {
	records := newFakeRecordStore()
	objects := &fakeObjectStore{}
	b, cleanup := settlementBot(t, records, objects)
	defer cleanup()

	ctx := context.Background()
	user := &types.User{ID: 7, Tier: types.TierRegular}
	res := &transfer.Result{ObjectKey: "users/7/files/abc.mp4", FileName: "clip.mp4", Size: 40 * mbSize}

	rec, err := b.settleTransfer(ctx, user, res)
	require.NoError(t, err)

	assert.Equal(t, res.ObjectKey, rec.ObjectKey)
	assert.Equal(t, rec.CreatedAt.Add(24*time.Hour), rec.ExpiresAt)
	assert.Contains(t, records.records, res.ObjectKey)
	assert.Empty(t, objects.deleted)

	consumed, err := b.ledger.Consumed(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 40*mbSize, consumed)
}

func TestSettleTransfer_RecordFailureReclaimsObjectAndRefunds(t *testing.T) {
	records := newFakeRecordStore()
	objects := &fakeObjectStore{}
	b, cleanup := settlementBot(t, records, objects)
	defer cleanup()

	ctx := context.Background()
	user := &types.User{ID: 7, Tier: types.TierRegular}
	require.NoError(t, b.ledger.Consume(ctx, user, 100*mbSize))

	records.createErr = errors.New("pq: connection refused")
	res := &transfer.Result{ObjectKey: "users/7/files/lost.mp4", FileName: "clip.mp4", Size: 40 * mbSize}

	_, err := b.settleTransfer(ctx, user, res)
	require.Error(t, err)

	// Nothing tracks the object anymore, so it must not stay in storage.
	assert.Equal(t, []string{res.ObjectKey}, objects.deleted)
	assert.Empty(t, records.records)

	// The charge for the discarded object comes back.
	consumed, err := b.ledger.Consumed(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100*mbSize, consumed)
}

func TestSettleTransfer_OverQuotaDiscardsObject(t *testing.T) {
	records := newFakeRecordStore()
	objects := &fakeObjectStore{}
	b, cleanup := settlementBot(t, records, objects)
	defer cleanup()

	ctx := context.Background()
	user := &types.User{ID: 7, Tier: types.TierRegular}
	require.NoError(t, b.ledger.Consume(ctx, user, 480*mbSize))

	// The probe's approximate size fit, the actual download didn't.
	res := &transfer.Result{ObjectKey: "users/7/files/big.mp4", FileName: "clip.mp4", Size: 40 * mbSize}

	_, err := b.settleTransfer(ctx, user, res)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)

	assert.Equal(t, []string{res.ObjectKey}, objects.deleted)
	assert.Empty(t, records.records)

	consumed, err := b.ledger.Consumed(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 480*mbSize, consumed)
}
