package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tgvault/tgvault/internal/types"
)

var (
	// ErrNotFound is returned when a row the caller expected is absent.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePending is returned when a second pending premium request
	// would be created for the same user.
	ErrDuplicatePending = errors.New("pending request already exists")
)

// UserStore holds the platform users. Users are created on first
// interaction and never deleted while owned records exist.
type UserStore interface {
	// UpsertUser creates the user on first contact and refreshes the
	// mutable identity fields on every later one.
	UpsertUser(ctx context.Context, id int64, username, firstName, lastName string) (*types.User, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
	SetTier(ctx context.Context, id int64, tier types.Tier) error
	SetLanguage(ctx context.Context, id int64, language string) error
}

// ObjectRecordStore holds metadata for objects placed in backing storage.
type ObjectRecordStore interface {
	CreateRecord(ctx context.Context, rec types.StoredObjectRecord) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]types.StoredObjectRecord, error)
	// DeleteRecord is idempotent on object key; deleting an absent record
	// is not an error, so a crash between the storage delete and the
	// metadata delete cannot wedge the sweep.
	DeleteRecord(ctx context.Context, objectKey string) error
	ListByOwner(ctx context.Context, ownerID int64) ([]types.StoredObjectRecord, error)
}

// PremiumRequestStore holds upgrade requests, at most one pending per user.
type PremiumRequestStore interface {
	// CreatePending fails with ErrDuplicatePending if the user already has
	// a pending request.
	CreatePending(ctx context.Context, userID int64, requestedAt time.Time) (*types.PremiumRequest, error)
	GetPending(ctx context.Context, userID int64) (*types.PremiumRequest, error)
	// ResolvePending marks the user's pending request resolved; ErrNotFound
	// if there is none.
	ResolvePending(ctx context.Context, userID int64) error
}
