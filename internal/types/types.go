package types

import "time"

type Tier string

const (
	TierRegular Tier = "regular"
	TierPremium Tier = "premium"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestResolved RequestStatus = "resolved"
)

// User is created on a user's first interaction and never deleted while
// owned records exist. Tier is only ever written by the premium workflow.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Language  string    `json:"language" db:"language"`
	Tier      Tier      `json:"tier" db:"tier"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName prefers the human name over the handle.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		if u.LastName != "" {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func (u *User) IsPremium() bool {
	return u.Tier == TierPremium
}

// FormatOption is one downloadable rendition of a probed video.
type FormatOption struct {
	Key           string `json:"key"`
	Label         string `json:"label"`
	Container     string `json:"container"`
	ApproxBytes   int64  `json:"approx_bytes"`
	AudioOnly     bool   `json:"audio_only"`
	ExceedsLimits bool   `json:"exceeds_limits"`
}

// StoredObjectRecord is the metadata row for one object placed in backing
// storage. ExpiresAt is fixed at creation time and never recomputed.
type StoredObjectRecord struct {
	ObjectKey string    `json:"object_key" db:"object_key"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	FileName  string    `json:"file_name" db:"file_name"`
	Size      int64     `json:"size" db:"size"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// OperatorNote is the payload of an operator-facing notification.
type OperatorNote struct {
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RequestedAt time.Time `json:"requested_at"`
	Kind        string    `json:"kind"`
}

type PremiumRequest struct {
	ID          int64         `json:"id" db:"id"`
	UserID      int64         `json:"user_id" db:"user_id"`
	RequestedAt time.Time     `json:"requested_at" db:"requested_at"`
	Status      RequestStatus `json:"status" db:"status"`
}
