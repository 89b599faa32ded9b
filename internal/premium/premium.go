package premium

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgvault/tgvault/internal/storage"
	"github.com/tgvault/tgvault/internal/types"
)

var (
	// ErrAlreadyPremium means the user's tier is already premium.
	ErrAlreadyPremium = errors.New("already premium")
	// ErrRequestPending means a pending request already exists for the user.
	ErrRequestPending = errors.New("request already pending")
	// ErrNoPending means a resolve targeted a user without a pending request.
	ErrNoPending = errors.New("no pending request")
)

const promotionText = "You have been upgraded to premium. Higher limits are active."

// Notifier emits the workflow's side effects. Implementations must not
// block; delivery failures are theirs to log, never ours to roll back.
type Notifier interface {
	NotifyOperator(note types.OperatorNote)
	NotifyUser(userID int64, text string)
}

// Workflow records and deduplicates upgrade requests. It is the only
// writer of the user tier; the quota ledger only reads it.
type Workflow struct {
	users    storage.UserStore
	requests storage.PremiumRequestStore
	notifier Notifier
	now      func() time.Time
}

func NewWorkflow(users storage.UserStore, requests storage.PremiumRequestStore, notifier Notifier) *Workflow {
	return &Workflow{
		users:    users,
		requests: requests,
		notifier: notifier,
		now:      time.Now,
	}
}

// Request creates a pending upgrade request and notifies the operator.
// Fails with ErrAlreadyPremium or ErrRequestPending; the anti-duplicate
// guarantee rests on the store's one-pending-per-user constraint, so two
// racing requests still yield one record.
func (w *Workflow) Request(ctx context.Context, user *types.User) (*types.PremiumRequest, error) {
	if user.IsPremium() {
		return nil, ErrAlreadyPremium
	}

	req, err := w.requests.CreatePending(ctx, user.ID, w.now())
	if errors.Is(err, storage.ErrDuplicatePending) {
		return nil, ErrRequestPending
	}
	if err != nil {
		return nil, fmt.Errorf("creating premium request: %w", err)
	}

	w.notifier.NotifyOperator(types.OperatorNote{
		UserID:      user.ID,
		DisplayName: user.DisplayName(),
		RequestedAt: req.RequestedAt,
		Kind:        "premium upgrade",
	})

	return req, nil
}

// Resolve marks the user's pending request resolved. With promote the tier
// flips to premium and the user is notified. After a deny the user may
// request again.
func (w *Workflow) Resolve(ctx context.Context, userID int64, promote bool) error {
	if err := w.requests.ResolvePending(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoPending
		}
		return fmt.Errorf("resolving premium request for user %d: %w", userID, err)
	}

	if !promote {
		slog.Info("premium request denied", slog.Int64("user_id", userID))
		return nil
	}

	if err := w.users.SetTier(ctx, userID, types.TierPremium); err != nil {
		return fmt.Errorf("promoting user %d: %w", userID, err)
	}

	slog.Info("user promoted to premium", slog.Int64("user_id", userID))
	w.notifier.NotifyUser(userID, promotionText)
	return nil
}
