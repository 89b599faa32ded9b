package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/types"
)

// ErrSessionExpired covers every stale-interaction case: TTL elapsed,
// cancelled, superseded by a newer session, or never known.
var ErrSessionExpired = errors.New("session expired")

// ErrUnknownChoice means the candidate key is not part of the session.
var ErrUnknownChoice = errors.New("unknown format choice")

type State string

const (
	StateOpen      State = "open"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Session is one open quality selection for a (chat, user) pair.
type Session struct {
	ID         string
	ChatID     int64
	UserID     int64
	SourceURL  string
	Title      string
	Candidates []types.FormatOption
	State      State
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (s *Session) candidate(key string) (types.FormatOption, bool) {
	for _, c := range s.Candidates {
		if c.Key == key {
			return c, true
		}
	}
	return types.FormatOption{}, false
}

// AllowanceChecker is the quota ledger surface the store needs.
type AllowanceChecker interface {
	CheckAllowance(ctx context.Context, user *types.User, proposedBytes int64) (quota.Allowance, error)
}

const shardCount = 16

type shard struct {
	mu sync.Mutex
	// At most one session per (chat, user) pair; a newer one replaces it.
	sessions map[string]*Session
}

// Store holds in-progress quality selections, sharded by (chat, user) pair
// so operations on different pairs never contend on one lock.
type Store struct {
	shards  [shardCount]*shard
	ttl     time.Duration
	checker AllowanceChecker
	now     func() time.Time
}

func NewStore(checker AllowanceChecker, ttl time.Duration) *Store {
	s := &Store{
		ttl:     ttl,
		checker: checker,
		now:     time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s
}

func pairKey(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func (s *Store) shardFor(pair string) *shard {
	h := fnv.New32a()
	h.Write([]byte(pair))
	return s.shards[h.Sum32()%shardCount]
}

// Session ids embed the pair so a callback can be routed back to the right
// shard without a global index.
func newSessionID(chatID, userID int64) string {
	return fmt.Sprintf("%d.%d.%s", chatID, userID, uuid.New().String()[:8])
}

func parseSessionID(id string) (pair string, ok bool) {
	parts := strings.SplitN(id, ".", 3)
	if len(parts) != 3 {
		return "", false
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", false
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", false
	}
	return pairKey(chatID, userID), true
}

// Start opens a new selection for the pair, superseding any existing open
// session. Each candidate is annotated with a precomputed allowance verdict
// so the presentation layer can flag doomed options up front.
func (s *Store) Start(ctx context.Context, chatID int64, user *types.User, sourceURL, title string, candidates []types.FormatOption) (*Session, error) {
	annotated := make([]types.FormatOption, len(candidates))
	for i, c := range candidates {
		a, err := s.checker.CheckAllowance(ctx, user, c.ApproxBytes)
		if err != nil {
			return nil, fmt.Errorf("annotating candidate %s: %w", c.Key, err)
		}
		c.ExceedsLimits = !a.Allowed
		annotated[i] = c
	}

	now := s.now()
	sess := &Session{
		ID:         newSessionID(chatID, user.ID),
		ChatID:     chatID,
		UserID:     user.ID,
		SourceURL:  sourceURL,
		Title:      title,
		Candidates: annotated,
		State:      StateOpen,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	pair := pairKey(chatID, user.ID)
	sh := s.shardFor(pair)
	sh.mu.Lock()
	if old, ok := sh.sessions[pair]; ok {
		old.State = StateExpired
	}
	sh.sessions[pair] = sess
	sh.mu.Unlock()

	return sess, nil
}

// Select confirms one candidate. The caller passes the freshly loaded user so
// the live tier decides the re-check, not the tier at Start time. On success
// the session is terminal and the chosen descriptor is returned for hand-off.
func (s *Store) Select(ctx context.Context, sessionID, candidateKey string, user *types.User) (types.FormatOption, error) {
	pair, ok := parseSessionID(sessionID)
	if !ok {
		return types.FormatOption{}, ErrSessionExpired
	}
	sh := s.shardFor(pair)

	sh.mu.Lock()
	_, choice, err := s.lookupLocked(sh, pair, sessionID, candidateKey)
	sh.mu.Unlock()
	if err != nil {
		return types.FormatOption{}, err
	}

	// Time may have passed since Start; the precomputed verdict is only a
	// presentation hint. Re-check against live quota outside the lock.
	a, err := s.checker.CheckAllowance(ctx, user, choice.ApproxBytes)
	if err != nil {
		return types.FormatOption{}, err
	}
	if !a.Allowed {
		return types.FormatOption{}, a.Reason
	}

	// Re-validate under the same lock the purge pass removes with: a session
	// swept meanwhile must fail here, never confirm.
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, choice, err := s.lookupLocked(sh, pair, sessionID, candidateKey)
	if err != nil {
		return types.FormatOption{}, err
	}
	sess.State = StateConfirmed
	delete(sh.sessions, pair)

	return choice, nil
}

// lookupLocked validates existence, identity, state, TTL and candidate key.
// Caller holds the shard lock.
func (s *Store) lookupLocked(sh *shard, pair, sessionID, candidateKey string) (*Session, types.FormatOption, error) {
	sess, ok := sh.sessions[pair]
	if !ok || sess.ID != sessionID || sess.State != StateOpen {
		return nil, types.FormatOption{}, ErrSessionExpired
	}
	if !s.now().Before(sess.ExpiresAt) {
		sess.State = StateExpired
		delete(sh.sessions, pair)
		return nil, types.FormatOption{}, ErrSessionExpired
	}
	choice, ok := sess.candidate(candidateKey)
	if !ok {
		return nil, types.FormatOption{}, ErrUnknownChoice
	}
	return sess, choice, nil
}

// Cancel is idempotent: cancelling an unknown, already-cancelled or
// already-confirmed session is a no-op.
func (s *Store) Cancel(sessionID string) {
	pair, ok := parseSessionID(sessionID)
	if !ok {
		return
	}
	sh := s.shardFor(pair)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[pair]
	if !ok || sess.ID != sessionID {
		return
	}
	sess.State = StateCancelled
	delete(sh.sessions, pair)
}

// Open reports the current open session for a pair, if any. Used by the
// router to re-render the option list.
func (s *Store) Open(chatID, userID int64) (*Session, bool) {
	pair := pairKey(chatID, userID)
	sh := s.shardFor(pair)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[pair]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

// PurgeExpired removes every session past its expiry regardless of state and
// returns how many were removed.
func (s *Store) PurgeExpired(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for pair, sess := range sh.sessions {
			if !now.Before(sess.ExpiresAt) {
				sess.State = StateExpired
				delete(sh.sessions, pair)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
