package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tgvault/tgvault/internal/objectstore"
	"github.com/tgvault/tgvault/internal/storage"
)

const expiredBatchSize = 100

// ObjectDeleter is the storage-collaborator surface the sweeper needs.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// SessionPurger removes sessions past their expiry.
type SessionPurger interface {
	PurgeExpired(now time.Time) int
}

// Sweeper is the recurring reclamation process. Its two passes run as
// independent loops so a slow storage backend cannot stall session cleanup.
type Sweeper struct {
	records  storage.ObjectRecordStore
	objects  ObjectDeleter
	sessions SessionPurger
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(records storage.ObjectRecordStore, objects ObjectDeleter, sessions SessionPurger, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		records:  records,
		objects:  objects,
		sessions: sessions,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, driving both passes on the configured
// interval. Each pass also runs once immediately on startup.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("cleanup sweeper started", slog.String("interval", s.interval.String()))

	var wg sync.WaitGroup
	wg.Add(1)
	go s.loop(ctx, &wg, "objects", s.SweepObjects)
	// A standalone worker process has no session store to purge.
	if s.sessions != nil {
		wg.Add(1)
		go s.loop(ctx, &wg, "sessions", s.SweepSessions)
	}
	wg.Wait()

	s.logger.Info("cleanup sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, wg *sync.WaitGroup, name string, pass func(context.Context)) {
	defer wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	pass(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup pass shutting down", slog.String("pass", name))
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// SweepObjects reclaims expired stored objects. The metadata record is only
// removed after the storage delete succeeds or reports the object already
// absent; any other failure leaves the record for the next sweep, so
// deletion is at-least-once and metadata is never silently orphaned.
func (s *Sweeper) SweepObjects(ctx context.Context) {
	startTime := s.now()

	expired, err := s.records.ListExpired(ctx, startTime, expiredBatchSize)
	if err != nil {
		s.logger.Error("failed to list expired objects", slog.String("error", err.Error()))
		return
	}
	if len(expired) == 0 {
		return
	}

	reclaimed := 0
	failed := 0
	for _, rec := range expired {
		err := s.objects.Delete(ctx, rec.ObjectKey)
		if err != nil && !errors.Is(err, objectstore.ErrObjectAbsent) {
			// Kept for retry on the next sweep. Operator-facing only,
			// never surfaced to end users.
			failed++
			s.logger.Error("storage delete failed, record kept for retry",
				slog.String("object_key", rec.ObjectKey),
				slog.String("error", err.Error()))
			continue
		}

		if err := s.records.DeleteRecord(ctx, rec.ObjectKey); err != nil {
			failed++
			s.logger.Error("metadata delete failed",
				slog.String("object_key", rec.ObjectKey),
				slog.String("error", err.Error()))
			continue
		}
		reclaimed++
	}

	s.logger.Info("object reclamation pass completed",
		slog.Int("reclaimed", reclaimed),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()))
}

// SweepSessions drops abandoned quality selections past their TTL.
func (s *Sweeper) SweepSessions(ctx context.Context) {
	startTime := s.now()

	removed := s.sessions.PurgeExpired(startTime)
	if removed == 0 {
		return
	}

	s.logger.Info("session reclamation pass completed",
		slog.Int("removed", removed),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()))
}
