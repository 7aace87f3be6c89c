package webhook

import (
	"context"
	"log/slog"
	"time"
)

// leaderLock is the subset of coordination.Lock the reaper needs. Kept as
// an interface so a single-instance deployment can pass nil and every
// tick just sweeps unconditionally.
type leaderLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Reaper periodically reclaims in_progress deliveries stuck past
// 2*timeoutMs using a plain ticker loop.
type Reaper struct {
	queue      *Queue
	logger     *slog.Logger
	staleAfter time.Duration
	lock       leaderLock
}

// NewReaper constructs a Reaper. staleAfter should be 2x a webhook's
// configured delivery timeout; callers with heterogeneous timeouts across
// webhooks should pick the maximum observed timeout.
func NewReaper(queue *Queue, logger *slog.Logger, staleAfter time.Duration) *Reaper {
	return &Reaper{queue: queue, logger: logger, staleAfter: staleAfter}
}

// WithLeaderLock makes every sweep contend for lock first, so that running
// several trustcore instances against the same store only ever reaps from
// one of them per tick. Returns r for chaining at construction time.
func (r *Reaper) WithLeaderLock(lock leaderLock) *Reaper {
	r.lock = lock
	return r
}

// Run ticks every interval until ctx is cancelled, reclaiming stuck
// deliveries for every userID in users. When a leader lock is configured,
// a tick that loses the race to another instance skips its sweep instead
// of reclaiming deliveries that instance is already handling.
func (r *Reaper) Run(ctx context.Context, interval time.Duration, users func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.lock != nil {
				ok, err := r.lock.TryAcquire(ctx)
				if err != nil {
					r.logger.ErrorContext(ctx, "reaper: leader election failed", slog.Any("error", err))
					continue
				}
				if !ok {
					continue
				}
				r.sweepOnce(ctx, users())
				if err := r.lock.Release(ctx); err != nil {
					r.logger.ErrorContext(ctx, "reaper: leader release failed", slog.Any("error", err))
				}
				continue
			}
			r.sweepOnce(ctx, users())
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context, users []string) {
	now := time.Now()
	for _, userID := range users {
		stuck, err := r.queue.StuckInProgress(ctx, userID, r.staleAfter, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "reaper: scan failed", slog.String("userId", userID), slog.Any("error", err))
			continue
		}
		for _, id := range stuck {
			if err := r.queue.Reclaim(ctx, id); err != nil {
				r.logger.ErrorContext(ctx, "reaper: reclaim failed", slog.String("deliveryId", id), slog.Any("error", err))
				continue
			}
			r.logger.WarnContext(ctx, "reaper: reclaimed stuck delivery", slog.String("deliveryId", id))
		}
	}
}
