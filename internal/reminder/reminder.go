// Package reminder schedules and sends reminders: idempotent claiming,
// storm protection, and channel fallback, over one scheduled reminder at
// a time.
package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// Channel is a delivery channel name, tried in fallback order.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// fallbackOrder is the fixed channel fallback sequence: push, then email,
// then sms.
var fallbackOrder = []Channel{ChannelPush, ChannelEmail, ChannelSMS}

// Status is a reminder's terminal or pending state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Reminder is one scheduled notification.
type Reminder struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	ScheduledAt     time.Time       `json:"scheduledAt"`
	EnabledChannels map[string]bool `json:"enabledChannels"`
	Message         string          `json:"message"`
	Status          Status          `json:"status"`
	SentChannel     Channel         `json:"sentChannel,omitempty"`
	FailureCause    string          `json:"failureCause,omitempty"`
}

// NotificationSender delivers one reminder over one channel. This core
// ships only a logging/no-op implementation (NoopSender) — real push/
// email/sms delivery is out of scope, the same boundary as notification
// templating and the in-app inbox.
type NotificationSender interface {
	Send(ctx context.Context, channel Channel, r Reminder) error
}

// NoopSender logs what would have been sent and always succeeds.
type NoopSender struct{ Logger *slog.Logger }

// Send implements NotificationSender.
func (n NoopSender) Send(ctx context.Context, channel Channel, r Reminder) error {
	if n.Logger != nil {
		n.Logger.InfoContext(ctx, "reminder: would send", slog.String("reminderId", r.ID), slog.String("channel", string(channel)))
	}
	return nil
}

func idempotentKey(reminderID string) string { return "reminder:idempotent:" + reminderID }
func queueKey(userID string) string          { return "reminder:queue:" + userID }
func recordKey(reminderID string) string     { return "reminder:record:" + reminderID }

const idempotentTTL = 24 * time.Hour

// Options bounds reminder storm protection.
type Options struct {
	MaxAge           time.Duration // default 2h + grace
	MaxSendsPerBatch int           // default 2
}

// DefaultOptions returns a 2h5m max-age window and 2 sends per batch.
func DefaultOptions() Options {
	return Options{MaxAge: 2*time.Hour + 5*time.Minute, MaxSendsPerBatch: 2}
}

// Scheduler reads due reminders from a kvstore queue, the same FIFO
// list-queue idiom the webhook delivery queue uses, and processes them with
// idempotent claiming, storm protection, and push→email→sms channel
// fallback.
type Scheduler struct {
	store   kvstore.Store
	sender  NotificationSender
	logger  *slog.Logger
	options Options
}

// New constructs a Scheduler.
func New(store kvstore.Store, sender NotificationSender, logger *slog.Logger, options Options) *Scheduler {
	return &Scheduler{store: store, sender: sender, logger: logger, options: options}
}

// Enqueue schedules r for delivery.
func (s *Scheduler) Enqueue(ctx context.Context, r Reminder) error {
	r.Status = StatusPending
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, recordKey(r.ID), string(raw), 0); err != nil {
		return err
	}
	_, err = s.store.RPush(ctx, queueKey(r.UserID), r.ID)
	return err
}

// ProcessPending drains userID's queue, processing up to MaxSendsPerBatch
// due reminders and leaving the rest queued for a later batch.
func (s *Scheduler) ProcessPending(ctx context.Context, userID string, now time.Time) (int, error) {
	ids, err := s.store.LRange(ctx, queueKey(userID), 0, -1)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		if sent >= s.options.MaxSendsPerBatch {
			break
		}

		raw, outcome, err := s.store.Get(ctx, recordKey(id))
		if err != nil {
			return sent, err
		}
		if outcome != kvstore.Success {
			s.dequeue(ctx, userID, id)
			continue
		}
		var r Reminder
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.dequeue(ctx, userID, id)
			continue
		}
		if r.Status != StatusPending {
			s.dequeue(ctx, userID, id)
			continue
		}
		if r.ScheduledAt.After(now) {
			continue
		}

		processed, err := s.processOne(ctx, r, now)
		if err != nil {
			return sent, err
		}
		s.dequeue(ctx, userID, id)
		if processed {
			sent++
		}
	}
	return sent, nil
}

func (s *Scheduler) dequeue(ctx context.Context, userID, id string) {
	_, _ = s.store.LRem(ctx, queueKey(userID), 1, id)
}

// processOne applies storm protection, then idempotent claiming, then
// channel fallback, and persists the terminal status. It returns true if a
// send was attempted (claimed), false if the reminder was skipped outright
// for being stale or already claimed.
func (s *Scheduler) processOne(ctx context.Context, r Reminder, now time.Time) (bool, error) {
	if now.Sub(r.ScheduledAt) > s.options.MaxAge {
		r.Status = StatusSkipped
		r.FailureCause = "stale: exceeded max age"
		return false, s.save(ctx, r)
	}

	claimed, err := s.store.CompareAndSwap(ctx, idempotentKey(r.ID), "", r.UserID, idempotentTTL)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	for _, channel := range fallbackOrder {
		if !r.EnabledChannels[string(channel)] {
			continue
		}
		if err := s.sender.Send(ctx, channel, r); err == nil {
			r.Status = StatusSent
			r.SentChannel = channel
			return true, s.save(ctx, r)
		} else if s.logger != nil {
			s.logger.WarnContext(ctx, "reminder: channel failed", slog.String("reminderId", r.ID), slog.String("channel", string(channel)), slog.Any("error", err))
		}
	}

	r.Status = StatusFailed
	r.FailureCause = "all enabled channels failed"
	return true, s.save(ctx, r)
}

func (s *Scheduler) save(ctx context.Context, r Reminder) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, recordKey(r.ID), string(raw), 0)
}
