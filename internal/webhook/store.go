package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func recordKey(id string) string           { return "delivery:record:" + id }
func statusKey(id string) string           { return "delivery:status:" + id }
func queueKey(userID string) string        { return "delivery:queue:" + userID }
func archiveKey(webhookID string) string   { return "delivery:archive:" + webhookID }
func webhookKey(id string) string          { return "webhook:record:" + id }
func webhookIndexKey(userID string) string { return "webhook:index:" + userID }
func publishedKey(webhookID, eventID string) string {
	return "delivery:event:" + webhookID + ":" + eventID
}

// Queue persists deliveries and webhooks in kvstore and provides the
// CAS-guarded claim primitive the delivery loop needs.
type Queue struct {
	store kvstore.Store
}

// NewQueue constructs a Queue over store.
func NewQueue(store kvstore.Store) *Queue {
	return &Queue{store: store}
}

// SaveWebhook persists w and indexes it under its owning user.
func (q *Queue) SaveWebhook(ctx context.Context, w Webhook) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, webhookKey(w.ID), string(raw), 0); err != nil {
		return err
	}
	_, err = q.store.SAdd(ctx, webhookIndexKey(w.UserID), w.ID)
	return err
}

// GetWebhook loads a webhook by id.
func (q *Queue) GetWebhook(ctx context.Context, id string) (*Webhook, bool, error) {
	raw, outcome, err := q.store.Get(ctx, webhookKey(id))
	if err != nil {
		return nil, false, err
	}
	if outcome != kvstore.Success {
		return nil, false, nil
	}
	var w Webhook
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, false, err
	}
	return &w, true, nil
}

// ListWebhooksForUser returns every webhook a user owns.
func (q *Queue) ListWebhooksForUser(ctx context.Context, userID string) ([]Webhook, error) {
	ids, err := q.store.SMembers(ctx, webhookIndexKey(userID))
	if err != nil {
		return nil, err
	}
	out := make([]Webhook, 0, len(ids))
	for _, id := range ids {
		w, ok, err := q.GetWebhook(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *w)
		}
	}
	return out, nil
}

// Enqueue persists a new delivery record, sets its status to pending, and
// appends its id to the per-user queue in scheduling order.
func (q *Queue) Enqueue(ctx context.Context, d Delivery) error {
	if err := q.saveRecord(ctx, d); err != nil {
		return err
	}
	if err := q.store.Set(ctx, statusKey(d.ID), string(DeliveryPending), 0); err != nil {
		return err
	}
	_, err := q.store.RPush(ctx, queueKey(d.UserID), d.ID)
	return err
}

// MarkPublished atomically claims the (webhookID, eventID) pair, returning
// true the first time it's called for that pair and false on every
// subsequent call. Publish uses this to make re-submitting the same event
// id a no-op per subscribed webhook instead of enqueueing a duplicate
// delivery.
func (q *Queue) MarkPublished(ctx context.Context, webhookID, eventID string) (bool, error) {
	return q.store.CompareAndSwap(ctx, publishedKey(webhookID, eventID), "", "1", 0)
}

func (q *Queue) saveRecord(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, recordKey(d.ID), string(raw), 0)
}

// GetRecord loads a delivery by id.
func (q *Queue) GetRecord(ctx context.Context, id string) (*Delivery, bool, error) {
	raw, outcome, err := q.store.Get(ctx, recordKey(id))
	if err != nil {
		return nil, false, err
	}
	if outcome != kvstore.Success {
		return nil, false, nil
	}
	var d Delivery
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// ClaimNext scans userID's queue for the oldest delivery that is both due
// (ScheduledAt <= now) and still pending, CAS-transitions its status to
// in_progress, and returns it. Deliveries not yet due are left in place;
// deliveries some other worker already claimed are skipped.
func (q *Queue) ClaimNext(ctx context.Context, userID string, now time.Time) (*Delivery, bool, error) {
	ids, err := q.store.LRange(ctx, queueKey(userID), 0, -1)
	if err != nil {
		return nil, false, err
	}
	for _, id := range ids {
		d, ok, err := q.GetRecord(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !ok || d.ScheduledAt.After(now) {
			continue
		}
		swapped, err := q.store.CompareAndSwap(ctx, statusKey(id), string(DeliveryPending), string(DeliveryInProgress), 0)
		if err != nil {
			return nil, false, err
		}
		if !swapped {
			continue
		}
		d.Status = DeliveryInProgress
		attemptedAt := now
		d.AttemptedAt = &attemptedAt
		if err := q.saveRecord(ctx, *d); err != nil {
			return nil, false, err
		}
		return d, true, nil
	}
	return nil, false, nil
}

// Complete marks a delivery terminal, removes it from the active queue,
// and archives it to the per-webhook log, trimmed to MaxArchiveLogLength.
func (q *Queue) Complete(ctx context.Context, d Delivery) error {
	if err := q.saveRecord(ctx, d); err != nil {
		return err
	}
	if err := q.store.Set(ctx, statusKey(d.ID), string(d.Status), 0); err != nil {
		return err
	}
	if _, err := q.store.LRem(ctx, queueKey(d.UserID), 1, d.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := q.store.LPush(ctx, archiveKey(d.WebhookID), string(raw)); err != nil {
		return err
	}
	return q.store.LTrim(ctx, archiveKey(d.WebhookID), 0, MaxArchiveLogLength-1)
}

// Reschedule re-saves a retrying delivery with its updated ScheduledAt and
// flips its status back to pending so ClaimNext can pick it up again.
func (q *Queue) Reschedule(ctx context.Context, d Delivery) error {
	d.Status = DeliveryPending
	if err := q.saveRecord(ctx, d); err != nil {
		return err
	}
	return q.store.Set(ctx, statusKey(d.ID), string(DeliveryPending), 0)
}

// StuckInProgress returns delivery ids for userID whose status has been
// in_progress for longer than staleAfter, for the reaper to reclaim.
func (q *Queue) StuckInProgress(ctx context.Context, userID string, staleAfter time.Duration, now time.Time) ([]string, error) {
	ids, err := q.store.LRange(ctx, queueKey(userID), 0, -1)
	if err != nil {
		return nil, err
	}
	var stuck []string
	for _, id := range ids {
		d, ok, err := q.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || d.Status != DeliveryInProgress || d.AttemptedAt == nil {
			continue
		}
		if now.Sub(*d.AttemptedAt) > staleAfter {
			stuck = append(stuck, id)
		}
	}
	return stuck, nil
}

// Reclaim forces a stuck in_progress delivery back to pending for retry.
func (q *Queue) Reclaim(ctx context.Context, id string) error {
	d, ok, err := q.GetRecord(ctx, id)
	if err != nil || !ok {
		return err
	}
	return q.Reschedule(ctx, *d)
}
