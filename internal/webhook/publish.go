package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/trustcore/internal/domain"
)

// Publisher fans a published event out to every subscribed, active webhook
// and enqueues one delivery per match.
type Publisher struct {
	queue  *Queue
	signer *HMACSigner
}

// NewPublisher constructs a Publisher.
func NewPublisher(queue *Queue, signer *HMACSigner) *Publisher {
	return &Publisher{queue: queue, signer: signer}
}

// Publish matches event against every webhook the user owns, canonicalizes
// and signs a payload for each match, and enqueues a pending delivery.
// Re-publishing the same event id against the same already-subscribed
// webhook is a no-op: MarkPublished claims the (webhookId, eventId) pair
// exactly once, so at most one delivery is ever enqueued per subscribed
// webhook regardless of how many times the same event is republished.
func (p *Publisher) Publish(ctx context.Context, event domain.WebhookEvent, severity string) ([]Delivery, error) {
	webhooks, err := p.queue.ListWebhooksForUser(ctx, event.UserID)
	if err != nil {
		return nil, err
	}

	var deliveries []Delivery
	for _, w := range webhooks {
		if !w.Subscribes(string(event.Type), severity) {
			continue
		}

		claimed, err := p.queue.MarkPublished(ctx, w.ID, event.ID)
		if err != nil {
			return deliveries, err
		}
		if !claimed {
			continue
		}

		deliveryID := uuid.NewString()
		payload := CanonicalPayload{
			ID:        deliveryID,
			Event:     string(event.Type),
			Timestamp: event.Timestamp.Unix(),
			Data:      event.Data,
			WebhookID: w.ID,
			UserID:    event.UserID,
			Attempt:   1,
		}
		sig, err := p.signer.Sign(w.Secret, payload)
		if err != nil {
			return deliveries, err
		}
		payload.Signature = sig
		canonical, err := Canonicalize(payload)
		if err != nil {
			return deliveries, err
		}

		now := time.Now()
		d := Delivery{
			ID:          deliveryID,
			WebhookID:   w.ID,
			EventID:     event.ID,
			UserID:      event.UserID,
			URL:         w.URL,
			Payload:     canonical,
			Signature:   sig,
			Status:      DeliveryPending,
			Attempt:     1,
			MaxAttempts: 1 + w.Options.MaxRetries,
			CreatedAt:   now,
			ScheduledAt: now,
		}
		if err := p.queue.Enqueue(ctx, d); err != nil {
			return deliveries, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}
