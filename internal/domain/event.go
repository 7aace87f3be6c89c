// Package domain carries the minimal vocabulary webhook delivery needs:
// event types, their categories, and a cascade-delete helper demonstrating
// ownership across the KV store without implementing goal/quest/step/spark
// business logic.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// EventType is a dotted string such as "goal.completed". Category is its
// prefix up to the first dot.
type EventType string

const (
	GoalCreated     EventType = "goal.created"
	GoalCompleted   EventType = "goal.completed"
	GoalDeleted     EventType = "goal.deleted"
	QuestCreated    EventType = "quest.created"
	QuestCompleted  EventType = "quest.completed"
	StepCreated     EventType = "step.created"
	StepCompleted   EventType = "step.completed"
	SparkCreated    EventType = "spark.created"
	MemoryCreated   EventType = "memory.created"
	ChatMessageSent EventType = "chat.message_sent"
	UserUpdated     EventType = "user.updated"
	SystemAlert     EventType = "system.alert"
)

// Category returns the event type's dotted prefix.
func (e EventType) Category() string {
	if i := strings.IndexByte(string(e), '.'); i >= 0 {
		return string(e)[:i]
	}
	return string(e)
}

// WebhookEvent is a domain event eligible for webhook fan-out.
type WebhookEvent struct {
	ID            string
	Type          EventType
	Category      string
	UserID        string
	Timestamp     time.Time
	Data          map[string]any
	Source        string
	CorrelationID string
	APIVersion    string
	Environment   string
}

// NewWebhookEvent builds a WebhookEvent with Category derived from Type.
func NewWebhookEvent(id string, eventType EventType, userID string, data map[string]any) WebhookEvent {
	return WebhookEvent{
		ID:         id,
		Type:       eventType,
		Category:   eventType.Category(),
		UserID:     userID,
		Timestamp:  time.Now(),
		Data:       data,
		APIVersion: "v1",
	}
}

// CascadeDelete removes an entity's own record and its membership in every
// set stored under "<entityKind>:index:*". List-shaped keys are not
// searched; an index key under that pattern that is not a set makes the
// call return an error.
func CascadeDelete(ctx context.Context, kv kvstore.Store, entityKind, id string) error {
	key := entityKind + ":" + id
	if _, err := kv.Delete(ctx, key); err != nil {
		return err
	}

	indexKeys, err := kv.Keys(ctx, entityKind+":index:*")
	if err != nil {
		return err
	}
	for _, idxKey := range indexKeys {
		if _, err := kv.SRem(ctx, idxKey, id); err != nil {
			return err
		}
	}
	return nil
}
