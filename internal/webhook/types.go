// Package webhook implements the outbound webhook delivery engine —
// canonicalization, HMAC signing, a publish API, and a CAS-driven delivery
// worker pool with retry/backoff and a stuck-delivery reaper.
package webhook

import "time"

// Status is a webhook subscription's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
	StatusFailed   Status = "failed"
)

// Totals tracks a webhook's lifetime delivery counters.
type Totals struct {
	Delivered           int64
	Succeeded           int64
	Failed              int64
	ConsecutiveFailures int64
}

// Options carries a webhook's per-subscription delivery tunables.
type Options struct {
	MaxRetries             int
	RetryDelayMs           int64
	RetryBackoffMultiplier float64
	TimeoutMs              int64
	CustomHeaders          map[string]string
	MinSeverity            string
}

// DefaultOptions returns the webhook delivery defaults: three retries,
// a one-second base delay doubling each attempt, ten-second timeout.
func DefaultOptions() Options {
	return Options{
		MaxRetries:             3,
		RetryDelayMs:           1000,
		RetryBackoffMultiplier: 2,
		TimeoutMs:              10000,
	}
}

// ConsecutiveFailureThreshold is the point at which a webhook
// auto-transitions to StatusFailed.
const ConsecutiveFailureThreshold = 20

// Webhook is a user's outbound subscription.
type Webhook struct {
	ID          string
	UserID      string
	Name        string
	Description string
	URL         string
	Secret      []byte // HMAC key, opaque bytes >= 32B
	Events      map[string]bool
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Totals      Totals
	Options     Options
}

// Subscribes reports whether the webhook is eligible to receive eventType
// at the given severity.
func (w Webhook) Subscribes(eventType string, severity string) bool {
	if w.Status != StatusActive {
		return false
	}
	if !w.Events[eventType] {
		return false
	}
	if w.Options.MinSeverity != "" && severityRank(severity) < severityRank(w.Options.MinSeverity) {
		return false
	}
	return true
}

var severityOrder = map[string]int{"low": 0, "medium": 1, "high": 2, "critical": 3}

func severityRank(s string) int {
	if r, ok := severityOrder[s]; ok {
		return r
	}
	return 0
}

// DeliveryStatus is a single delivery attempt's lifecycle state.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryInProgress DeliveryStatus = "in_progress"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryRetrying   DeliveryStatus = "retrying"
)

// AttemptOutcome is one attemptLog entry's terminal classification.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
)

// AttemptLogEntry records the outcome of one delivery attempt.
type AttemptLogEntry struct {
	Attempt        int
	Timestamp      time.Time
	Status         AttemptOutcome
	ResponseStatus int
	ResponseTimeMs int64
	Error          string
}

// Delivery is one webhook event's delivery state machine instance.
type Delivery struct {
	ID             string
	WebhookID      string
	EventID        string
	UserID         string
	URL            string
	Payload        []byte // canonical JSON bytes
	Signature      string
	Status         DeliveryStatus
	Attempt        int
	MaxAttempts    int
	ResponseStatus int
	ResponseBody   []byte // capped 4 KB
	ResponseTimeMs int64
	CreatedAt      time.Time
	ScheduledAt    time.Time
	AttemptedAt    *time.Time
	CompletedAt    *time.Time
	Error          string
	ErrorCode      string
	AttemptLog     []AttemptLogEntry
}

// MaxResponseBodyCapture caps diagnostic response body capture.
const MaxResponseBodyCapture = 4 * 1024

// MaxArchiveLogLength caps the per-webhook terminal-delivery archive.
const MaxArchiveLogLength = 200
