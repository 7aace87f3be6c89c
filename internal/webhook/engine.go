package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/ssrfguard"
	"github.com/vitaliisemenov/trustcore/internal/transport"
)

// DefaultUserAgent identifies outbound delivery requests to receivers.
const DefaultUserAgent = "trustcore-webhooks/1.0"

// Dispatcher sends one webhook HTTP request through the SSRF guard and
// transport with redirects disabled, since webhook endpoints must be exact.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, headers http.Header, body []byte) (status int, respBody []byte, timingMs int64, err error)
}

// guardedDispatcher is the production Dispatcher: one SSRF check followed
// by exactly one transport call, AllowRedirects forced false regardless of
// policy configuration.
type guardedDispatcher struct {
	guard     *ssrfguard.Guard
	transport *transport.Transport
}

// NewDispatcher constructs the production Dispatcher.
func NewDispatcher(guard *ssrfguard.Guard, t *transport.Transport) Dispatcher {
	return &guardedDispatcher{guard: guard, transport: t}
}

func (d *guardedDispatcher) Dispatch(ctx context.Context, url string, headers http.Header, body []byte) (int, []byte, int64, error) {
	decision := d.guard.Check(ctx, url, "/")
	if !decision.Allowed {
		return 0, nil, 0, &deniedError{reason: string(decision.DenyReason)}
	}
	req := *decision.Transport
	req.AllowRedirects = false

	resp, err := d.transport.Do(ctx, http.MethodPost, req, bytes.NewReader(body), headers)
	if err != nil {
		return 0, nil, 0, err
	}
	respBody := resp.Body
	if len(respBody) > MaxResponseBodyCapture {
		respBody = respBody[:MaxResponseBodyCapture]
	}
	return resp.Status, respBody, resp.TimingMs, nil
}

type deniedError struct{ reason string }

func (e *deniedError) Error() string { return "webhook url denied: " + e.reason }

// Engine runs the delivery loop: a bounded worker pool per user queue,
// gated per webhook to K concurrent in-flight deliveries.
type Engine struct {
	queue      *Queue
	dispatcher Dispatcher
	gates      map[string]chan struct{}
	gatesMu    sync.Mutex
}

// PerWebhookConcurrency bounds the number of deliveries in flight for any
// single webhook at once.
const PerWebhookConcurrency = 4

// NewEngine constructs an Engine.
func NewEngine(queue *Queue, dispatcher Dispatcher) *Engine {
	return &Engine{queue: queue, dispatcher: dispatcher, gates: make(map[string]chan struct{})}
}

func (e *Engine) gateFor(webhookID string) chan struct{} {
	e.gatesMu.Lock()
	defer e.gatesMu.Unlock()
	g, ok := e.gates[webhookID]
	if !ok {
		g = make(chan struct{}, PerWebhookConcurrency)
		e.gates[webhookID] = g
	}
	return g
}

// ProcessOne claims and attempts the next due delivery for userID, if any,
// returning false when the queue has nothing ready.
func (e *Engine) ProcessOne(ctx context.Context, userID string) (bool, error) {
	d, ok, err := e.queue.ClaimNext(ctx, userID, time.Now())
	if err != nil || !ok {
		return false, err
	}

	gate := e.gateFor(d.WebhookID)
	gate <- struct{}{}
	defer func() { <-gate }()

	return true, e.attempt(ctx, *d)
}

func (e *Engine) attempt(ctx context.Context, d Delivery) error {
	w, ok, err := e.queue.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	headers := http.Header{
		"X-Nova-Signature": []string{d.Signature},
		"X-Nova-Event":     []string{eventTypeFromPayload(d.Payload)},
		"X-Nova-Delivery":  []string{d.ID},
		"X-Nova-Webhook":   []string{d.WebhookID},
		"X-Nova-Attempt":   []string{strconv.Itoa(d.Attempt)},
		"Content-Type":     []string{"application/json"},
		"User-Agent":       []string{DefaultUserAgent},
	}
	for k, v := range w.Options.CustomHeaders {
		headers.Set(k, v)
	}

	status, respBody, timingMs, dispatchErr := e.dispatcher.Dispatch(ctx, d.URL, headers, d.Payload)
	now := time.Now()

	entry := AttemptLogEntry{Attempt: d.Attempt, Timestamp: now, ResponseTimeMs: timingMs}

	if dispatchErr == nil && status >= 200 && status < 300 {
		entry.Status = AttemptSuccess
		entry.ResponseStatus = status
		d.AttemptLog = append(d.AttemptLog, entry)
		d.Status = DeliveryDelivered
		d.ResponseStatus = status
		d.ResponseBody = respBody
		d.ResponseTimeMs = timingMs
		d.CompletedAt = &now

		w.Totals.Delivered++
		w.Totals.Succeeded++
		w.Totals.ConsecutiveFailures = 0
		if err := e.queue.SaveWebhook(ctx, *w); err != nil {
			return err
		}
		return e.queue.Complete(ctx, d)
	}

	entry.Status = AttemptFailure
	entry.ResponseStatus = status
	if dispatchErr != nil {
		entry.Error = dispatchErr.Error()
		d.Error = dispatchErr.Error()
	}
	d.AttemptLog = append(d.AttemptLog, entry)

	if d.Attempt < d.MaxAttempts {
		delay := backoffDelay(w.Options.RetryDelayMs, w.Options.RetryBackoffMultiplier, d.Attempt)
		d.Attempt++
		d.Status = DeliveryRetrying
		d.ScheduledAt = now.Add(delay)
		d.Payload, d.Signature, err = resignForAttempt(w.Secret, d)
		if err != nil {
			return err
		}
		return e.queue.Reschedule(ctx, d)
	}

	d.Status = DeliveryFailed
	d.CompletedAt = &now
	w.Totals.Delivered++
	w.Totals.Failed++
	w.Totals.ConsecutiveFailures++
	if w.Totals.ConsecutiveFailures >= ConsecutiveFailureThreshold {
		w.Status = StatusFailed
	}
	if err := e.queue.SaveWebhook(ctx, *w); err != nil {
		return err
	}
	return e.queue.Complete(ctx, d)
}

// backoffDelay computes retryDelayMs * backoffMultiplier^(attempt-1) with
// full jitter in [0, delay].
func backoffDelay(retryDelayMs int64, multiplier float64, attempt int) time.Duration {
	base := float64(retryDelayMs)
	for i := 1; i < attempt; i++ {
		base *= multiplier
	}
	full := time.Duration(base) * time.Millisecond
	if full <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(full) + 1))
}

// resignForAttempt recomputes the canonical payload and signature for the
// bumped attempt number, so the receiver's idempotency key (delivery id)
// stays stable while the signed attempt count stays accurate.
func resignForAttempt(secret []byte, d Delivery) ([]byte, string, error) {
	var existing map[string]any
	if err := json.Unmarshal(d.Payload, &existing); err != nil {
		return nil, "", err
	}
	payload := CanonicalPayload{
		ID:        d.ID,
		Event:     stringField(existing, "event"),
		Timestamp: int64Field(existing, "timestamp"),
		Data:      mapField(existing, "data"),
		WebhookID: d.WebhookID,
		UserID:    d.UserID,
		Attempt:   d.Attempt,
	}
	signer := NewHMACSigner()
	sig, err := signer.Sign(secret, payload)
	if err != nil {
		return nil, "", err
	}
	payload.Signature = sig
	canonical, err := Canonicalize(payload)
	return canonical, sig, err
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(m map[string]any, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func eventTypeFromPayload(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) != nil {
		return ""
	}
	return stringField(m, "event")
}
