package truststore

import (
	"context"
	"net/http"
	"time"
)

// AdmitRequest is the minimal admission context the gate evaluates.
type AdmitRequest struct {
	UserID        string
	Subject       string // rate-limit subject, defaults to UserID if empty
	WindowSeconds int64
	RateLimit     int64
}

// AdmitDecision is the gate's verdict, with enough detail for an HTTP
// adapter to render a response.
type AdmitDecision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Gate composes BlockStore and RateLimitStore into one explicit admission
// pipeline: a struct that threads a context and returns a decision
// directly, testable without an HTTP round trip. Middleware() adapts it
// back to http.Handler for the admin surface.
type Gate struct {
	blocks     *BlockStore
	rateLimits *RateLimitStore
}

// NewGate constructs a Gate.
func NewGate(blocks *BlockStore, rateLimits *RateLimitStore) *Gate {
	return &Gate{blocks: blocks, rateLimits: rateLimits}
}

// Admit runs the block check then the rate-limit check, in that order,
// short-circuiting on the first failure.
func (g *Gate) Admit(ctx context.Context, req AdmitRequest) (AdmitDecision, error) {
	status, err := g.blocks.IsBlocked(ctx, req.UserID)
	if err != nil {
		return AdmitDecision{}, err
	}
	if status.Blocked {
		return AdmitDecision{Allowed: false, Reason: "blocked: " + status.Reason, RetryAfter: time.Until(status.Until)}, nil
	}

	subject := req.Subject
	if subject == "" {
		subject = req.UserID
	}
	window := req.WindowSeconds
	if window <= 0 {
		window = 60
	}
	result, err := g.rateLimits.Increment(ctx, subject, window)
	if err != nil {
		return AdmitDecision{}, err
	}
	if req.RateLimit > 0 && result.Count > req.RateLimit {
		return AdmitDecision{Allowed: false, Reason: "rate_limited", RetryAfter: time.Until(result.ResetsAt)}, nil
	}

	return AdmitDecision{Allowed: true}, nil
}

// Middleware adapts Admit into an http.Handler wrapper, reading the user
// id from the X-Nova-User header (the admin surface's internal auth sits
// in front of this gate; it is not a public-facing auth layer).
func (g *Gate) Middleware(windowSeconds, rateLimit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-Nova-User")
			decision, err := g.Admit(r.Context(), AdmitRequest{UserID: userID, WindowSeconds: windowSeconds, RateLimit: rateLimit})
			if err != nil {
				http.Error(w, "admission check failed", http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				if decision.RetryAfter > 0 {
					w.Header().Set("Retry-After", decision.RetryAfter.Truncate(time.Second).String())
				}
				http.Error(w, decision.Reason, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
