package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
	"github.com/vitaliisemenov/trustcore/internal/ssrfguard"
)

// Fetcher is the minimal surface RedirectGuard needs from a single-hop
// transport.
type Fetcher interface {
	Do(ctx context.Context, method string, req ssrfguard.TransportRequirements, body io.Reader, headers http.Header) (*Response, error)
}

// RedirectGuard wraps a Fetcher and a Guard so that every redirect hop
// re-runs the full SSRF check rather than blindly following Location.
type RedirectGuard struct {
	fetcher Fetcher
	guard   *ssrfguard.Guard
}

// NewRedirectGuard constructs a RedirectGuard.
func NewRedirectGuard(fetcher Fetcher, guard *ssrfguard.Guard) *RedirectGuard {
	return &RedirectGuard{fetcher: fetcher, guard: guard}
}

// Fetch performs method against rawURL, following redirects up to
// req.MaxRedirects hops, re-validating every hop through the SSRF guard
// and rejecting any hop that revisits a previously seen normalized URL.
func (g *RedirectGuard) Fetch(ctx context.Context, method, rawURL string, body io.Reader, headers http.Header) (*Response, error) {
	seen := make(map[string]bool)
	currentURL := rawURL
	currentMethod := method
	var currentBody io.Reader = body

	decision := g.guard.Check(ctx, currentURL, pathOf(currentURL))
	if !decision.Allowed {
		return nil, apperr.New(apperr.Forbidden, "transport: "+string(decision.DenyReason))
	}

	maxHops := decision.Transport.MaxRedirects
	for hop := 0; ; hop++ {
		if seen[normalize(currentURL)] {
			return nil, apperr.New(apperr.Forbidden, "transport: redirect loop detected")
		}
		seen[normalize(currentURL)] = true

		resp, err := g.fetcher.Do(ctx, currentMethod, *decision.Transport, currentBody, headers)
		if err != nil {
			return nil, err
		}

		if !isRedirect(resp.Status) || !decision.Transport.AllowRedirects {
			return resp, nil
		}
		location := resp.Headers.Get("Location")
		if location == "" {
			return resp, nil
		}
		if hop >= maxHops {
			return nil, apperr.New(apperr.Forbidden, "transport: redirect limit exceeded")
		}

		nextURL, err := resolveRedirect(currentURL, location)
		if err != nil {
			return nil, apperr.New(apperr.MalformedInput, "transport: invalid redirect location").WithCause(err)
		}

		// 307/308 preserve method and body; 301/302/303 downgrade to GET
		// with no body, per standard browser/client behavior.
		if resp.Status == http.StatusTemporaryRedirect || resp.Status == http.StatusPermanentRedirect {
			// method/body preserved
		} else {
			currentMethod = http.MethodGet
			currentBody = nil
		}

		currentURL = nextURL
		decision = g.guard.Check(ctx, currentURL, pathOf(currentURL))
		if !decision.Allowed {
			return nil, apperr.New(apperr.Forbidden, "transport: redirect target denied: "+string(decision.DenyReason))
		}
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
