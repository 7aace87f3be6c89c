// Package verification, given a claim, fetches corroborating evidence from
// trusted and general sources (through the SSRF guard and transport) and
// composes a cached VerificationRecord.
package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/flags"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// Status is the finite verdict vocabulary for a claim.
type Status string

const (
	Verified     Status = "verified"
	LikelyTrue   Status = "likely_true"
	Uncertain    Status = "uncertain"
	LikelyFalse  Status = "likely_false"
	Refuted      Status = "refuted"
	Unverifiable Status = "unverifiable"
)

// Source is one fetched piece of evidence.
type Source struct {
	Domain       string
	URL          string
	Trusted      bool
	Corroborates bool
}

// Timing breaks total latency into fetch and analysis phases.
type Timing struct {
	TotalMs    int64
	FetchMs    int64
	AnalysisMs int64
}

// Record is the cached result of verifying one claim.
type Record struct {
	ClaimHash   string
	Status      Status
	Confidence  float64
	Sources     []Source
	Evidence    string
	Explanation string
	Timing      Timing
	CachedAt    time.Time
	ExpiresAt   time.Time
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ClaimHash computes sha256(lowercase(trim(collapseWhitespace(claim)))),
// hex-encoded, so semantically identical claims share a cache entry.
func ClaimHash(claim string) string {
	normalized := strings.ToLower(strings.TrimSpace(whitespaceRun.ReplaceAllString(claim, " ")))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func cacheKey(hash string) string { return "verify:v1:" + hash }

// Fetcher retrieves evidence for a claim from one source URL. Returning
// corroborates=false does not mean an error; it means the source was
// reached but did not support the claim.
type Fetcher interface {
	Fetch(ctx context.Context, claim, sourceURL string) (corroborates bool, err error)
}

// Config carries the executor's tunables.
type Config struct {
	MaxVerificationsPerRequest int
	MaxConcurrentVerifications int
	CacheTTL                   time.Duration
	TrustedSources             []string
	GeneralSources             []string
}

// Executor is the claim-verification engine.
type Executor struct {
	store   kvstore.Store
	cache   *RecordCache
	fetcher Fetcher
	static  flags.Static
	cfg     Config
}

// New constructs an Executor.
func New(store kvstore.Store, fetcher Fetcher, static flags.Static, cfg Config) *Executor {
	return &Executor{store: store, cache: NewRecordCache(store, slog.Default()), fetcher: fetcher, static: static, cfg: cfg}
}

// CacheStats returns the running hit/miss/error counters for this
// Executor's record cache, for operators to expose however they see fit.
func (e *Executor) CacheStats() CacheStats { return e.cache.Snapshot() }

// Verify resolves a VerificationRecord for claim, using the cache when
// fresh and otherwise fetching up to MaxVerificationsPerRequest sources
// concurrently (bounded by MaxConcurrentVerifications). It always
// returns a record — fetch failures degrade the verdict, they never
// fail the call.
func (e *Executor) Verify(ctx context.Context, claim string) (*Record, error) {
	start := time.Now()
	hash := ClaimHash(claim)

	if !e.static.VerificationEnabled {
		return &Record{ClaimHash: hash, Status: Unverifiable, Confidence: 0, Explanation: "disabled"}, nil
	}

	if cached, ok := e.cache.Get(ctx, hash); ok {
		return cached, nil
	}

	fetchStart := time.Now()
	sources := e.selectSources()
	if len(sources) > e.cfg.MaxVerificationsPerRequest {
		sources = sources[:e.cfg.MaxVerificationsPerRequest]
	}

	results := e.fetchConcurrently(ctx, claim, sources)
	fetchMs := time.Since(fetchStart).Milliseconds()

	analysisStart := time.Now()
	status, confidence, explanation := e.compose(results)
	analysisMs := time.Since(analysisStart).Milliseconds()

	record := &Record{
		ClaimHash:   hash,
		Status:      status,
		Confidence:  confidence,
		Sources:     results,
		Explanation: explanation,
		Timing:      Timing{TotalMs: time.Since(start).Milliseconds(), FetchMs: fetchMs, AnalysisMs: analysisMs},
		CachedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(e.cfg.CacheTTL),
	}

	e.cache.Set(ctx, hash, record, e.cfg.CacheTTL)
	return record, nil
}

type sourceCandidate struct {
	domain  string
	trusted bool
}

// selectSources returns trusted sources first, then general sources.
func (e *Executor) selectSources() []sourceCandidate {
	out := make([]sourceCandidate, 0, len(e.cfg.TrustedSources)+len(e.cfg.GeneralSources))
	for _, d := range e.cfg.TrustedSources {
		out = append(out, sourceCandidate{domain: d, trusted: true})
	}
	for _, d := range e.cfg.GeneralSources {
		out = append(out, sourceCandidate{domain: d, trusted: false})
	}
	return out
}

// fetchConcurrently fetches every candidate bounded by a semaphore sized
// MaxConcurrentVerifications — the same bounded-worker-pool shape the
// delivery engine uses for fan-out work.
func (e *Executor) fetchConcurrently(ctx context.Context, claim string, candidates []sourceCandidate) []Source {
	limit := e.cfg.MaxConcurrentVerifications
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]Source, 0, len(candidates))

	for _, c := range candidates {
		wg.Add(1)
		go func(c sourceCandidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			url := "https://" + c.domain + "/search?q=" + claim
			corroborates, err := e.fetcher.Fetch(ctx, claim, url)
			if err != nil {
				corroborates = false
			}
			mu.Lock()
			results = append(results, Source{Domain: c.domain, URL: url, Trusted: c.trusted, Corroborates: corroborates})
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// compose applies the scoring rule: score = (trusted-corroborating*2 +
// general-corroborating) / (2*maxVerificationsPerRequest), clamped to
// [0,1]. This is a deliberate, simple, monotonic rule left to the
// implementer by the open scoring question.
func (e *Executor) compose(sources []Source) (Status, float64, string) {
	if len(sources) == 0 {
		return Unverifiable, 0, "no sources available"
	}

	var trustedCorroborating, generalCorroborating, conflicting int
	for _, s := range sources {
		if s.Corroborates {
			if s.Trusted {
				trustedCorroborating++
			} else {
				generalCorroborating++
			}
		} else {
			conflicting++
		}
	}

	denom := 2 * e.cfg.MaxVerificationsPerRequest
	if denom <= 0 {
		denom = 2
	}
	score := float64(trustedCorroborating*2+generalCorroborating) / float64(denom)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	switch {
	case trustedCorroborating >= 1 && conflicting == 0:
		return Verified, score, "corroborated by trusted source(s) with no conflicts"
	case score >= 0.6:
		return LikelyTrue, score, "majority of sources corroborate"
	case score >= 0.3:
		return Uncertain, score, "mixed or insufficient corroboration"
	case trustedCorroborating == 0 && generalCorroborating == 0 && conflicting > 0:
		return Refuted, 0, "no corroboration found, sources conflict"
	default:
		return LikelyFalse, score, "corroboration below threshold"
	}
}
