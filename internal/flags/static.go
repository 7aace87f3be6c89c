// Package flags implements the three-layer feature-flag model: static
// capabilities frozen at startup, dynamic KV-backed scalars with a short
// local cache, and per-user bucketed rollout flags evaluated as a pure
// function.
package flags

// Static holds boolean capabilities computed once at startup and never
// mutated afterward. Callers receive it by value so there is nothing to
// accidentally mutate.
type Static struct {
	WebFetchEnabled         bool
	VerificationEnabled     bool
	WebFetchAllowPrivateIPs bool
	WebFetchAllowLocalhost  bool
	WebFetchValidateCerts   bool
}

// NewStatic freezes a Static bundle from already-resolved configuration
// values. It takes plain bools rather than a *config.Config, so the flags
// package does not depend on config.
func NewStatic(webFetchEnabled, verificationEnabled, allowPrivate, allowLocalhost, validateCerts bool) Static {
	return Static{
		WebFetchEnabled:         webFetchEnabled,
		VerificationEnabled:     verificationEnabled,
		WebFetchAllowPrivateIPs: allowPrivate,
		WebFetchAllowLocalhost:  allowLocalhost,
		WebFetchValidateCerts:   validateCerts,
	}
}
