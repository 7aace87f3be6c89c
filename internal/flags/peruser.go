package flags

import "hash/fnv"

// UserContext is the pure-function input for per-user flag evaluation.
type UserContext struct {
	UserID             string
	UserTier           string
	UserCreatedAtUnix  int64
	PercentileOverride *int
}

// Definition is a per-user flag's compiled-in shape: a default, optional
// tier allowlist, optional rollout percentage, optional earliest-creation
// gate, and optional variant list for multivariate flags.
type Definition struct {
	Name              string
	DefaultValue      any
	EnabledTiers      []string
	RolloutPercentage *int
	EnabledAfterUnix  *int64
	Variants          []any
}

// Evaluate resolves a flag for a user in fixed precedence order: tier
// allowlist → earliest-creation-date → rollout percentile → default.
func Evaluate(def Definition, user UserContext) any {
	for _, tier := range def.EnabledTiers {
		if tier == user.UserTier {
			return resolveValue(def, user)
		}
	}

	if def.EnabledAfterUnix != nil && user.UserCreatedAtUnix >= *def.EnabledAfterUnix {
		return resolveValue(def, user)
	}

	if def.RolloutPercentage != nil {
		bucket := StableHash(user.UserID) % 100
		if user.PercentileOverride != nil {
			bucket = uint32(*user.PercentileOverride)
		}
		if int(bucket) < *def.RolloutPercentage {
			return resolveValue(def, user)
		}
	}

	return def.DefaultValue
}

// resolveValue returns the variant selected by the user's stable hash when
// the flag defines variants, otherwise the default value.
func resolveValue(def Definition, user UserContext) any {
	if len(def.Variants) == 0 {
		return def.DefaultValue
	}
	idx := StableHash(user.UserID) % uint32(len(def.Variants))
	return def.Variants[idx]
}

// StableHash is a deterministic 32-bit hash of the UTF-8 user id, used to
// bucket users for rollout percentiles and variant selection. FNV-1a ships
// in the standard library and is guaranteed deterministic across processes
// and restarts, so there's no need for a bespoke hash function.
func StableHash(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32()
}
