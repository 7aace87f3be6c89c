package kvstore

import "github.com/vitaliisemenov/trustcore/internal/apperr"

// ErrBackendUnavailable wraps a transport-level failure from a Store
// implementation as an apperr.BackendUnavailable.
func ErrBackendUnavailable(op string, cause error) error {
	return apperr.New(apperr.BackendUnavailable, "kvstore: "+op+" failed").WithCause(cause)
}

// ErrNotInteger is returned by Incr/IncrBy when the existing value isn't a
// base-10 integer.
func ErrNotInteger(key string) error {
	return apperr.New(apperr.Conflict, "kvstore: value at "+key+" is not an integer")
}

// ErrShapeMismatch is returned when a write targets a key already holding a
// different shape (string vs list vs set vs hash).
func ErrShapeMismatch(key string) error {
	return apperr.New(apperr.Conflict, "kvstore: shape mismatch at "+key)
}
