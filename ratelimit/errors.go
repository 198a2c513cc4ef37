package ratelimit

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing store cannot be read or written.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrContention is returned when an optimistic update lost every retry.
	ErrContention = errors.New("rate limit store contention")
	// ErrInvalidConfig is returned by [Config.Validate].
	ErrInvalidConfig = errors.New("invalid rate limit config")
)
