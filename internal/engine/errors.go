package engine

import "errors"

// Configuration-category errors (§7 Error Handling Design): fatal at
// construction, never surfaced mid-run.
var (
	ErrMaxRetriesOverCap = errors.New("engine: maxRetries exceeds the system hard cap")
	ErrConflictingConfig = errors.New("engine: conflicting backend configuration for an existing singleton")
)

// Input-category errors: surfaced to the caller of Enqueue, or downgraded to
// a warning when SkipOnPayloadError is set.
var (
	ErrHandlerNotRegistered = errors.New("engine: handler not registered")
	ErrInvalidPayload       = errors.New("engine: payload rejected by validator")
)
