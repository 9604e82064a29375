package task

import "time"

// DefaultMaxRetries and DefaultMaxProcessingTime are the engine-level
// defaults used when neither a task override nor a handler default supplies
// a value (§6 External Interfaces).
const (
	DefaultMaxRetries        = 3
	DefaultMaxProcessingTime = 10 * time.Minute
)

// Policy is the resolved set of per-task behavior knobs: how many retries are
// permitted and how long a single attempt may run before being considered
// stuck.
type Policy struct {
	MaxRetries        int
	MaxProcessingTime time.Duration
}

// Overrides is the task-level policy supplied at enqueue time. Nil fields
// fall through to the handler, then the engine, default. Priority is not
// part of the retry/timeout cascade; it has no handler- or engine-level
// default and is simply 0 when unset.
type Overrides struct {
	MaxRetries        *int
	MaxProcessingTime *time.Duration
	Priority          *int
}

// HandlerDefaults is the policy a handler registers alongside its callable.
// Nil fields fall through to the engine default.
type HandlerDefaults struct {
	MaxRetries        *int
	MaxProcessingTime *time.Duration
}

// ResolvePolicy implements the cascade task-override > handler-default >
// engine-default (§9 Design Notes: resolved once, at enqueue time, never
// re-read mid-attempt). The caller is responsible for rejecting overrides
// that exceed HardMaxRetries before calling this.
func ResolvePolicy(overrides Overrides, handler HandlerDefaults, engineDefault Policy) Policy {
	resolved := engineDefault

	if handler.MaxRetries != nil {
		resolved.MaxRetries = *handler.MaxRetries
	}
	if handler.MaxProcessingTime != nil {
		resolved.MaxProcessingTime = *handler.MaxProcessingTime
	}

	if overrides.MaxRetries != nil {
		resolved.MaxRetries = *overrides.MaxRetries
	}
	if overrides.MaxProcessingTime != nil {
		resolved.MaxProcessingTime = *overrides.MaxProcessingTime
	}

	return resolved
}

// EngineDefaultPolicy is the policy an engine falls back to absent any
// handler or task override.
func EngineDefaultPolicy() Policy {
	return Policy{
		MaxRetries:        DefaultMaxRetries,
		MaxProcessingTime: DefaultMaxProcessingTime,
	}
}
