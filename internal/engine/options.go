package engine

import "time"

// Options configures an Engine instance (§6 "Engine configuration"). Zero
// Delay, MaxRetries and MaxProcessingTime are replaced by DefaultOptions'
// values via Options.withDefaults; the other fields are used as given.
type Options struct {
	// Delay is the worker pool's poll interval when a dequeue returns none.
	Delay time.Duration
	// Singleton is carried from configuration but not read by this package:
	// engines constructed with New are never singletons.
	Singleton bool
	// MaxRetries is the engine-level default, cascaded under handler and
	// task overrides (§3 "Effective policy resolution order").
	MaxRetries int
	// MaxProcessingTime is the engine-level default attempt budget.
	MaxProcessingTime time.Duration
	// CrashOnWorkerError promotes an unhandled handler error into a fatal
	// stop of the whole worker pool instead of failing just that task.
	CrashOnWorkerError bool
	// SkipOnPayloadError downgrades a validator rejection at Enqueue time
	// from an error into a warning-and-continue.
	SkipOnPayloadError bool
	// StrictHandlerValidation rejects Enqueue calls naming an unregistered
	// handler instead of accepting the task for a future registration.
	StrictHandlerValidation bool
}

func DefaultOptions() Options {
	return Options{
		Delay:             10 * time.Second,
		Singleton:         true,
		MaxRetries:        3,
		MaxProcessingTime: 10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Delay == 0 {
		o.Delay = d.Delay
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.MaxProcessingTime == 0 {
		o.MaxProcessingTime = d.MaxProcessingTime
	}
	return o
}
