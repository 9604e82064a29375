// Package registry implements the process-local Handler Registry (§4.2):
// a name to callable-plus-policy mapping consulted only by the engine
// instance that owns it.
package registry

import (
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/relaykit/taskqueue/internal/task"
)

// HandlerFunc is the user-supplied callable invoked for a matching task. It
// receives the task's payload and returns a result or an error; handlers
// must be idempotent since the engine offers at-least-once delivery.
type HandlerFunc func(payload map[string]interface{}) (map[string]interface{}, error)

// ValidationSource reports which mechanism produced a validation verdict.
type ValidationSource string

const (
	SourceValidator ValidationSource = "validator"
	SourceAuto      ValidationSource = "auto"
	SourceNone      ValidationSource = "none"
)

// Validator inspects a payload before enqueue and reports whether it is
// acceptable for the bound handler.
type Validator func(payload map[string]interface{}) (valid bool, message string)

// Options configures a handler registration: policy overrides applied ahead
// of the engine default, and an optional payload validator.
type Options struct {
	MaxRetries        *int
	MaxProcessingTime *time.Duration
	Validator         Validator
	// ExpectedKeys drives "auto" validation when Validator is nil: the
	// payload is rejected if any of these keys is absent.
	ExpectedKeys []string
}

// Entry is what the registry stores per handler name.
type Entry struct {
	Name    string
	Fn      HandlerFunc
	Options Options
}

// Defaults projects an Entry's options into the task package's policy
// cascade input.
func (e Entry) Defaults() task.HandlerDefaults {
	return task.HandlerDefaults{
		MaxRetries:        e.Options.MaxRetries,
		MaxProcessingTime: e.Options.MaxProcessingTime,
	}
}

// Registry is a concurrent, read-often/write-rarely name→Entry map (§5
// "Shared resources"). Registration is idempotent on name collision: the
// last call to Register wins, and is always safe to call before the first
// enqueue.
type Registry struct {
	entries *xsync.MapOf[Entry]
}

func New() *Registry {
	return &Registry{entries: xsync.NewMapOf[Entry]()}
}

// Register binds fn to name, replacing any prior registration under the
// same name.
func (r *Registry) Register(name string, fn HandlerFunc, opts Options) {
	r.entries.Store(name, Entry{Name: name, Fn: fn, Options: opts})
}

// Get returns the entry bound to name, if any.
func (r *Registry) Get(name string) (Entry, bool) {
	return r.entries.Load(name)
}

// Has reports whether a handler is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries.Load(name)
	return ok
}

// Validate runs the configured validation for name against payload. When no
// validator and no expected keys are configured, it reports source=none and
// valid=true: an unconfigured handler never blocks enqueue.
func (r *Registry) Validate(name string, payload map[string]interface{}) (valid bool, message string, source ValidationSource) {
	entry, ok := r.entries.Load(name)
	if !ok {
		return true, "", SourceNone
	}

	if entry.Options.Validator != nil {
		valid, message = entry.Options.Validator(payload)
		return valid, message, SourceValidator
	}

	if len(entry.Options.ExpectedKeys) > 0 {
		for _, key := range entry.Options.ExpectedKeys {
			if _, present := payload[key]; !present {
				return false, "missing expected payload key: " + key, SourceAuto
			}
		}
		return true, "", SourceAuto
	}

	return true, "", SourceNone
}
