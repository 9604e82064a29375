// Package logger provides the process-wide structured logger used by the
// engine, worker pool and HTTP API. It wraps a single zerolog.Logger so every
// component logs task and worker identifiers in the same field names
// ("task_id", "worker_id") regardless of which package emits the line.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the global logger. pretty selects a human-readable console
// writer (local development); false selects structured JSON (production,
// where logs are scraped rather than read directly).
func Init(level string, pretty bool) {
	// Parse log level
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

func Get() *zerolog.Logger {
	return &log
}

// WithComponent scopes a logger to a subsystem name (e.g. "engine",
// "storage.redis") for log lines that aren't tied to one task or worker.
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithWorker scopes a logger to a worker pool ID, used by the poll loop and
// heartbeat so every line from one worker process can be grepped together.
func WithWorker(workerID string) zerolog.Logger {
	return log.With().Str("worker_id", workerID).Logger()
}

// WithTask scopes a logger to a task ID, used around dequeue/execute/
// complete so a task's full lifecycle can be traced across log lines.
func WithTask(taskID string) zerolog.Logger {
	return log.With().Str("task_id", taskID).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
