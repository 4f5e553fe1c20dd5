package engine

import (
	"log/slog"

	"github.com/campusworks/coursetasks/pkg/security"
)

// Option configures a LocalEngine.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// Config holds engine configuration.
type Config struct {
	Concurrency int
	Buffer      int
	Eager       bool
	Results     ResultBackend
	Logger      *slog.Logger
}

// Concurrency sets the number of worker goroutines.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// Buffer sets the submission channel capacity.
func Buffer(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.Buffer = n
		}
	})
}

// Eager makes Submit run the task body synchronously on the calling
// goroutine. Used in tests and management commands where no worker
// process exists.
func Eager() Option {
	return optionFunc(func(c *Config) {
		c.Eager = true
	})
}

// WithResults sets the result backend. Defaults to the in-memory
// backend, which only works when web and worker share a process.
func WithResults(r ResultBackend) Option {
	return optionFunc(func(c *Config) {
		c.Results = r
	})
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}
