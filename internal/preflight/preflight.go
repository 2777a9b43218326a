// Package preflight verifies external collaborators before the bot goes
// online: the Opus codec, the speech-to-text backend, the synthesis server
// and the language model host. Failures are collected so one startup
// attempt reports everything that is wrong.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const defaultCheckTimeout = 10 * time.Second

// Check is one named startup verification.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes preflight checks with a per-check timeout.
type Runner struct {
	checks  []Check
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-check timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner builds a runner over the given checks.
func NewRunner(checks []Check, opts ...Option) *Runner {
	r := &Runner{
		checks:  checks,
		timeout: defaultCheckTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every check and returns the joined failures, or nil when
// all pass. Checks run sequentially; each gets its own timeout.
func (r *Runner) Run(ctx context.Context) error {
	var errs []error
	for _, check := range r.checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check.Run(checkCtx)
		cancel()
		if err != nil {
			r.logger.Error("preflight: check failed", "check", check.Name, "error", err)
			errs = append(errs, fmt.Errorf("preflight %s: %w", check.Name, err))
			continue
		}
		r.logger.Info("preflight: check passed", "check", check.Name, "took", time.Since(start))
	}
	return errors.Join(errs...)
}

// Pinger is anything reachable with a health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a provider's health probe as a named check.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Run: p.Ping}
}

// FuncCheck wraps a plain function as a named check.
func FuncCheck(name string, fn func(ctx context.Context) error) Check {
	return Check{Name: name, Run: fn}
}

// ModelFileCheck verifies a model path exists and is a regular file.
func ModelFileCheck(name, path string) Check {
	return Check{Name: name, Run: func(context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("model file %s: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("model file %s is a directory", path)
		}
		return nil
	}}
}
