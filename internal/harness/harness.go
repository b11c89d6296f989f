// Package harness is the shared scaffolding every protocol-specific test
// harness (guarantees, broadcast, membership, sharding, replication) builds
// on: a named-test runner that records pass/fail without aborting the run,
// small assume_* predicate helpers that produce properly-classified errors
// (see internal/errclass), and the bounded-interleaving helper every
// harness uses to mix local input injection with step(k).
package harness

import (
	"fmt"
	"log/slog"

	"distsim/internal/engine"
	"distsim/internal/errclass"
	"distsim/internal/prng"
)

// Result is the outcome of one named scenario.
type Result struct {
	Name   string
	Passed bool
	Err    error
}

// Suite runs a catalog of named scenarios, recording pass/fail for each and
// continuing to the next on an assertion failure:
// an assertion failure (or timeout, which is treated the same) fails only
// that scenario. A fatal engine error — a malformed node emission — aborts
// the whole suite instead, since the engine itself can no longer be trusted
// to produce meaningful results for later scenarios.
type Suite struct {
	log     *slog.Logger
	results []Result
	fatal   error
}

// NewSuite creates an empty Suite.
func NewSuite(log *slog.Logger) *Suite {
	if log == nil {
		log = slog.Default()
	}
	return &Suite{log: log}
}

// Run executes fn under name, recording its outcome. If the suite has
// already hit a fatal engine error, Run skips fn entirely.
func (s *Suite) Run(name string, fn func() error) {
	if s.fatal != nil {
		s.results = append(s.results, Result{Name: name, Passed: false, Err: fmt.Errorf("skipped: prior fatal error: %w", s.fatal)})
		return
	}
	err := fn()
	switch {
	case err == nil:
		s.results = append(s.results, Result{Name: name, Passed: true})
		s.log.Info("scenario passed", "name", name)
	case errclass.IsFatal(err):
		s.fatal = err
		s.results = append(s.results, Result{Name: name, Passed: false, Err: err})
		s.log.Error("fatal engine error, aborting suite", "name", name, "err", err)
	default:
		s.results = append(s.results, Result{Name: name, Passed: false, Err: err})
		s.log.Warn("scenario failed", "name", name, "err", err)
	}
}

// Results returns every recorded outcome, in run order.
func (s *Suite) Results() []Result {
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Passed reports whether every scenario passed and no fatal error occurred.
func (s *Suite) Passed() bool {
	if s.fatal != nil {
		return false
	}
	for _, r := range s.results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Fatal returns the fatal engine error that aborted the suite, if any.
func (s *Suite) Fatal() error {
	return s.fatal
}

// AssumeTrue fails the enclosing scenario with msg if cond is false.
func AssumeTrue(cond bool, format string, args ...any) error {
	if !cond {
		return errclass.Failf(format, args...)
	}
	return nil
}

// AssumeEqual fails the enclosing scenario if got != want.
func AssumeEqual[T comparable](got, want T, format string, args ...any) error {
	if got != want {
		return errclass.Failf("%s: got %v, want %v", fmt.Sprintf(format, args...), got, want)
	}
	return nil
}

// InterleaveSteps advances the engine by a PRNG-drawn number of steps in
// [minSteps, maxSteps], mixing bounded, randomized step counts between
// local input injections to create realistic interleavings rather than
// always draining to quiescence between inputs.
func InterleaveSteps(e *engine.Engine, rng *prng.Stream, minSteps, maxSteps int) error {
	k := rng.IntRange(minSteps, maxSteps+1)
	_, err := e.Steps(k)
	return err
}
