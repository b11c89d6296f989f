// Package errclass classifies every error the simulator or its test
// harnesses can raise into three classes: a harness assertion failure, a
// step-budget timeout (treated as an assertion failure of the enclosing
// predicate), or a fatal engine error raised only when a node
// implementation returns malformed emissions.
//
// Built on github.com/containerd/errdefs for error classification, the
// same "sentinel classification via errors.Is" shape errdefs uses for
// NotFound/InvalidArgument/FailedPrecondition, applied to the simulator's
// three classes instead.
package errclass

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// sentinel classes. Each concrete error wraps one of these so callers can
// classify with errors.Is without depending on the wrapped errdefs kind.
var (
	// AssertionFailure marks a violated test property.
	AssertionFailure = errors.New("harness assertion failure")
	// Timeout marks a step_until_* primitive exhausting its budget; callers
	// treat it exactly like AssertionFailure (IsAssertionFailure matches
	// both); it is a separate sentinel so errors.Is can still tell the two
	// apart.
	Timeout = errors.New("step budget exhausted")
	// FatalEngine marks a malformed-emission error that aborts the whole run
	// rather than just the current scenario.
	FatalEngine = errors.New("fatal engine error")
)

// Failf builds an AssertionFailure-classified error, also wrapped as
// errdefs.FailedPrecondition so a caller that only knows the errdefs
// vocabulary (e.g. a CLI exit-code mapper shared with the rest of the
// corpus) still classifies it correctly via errdefs.IsFailedPrecondition.
func Failf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", AssertionFailure, errdefs.FailedPrecondition(fmt.Errorf(format, args...)))
}

// Timeoutf builds a Timeout-classified error.
func Timeoutf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", Timeout, fmt.Errorf(format, args...))
}

// Fatalf builds a FatalEngine-classified error, also wrapped as
// errdefs.InvalidArgument since a malformed emission is, from the engine's
// point of view, invalid input from the node implementation.
func Fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", FatalEngine, errdefs.InvalidArgument(fmt.Errorf(format, args...)))
}

// IsAssertionFailure reports whether err is an assertion failure or a
// timeout (timeouts are treated as assertion failures of the enclosing
// predicate).
func IsAssertionFailure(err error) bool {
	return errors.Is(err, AssertionFailure) || errors.Is(err, Timeout)
}

// IsFatal reports whether err should abort the entire test run rather than
// just fail the current scenario.
func IsFatal(err error) bool {
	return errors.Is(err, FatalEngine)
}
