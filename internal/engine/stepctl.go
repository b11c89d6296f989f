package engine

import (
	"fmt"

	"distsim/internal/check"
)

// Steps runs up to n single steps, stopping early if the queue empties.
// count is the number of events actually processed.
func (e *Engine) Steps(n int) (count int, err error) {
	check.Assert(e != nil, "engine.Engine.Steps: receiver must not be nil")
	for i := 0; i < n; i++ {
		ran, err := e.Step()
		if err != nil {
			return count, err
		}
		if !ran {
			return count, nil
		}
		count++
	}
	return count, nil
}

// StepForDuration advances simulated time by d, processing every event due
// at or before now()+d and then moving the clock to exactly now()+d even if
// no event fires that late. Time otherwise advances only on an event pop;
// this is the one explicit fast-forward exception.
func (e *Engine) StepForDuration(d float64) error {
	check.Assert(e != nil, "engine.Engine.StepForDuration: receiver must not be nil")
	check.Assertf(d >= 0, "engine.Engine.StepForDuration: d must be >= 0, got %v", d)
	target := e.clock.Now() + d
	for {
		at, ok := e.queue.PeekDeliverAt()
		if !ok || at > target {
			break
		}
		if _, err := e.Step(); err != nil {
			return err
		}
	}
	e.clock.Advance(target)
	return nil
}

// StepUntilNoEvents drains the queue completely, returning the number of
// events processed. A scenario with a self-sustaining timer (one that always
// rearms itself) never returns; callers that cannot rule that out should use
// StepUntilLocalMessageMaxSteps instead.
func (e *Engine) StepUntilNoEvents() (count int, err error) {
	check.Assert(e != nil, "engine.Engine.StepUntilNoEvents: receiver must not be nil")
	for {
		ran, err := e.Step()
		if err != nil {
			return count, err
		}
		if !ran {
			return count, nil
		}
		count++
	}
}

// localLen reports how many entries are currently in id's observability log,
// used as a growth baseline by the StepUntilLocalMessage family.
func (e *Engine) localLen(id string) int {
	return len(e.obs.GetLocalEvents(id))
}

// StepUntilLocalMessage steps until id's local-output log grows beyond its
// length at call time, or the queue drains without that happening (in which
// case found is false).
func (e *Engine) StepUntilLocalMessage(id string) (found bool, err error) {
	check.Assert(e != nil, "engine.Engine.StepUntilLocalMessage: receiver must not be nil")
	baseline := e.localLen(id)
	for {
		if e.localLen(id) > baseline {
			return true, nil
		}
		ran, err := e.Step()
		if err != nil {
			return false, err
		}
		if !ran {
			return e.localLen(id) > baseline, nil
		}
	}
}

// StepUntilLocalMessageWithTimeout is StepUntilLocalMessage bounded by
// simulated time: it returns a non-nil error, not a panic, if no growth is
// observed before simulated time now()+timeout is reached.
func (e *Engine) StepUntilLocalMessageWithTimeout(id string, timeout float64) error {
	check.Assert(e != nil, "engine.Engine.StepUntilLocalMessageWithTimeout: receiver must not be nil")
	check.Assertf(timeout >= 0, "engine.Engine.StepUntilLocalMessageWithTimeout: timeout must be >= 0, got %v", timeout)
	baseline := e.localLen(id)
	deadline := e.clock.Now() + timeout
	for {
		if e.localLen(id) > baseline {
			return nil
		}
		at, ok := e.queue.PeekDeliverAt()
		if !ok || at > deadline {
			e.clock.Advance(deadline)
			return fmt.Errorf("engine: no local output from %q before simulated time %v", id, deadline)
		}
		if _, err := e.Step(); err != nil {
			return err
		}
	}
}

// StepUntilLocalMessageMaxSteps is StepUntilLocalMessage bounded by a step
// count cap, with the same failure-not-panic semantics as the timeout
// variant.
func (e *Engine) StepUntilLocalMessageMaxSteps(id string, maxSteps int) error {
	check.Assert(e != nil, "engine.Engine.StepUntilLocalMessageMaxSteps: receiver must not be nil")
	baseline := e.localLen(id)
	for i := 0; i < maxSteps; i++ {
		if e.localLen(id) > baseline {
			return nil
		}
		ran, err := e.Step()
		if err != nil {
			return err
		}
		if !ran {
			break
		}
	}
	if e.localLen(id) > baseline {
		return nil
	}
	return fmt.Errorf("engine: no local output from %q within %d steps", id, maxSteps)
}
