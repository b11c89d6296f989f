package engine_test

import (
	"testing"

	"distsim/internal/engine"
	"distsim/internal/message"
	"distsim/internal/node"
)

// echoNode replies to every message with a "pong" sent back to the source,
// and surfaces local input as a local output unchanged.
type echoNode struct {
	id string
}

func (n *echoNode) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	return node.Emissions{
		Outbound: []node.Outbound{{Dst: src, Message: message.MustNew("pong", struct{ From string }{n.id})}},
	}, nil
}

func (n *echoNode) ReceiveTimer(name string) (node.Emissions, error) {
	return node.Emissions{LocalOutputs: []message.Envelope{message.MustNew("timer-fired", struct{ Name string }{name})}}, nil
}

func (n *echoNode) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	if m.Kind == "set-timer" {
		return node.Emissions{SetTimers: []node.TimerSet{{Name: "t", Delay: 5}}}, nil
	}
	return node.Emissions{LocalOutputs: []message.Envelope{m}}, nil
}

func echoFactory(id string, ctorArgs any, seed int64) (node.Instance, error) {
	return &echoNode{id: id}, nil
}

func TestSendLocalEchoesWithoutAdvancingTime(t *testing.T) {
	e := engine.New(1)
	if err := e.AddNode("a", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if err := e.SendLocal("a", message.MustNew("hello", struct{}{})); err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	if e.Clock().Now() != 0 {
		t.Fatalf("local injection must not advance the clock, got now=%v", e.Clock().Now())
	}

	events := e.Observability().GetLocalEvents("a")
	if len(events) != 2 {
		t.Fatalf("want 2 local events (input + echoed output), got %d", len(events))
	}
	if events[0].Kind != message.LocalInput || events[1].Kind != message.LocalOutput {
		t.Fatalf("want input then output, got %v then %v", events[0].Kind, events[1].Kind)
	}
}

func TestStepUntilNoEventsRunsZeroStepsAfterLocalOnlyInput(t *testing.T) {
	e := engine.New(2)
	if err := e.AddNode("a", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode a: %v", err)
	}
	if err := e.AddNode("b", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode b: %v", err)
	}

	if err := e.SendLocal("a", message.MustNew("trigger", struct{}{})); err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	// a's ReceiveLocal only echoes to its own log and schedules no network
	// traffic, so draining the queue must process no events at all.
	n, err := e.StepUntilNoEvents()
	if err != nil {
		t.Fatalf("StepUntilNoEvents: %v", err)
	}
	if n != 0 {
		t.Fatalf("no network events were scheduled, want 0 steps, got %d", n)
	}
}

func TestTimerFiresAfterDelayAndReplacementCancelsPriorFiring(t *testing.T) {
	e := engine.New(3)
	if err := e.AddNode("a", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := e.SendLocal("a", message.MustNew("set-timer", struct{}{})); err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	if err := e.StepForDuration(3); err != nil {
		t.Fatalf("StepForDuration: %v", err)
	}
	if got := len(e.Observability().GetLocalEvents("a")); got != 1 {
		t.Fatalf("timer must not have fired yet at t=3, local log len=%d", got)
	}

	// Re-arm under the same name; this must replace, not duplicate, the
	// pending firing.
	if err := e.SendLocal("a", message.MustNew("set-timer", struct{}{})); err != nil {
		t.Fatalf("SendLocal (rearm): %v", err)
	}
	if err := e.StepForDuration(5); err != nil {
		t.Fatalf("StepForDuration: %v", err)
	}
	events := e.Observability().GetLocalEvents("a")
	fired := 0
	for _, ev := range events {
		if ev.Message.Kind == "timer-fired" {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("want exactly 1 timer firing after replacement, got %d", fired)
	}
}

func TestCrashDropsPendingEventsAndStopsDelivery(t *testing.T) {
	e := engine.New(4)
	if err := e.AddNode("a", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := e.SendLocal("a", message.MustNew("set-timer", struct{}{})); err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	if err := e.CrashNode("a"); err != nil {
		t.Fatalf("CrashNode: %v", err)
	}
	n, err := e.StepUntilNoEvents()
	if err != nil {
		t.Fatalf("StepUntilNoEvents: %v", err)
	}
	if n != 0 {
		t.Fatalf("crash must drop the pending timer, want 0 steps processed, got %d", n)
	}
}

func TestStepUntilLocalMessageWithTimeoutFailsWithoutPanicking(t *testing.T) {
	e := engine.New(5)
	if err := e.AddNode("a", node.FactoryFunc(echoFactory), nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := e.StepUntilLocalMessageWithTimeout("a", 10); err == nil {
		t.Fatalf("want a timeout error when nothing is ever produced, got nil")
	}
}
