package guarantees_test

import (
	"testing"

	"distsim/internal/engine"
	"distsim/internal/harness/guarantees"
)

func TestGenerateCorpusFiveMessagesIsFixedLiteralSet(t *testing.T) {
	e := engine.New(1)
	got := guarantees.GenerateCorpus(e.Rand(), 5)
	want := []string{"distributed", "systems", "need", "some", "guarantees"}
	if len(got) != len(want) {
		t.Fatalf("want %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestGenerateCorpusTenMessagesAreTwoDigitCTokens(t *testing.T) {
	e := engine.New(2)
	got := guarantees.GenerateCorpus(e.Rand(), 10)
	if len(got) != 10 {
		t.Fatalf("want 10 messages, got %d", len(got))
	}
	for _, s := range got {
		if len(s) < 3 || s[len(s)-1] != 'C' {
			t.Fatalf("want a %%dC token, got %q", s)
		}
	}
}

func TestReliableNetworkSatisfiesAllFourGuarantees(t *testing.T) {
	for _, g := range []guarantees.Guarantee{
		guarantees.AtMostOnce, guarantees.AtLeastOnce, guarantees.ExactlyOnce, guarantees.ExactlyOnceOrdered,
	} {
		err := guarantees.Run(42, guarantees.ReliableSenderFactory, guarantees.ReliableReceiverFactory, g, 5, false, nil)
		if err != nil {
			t.Fatalf("%s: reliable network should satisfy every guarantee, got %v", g, err)
		}
	}
}

func TestAtMostOnceRejectsDuplicateDelivery(t *testing.T) {
	// A reliable sender/receiver pair over a network with a forced
	// duplicate rate will deliver some messages twice; at-most-once must
	// reject that, but at-least-once must still pass.
	netWithDuplication := func(e *engine.Engine) {
		e.Network().SetDuplRate(1.0)
	}

	if err := guarantees.Run(7, guarantees.ReliableSenderFactory, guarantees.ReliableReceiverFactory, guarantees.AtMostOnce, 5, false, netWithDuplication); err == nil {
		t.Fatalf("at-most-once should fail when every send is duplicated")
	}
	if err := guarantees.Run(7, guarantees.ReliableSenderFactory, guarantees.ReliableReceiverFactory, guarantees.AtLeastOnce, 5, false, netWithDuplication); err != nil {
		t.Fatalf("at-least-once should tolerate duplicates, got %v", err)
	}
}
