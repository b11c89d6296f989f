package tracedb

import (
	"path/filepath"
	"testing"

	"distsim/internal/message"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndReplayEvents(t *testing.T) {
	db := openTestDB(t)

	events := []message.LocalEvent{
		{Kind: message.LocalInput, Time: 0, Message: message.Envelope{Kind: "SEND", Payload: `{"text":"a"}`}},
		{Kind: message.LocalOutput, Time: 1.5, Message: message.Envelope{Kind: "SEND", Payload: `{"text":"a"}`}},
	}
	if err := db.RecordRun("run-1", "broadcast", "TestThreeNodes", 7, nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := db.RecordEvents("run-1", "n0", events); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}

	got, err := db.ReplayEvents("run-1", "n0")
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("ReplayEvents returned %d events, want %d", len(got), len(events))
	}
	for i, ev := range got {
		if ev.Kind != events[i].Kind || ev.Time != events[i].Time || !ev.Message.Equal(events[i].Message) {
			t.Errorf("event %d = %+v, want %+v", i, ev, events[i])
		}
	}
}

func TestRecordEventsReplacesPriorRowsForSameNode(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordRun("run-1", "sharding", "TestRebalance", 1, nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	first := []message.LocalEvent{{Kind: message.LocalInput, Time: 0, Message: message.Envelope{Kind: "GET"}}}
	if err := db.RecordEvents("run-1", "n0", first); err != nil {
		t.Fatalf("RecordEvents (first): %v", err)
	}
	second := []message.LocalEvent{
		{Kind: message.LocalInput, Time: 0, Message: message.Envelope{Kind: "PUT"}},
		{Kind: message.LocalOutput, Time: 1, Message: message.Envelope{Kind: "PUT_RESP"}},
	}
	if err := db.RecordEvents("run-1", "n0", second); err != nil {
		t.Fatalf("RecordEvents (second): %v", err)
	}

	got, err := db.ReplayEvents("run-1", "n0")
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(got) != 2 || got[0].Message.Kind != "PUT" || got[1].Message.Kind != "PUT_RESP" {
		t.Fatalf("ReplayEvents after re-record = %+v, want [PUT PUT_RESP]", got)
	}
}

func TestRecordRunUpsertPreservesPassedWhenNil(t *testing.T) {
	db := openTestDB(t)
	passed := true
	if err := db.RecordRun("run-2", "guarantees", "TestAMO", 3, &passed); err != nil {
		t.Fatalf("RecordRun (with passed): %v", err)
	}
	if err := db.RecordRun("run-2", "guarantees", "TestAMO", 3, nil); err != nil {
		t.Fatalf("RecordRun (nil passed): %v", err)
	}
	var got int
	if err := db.db.QueryRow(`SELECT passed FROM runs WHERE run_id = ?`, "run-2").Scan(&got); err != nil {
		t.Fatalf("read passed: %v", err)
	}
	if got != 1 {
		t.Fatalf("passed after nil upsert = %d, want 1", got)
	}
}

func TestReplayEventsUnknownRunReturnsEmpty(t *testing.T) {
	db := openTestDB(t)
	got, err := db.ReplayEvents("missing-run", "n0")
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ReplayEvents for missing run = %v, want empty", got)
	}
}
