package wal

import "testing"

func TestAppendAssignsMonotonicIndexPerShard(t *testing.T) {
	l := New(nil)

	e1, err := l.Append(0, 100, "orders")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if e1.Index != 1 {
		t.Fatalf("expected first index 1, got %d", e1.Index)
	}

	e2, _ := l.Append(0, 101, "orders")
	if e2.Index != 2 {
		t.Fatalf("expected second index 2, got %d", e2.Index)
	}

	// A different shard has its own independent index sequence.
	e3, _ := l.Append(1, 200, "events")
	if e3.Index != 1 {
		t.Fatalf("expected shard 1's first index to be 1, got %d", e3.Index)
	}
}

func TestEntriesFiltersFromIndex(t *testing.T) {
	l := New(nil)
	for i := 0; i < 5; i++ {
		l.Append(0, uint64(i), "orders")
	}

	entries, err := l.Entries(0, 3)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries from index 3, got %d", len(entries))
	}
	if entries[0].Index != 3 {
		t.Fatalf("expected first returned entry to be index 3, got %d", entries[0].Index)
	}
}

func TestAdvanceCursorOnlyMovesForward(t *testing.T) {
	l := New(nil)
	l.AdvanceCursor(0, "node-b", 5)
	l.AdvanceCursor(0, "node-b", 3) // stale, should be ignored
	if got := l.Cursor(0, "node-b"); got != 5 {
		t.Fatalf("expected cursor to stay at 5, got %d", got)
	}
	l.AdvanceCursor(0, "node-b", 8)
	if got := l.Cursor(0, "node-b"); got != 8 {
		t.Fatalf("expected cursor to advance to 8, got %d", got)
	}
}

func TestLagReflectsUnappliedEntries(t *testing.T) {
	l := New(nil)
	for i := 0; i < 4; i++ {
		l.Append(0, uint64(i), "orders")
	}
	l.AdvanceCursor(0, "node-b", 2)
	if lag := l.Lag(0, "node-b"); lag != 2 {
		t.Fatalf("expected lag of 2, got %d", lag)
	}
}

func TestLagZeroWhenCaughtUp(t *testing.T) {
	l := New(nil)
	l.Append(0, 1, "orders")
	l.AdvanceCursor(0, "node-b", 1)
	if lag := l.Lag(0, "node-b"); lag != 0 {
		t.Fatalf("expected lag 0 when caught up, got %d", lag)
	}
}
