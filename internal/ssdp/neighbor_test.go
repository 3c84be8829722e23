package ssdp

import (
	"testing"
	"time"
)

func TestUpsertFiresFoundOnlyOnChange(t *testing.T) {
	tbl := NewTable(time.Minute)
	var found int
	tbl.OnFound = func(Neighbor) { found++ }

	tbl.Upsert(Neighbor{USN: "dev-1", Location: "loc-1"})
	if found != 1 {
		t.Fatalf("expected found to fire once on insert, got %d", found)
	}

	tbl.Upsert(Neighbor{USN: "dev-1", Location: "loc-1"})
	if found != 1 {
		t.Fatalf("expected pure refresh to stay silent, got %d", found)
	}

	tbl.Upsert(Neighbor{USN: "dev-1-renamed", Location: "loc-1"})
	if found != 2 {
		t.Fatalf("expected field change to fire found again, got %d", found)
	}
}

func TestSweepEvictsPastTimeoutAndFiresLostOnce(t *testing.T) {
	cur := time.Now()
	tbl := NewTable(15 * time.Second)
	tbl.now = func() time.Time { return cur }

	var lost int
	tbl.OnLost = func(Neighbor) { lost++ }

	tbl.Upsert(Neighbor{USN: "dev-1", Location: "loc-1"})

	cur = cur.Add(10 * time.Second)
	tbl.Sweep()
	if tbl.Len() != 1 {
		t.Fatalf("expected neighbor to survive a sweep before timeout")
	}

	cur = cur.Add(10 * time.Second) // t0+20s, past the 15s timeout
	tbl.Sweep()
	if tbl.Len() != 0 {
		t.Fatalf("expected neighbor to be evicted past timeout")
	}
	if lost != 1 {
		t.Fatalf("expected lost to fire exactly once, got %d", lost)
	}

	tbl.Sweep()
	if lost != 1 {
		t.Fatalf("expected no duplicate lost firing on a later sweep, got %d", lost)
	}
}

func TestClearRemovesWithoutFiringLost(t *testing.T) {
	tbl := NewTable(time.Minute)
	var lost int
	tbl.OnLost = func(Neighbor) { lost++ }

	tbl.Upsert(Neighbor{USN: "dev-1", Location: "loc-1"})
	tbl.Clear()
	if tbl.Len() != 0 {
		t.Fatalf("expected table to be empty after Clear")
	}
	if lost != 0 {
		t.Fatalf("expected Clear not to fire OnLost, got %d", lost)
	}
}
