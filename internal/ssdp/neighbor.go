package ssdp

import (
	"sync"
	"time"
)

// Neighbor is one discovered peer, keyed by Location (spec.md §3 SsdpNeighbor).
type Neighbor struct {
	USN          string
	Location     string
	SmID         string
	DevType      string
	UpdateTimeMs int64
}

// sameFields reports whether a and b carry the same observable identity,
// ignoring UpdateTimeMs — used to tell a pure refresh from a real change.
func (a Neighbor) sameFields(b Neighbor) bool {
	return a.USN == b.USN && a.SmID == b.SmID && a.DevType == b.DevType
}

// Table is the SSDP worker's single-owner neighbor list: upsert on
// NOTIFY/RESPONSE, evict on timeout (spec.md §4.3, §8 scenario 5).
type Table struct {
	mu      sync.Mutex
	byLoc   map[string]Neighbor
	timeout time.Duration
	now     func() time.Time
	OnFound func(Neighbor)
	OnLost  func(Neighbor)
}

// NewTable builds an empty table with the given eviction timeout.
func NewTable(timeout time.Duration) *Table {
	return &Table{byLoc: make(map[string]Neighbor), timeout: timeout, now: time.Now}
}

// Upsert inserts or refreshes a neighbor. OnFound fires only on first
// insert or a change to USN/SmID/DevType — a pure timestamp refresh is
// silent (spec.md §4.3: "do not notify callers on pure refresh").
func (t *Table) Upsert(n Neighbor) Neighbor {
	t.mu.Lock()
	existing, had := t.byLoc[n.Location]
	changed := !had || !existing.sameFields(n)
	n.UpdateTimeMs = t.now().UnixMilli()
	t.byLoc[n.Location] = n
	t.mu.Unlock()

	if changed && t.OnFound != nil {
		t.OnFound(n)
	}
	return n
}

// Sweep evicts neighbors whose last update is older than the table's
// timeout, firing OnLost once per eviction.
func (t *Table) Sweep() {
	cutoff := t.now().UnixMilli() - t.timeout.Milliseconds()

	t.mu.Lock()
	var lost []Neighbor
	for loc, n := range t.byLoc {
		if n.UpdateTimeMs < cutoff {
			lost = append(lost, n)
			delete(t.byLoc, loc)
		}
	}
	t.mu.Unlock()

	for _, n := range lost {
		if t.OnLost != nil {
			t.OnLost(n)
		}
	}
}

// Clear removes every neighbor without firing OnLost — used when the
// socket is torn down for an interface change (spec.md §4.3).
func (t *Table) Clear() {
	t.mu.Lock()
	t.byLoc = make(map[string]Neighbor)
	t.mu.Unlock()
}

// Len reports the current neighbor count.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byLoc)
}
