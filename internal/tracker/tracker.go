// Package tracker counts consecutive qualifying offenses per address.
//
// Counts live in memory only: a restart forgets every partial count. There is
// no time-based decay; a count only goes back to zero through Reset.
// A Tracker is owned by a single goroutine and is not safe for concurrent use.
package tracker

import "net/netip"

// Tracker maps an address to its current offense count.
type Tracker struct {
	counts map[netip.Addr]int
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{counts: make(map[netip.Addr]int)}
}

// RecordOffense increments the count for addr and returns the new value.
func (t *Tracker) RecordOffense(addr netip.Addr) int {
	t.counts[addr]++
	return t.counts[addr]
}

// Reset sets the count for addr back to zero.
func (t *Tracker) Reset(addr netip.Addr) {
	delete(t.counts, addr)
}

// Rollback undoes the last RecordOffense for addr, never going below zero.
func (t *Tracker) Rollback(addr netip.Addr) {
	n := t.counts[addr]
	switch {
	case n <= 1:
		delete(t.counts, addr)
	default:
		t.counts[addr] = n - 1
	}
}

// Count returns the current count for addr (zero when unseen).
func (t *Tracker) Count(addr netip.Addr) int {
	return t.counts[addr]
}

// Len returns how many addresses currently have a non-zero count.
func (t *Tracker) Len() int {
	return len(t.counts)
}
