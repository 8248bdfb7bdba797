package ioloop

import "time"

// Reserved cookie sentinels (spec.md §6): the dispatch loop filters any
// user-data cookie at or above cookieTimeout with a single >= comparison,
// so both sentinels live at the very top of the uint64 space.
const (
	cookieTimeout uint64 = ^uint64(0) - 1 // MAX-1: the driver's standalone Timeout submission
	cookieCancel  uint64 = ^uint64(0)     // MAX: async-cancel submissions issued on Op drop
)

// isReservedCookie reports whether key names an internal bookkeeping
// submission rather than a real in-flight slot.
func isReservedCookie(key uint64) bool {
	return key >= cookieTimeout
}

// opState is the variant tag for slot (spec.md §3).
type opState int

const (
	stateSubmitted opState = iota
	stateWaiting
	stateCompleted
	stateCompletionList
	stateIgnored
)

// slot is one in-flight request's state. Only the fields relevant to the
// current state variant are meaningful; see the transitions in driver.go's
// poll, closeOp and applyCompletionLocked for which fields apply where.
type slot struct {
	state opState

	waker Waker // Waiting

	result CompletionResult // Completed

	results []CompletionResult // CompletionList

	payload any // Ignored: retains ownership of kernel-referenced buffers

	submittedAt time.Time // for Metrics' completion-latency histogram
}

// inFlightSlab is the dense, integer-keyed container backing the driver's
// outstanding requests (spec.md §4.2). Growth never reuses a key still
// occupied; freed keys are recycled only after explicit removal.
type inFlightSlab struct {
	slots []*slot
	free  []uint64
}

func newInFlightSlab() *inFlightSlab {
	return &inFlightSlab{}
}

// insert places st into the slab and returns its key. The key is always
// below cookieTimeout, the reserved-sentinel threshold.
func (s *inFlightSlab) insert(st *slot) uint64 {
	if n := len(s.free); n > 0 {
		key := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[key] = st
		return key
	}
	key := uint64(len(s.slots))
	s.slots = append(s.slots, st)
	return key
}

// get returns the slot for key, or nil if key is not currently occupied
// (already removed, or never valid).
func (s *inFlightSlab) get(key uint64) *slot {
	if key >= uint64(len(s.slots)) {
		return nil
	}
	return s.slots[key]
}

// remove frees key for reuse by a later insert.
func (s *inFlightSlab) remove(key uint64) {
	if key >= uint64(len(s.slots)) || s.slots[key] == nil {
		return
	}
	s.slots[key] = nil
	s.free = append(s.free, key)
}

// len reports the number of currently occupied slots.
func (s *inFlightSlab) len() int {
	return len(s.slots) - len(s.free)
}
