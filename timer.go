package ioloop

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled waker, ordered by (deadline, id) so equal
// deadlines break ties FIFO on monotonic id (spec.md §3).
type timerEntry struct {
	deadline time.Time
	id       uint64
	waker    Waker
	index    int // position in the heap, maintained by heap.Interface
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type timerOpKind int

const (
	timerOpInsert timerOpKind = iota
	timerOpRemove
)

// timerOp is a queued batch intent (spec.md's "Timer op log"): applying
// inserts and removes lazily amortizes the O(log N) heap cost when a
// bursty workload schedules many short-lived timers between wait cycles.
type timerOp struct {
	kind  timerOpKind
	entry *timerEntry // timerOpInsert
	id    uint64      // timerOpRemove
}

// TimerWheel is the ordered (deadline, monotonic id) -> waker set driving
// timer-backed sleeps and deadlines (spec.md §4.5).
type TimerWheel struct {
	heap      timerHeap
	byID      map[uint64]*timerEntry
	batch     []timerOp
	threshold int
	nextID    uint64
}

// NewTimerWheel constructs a TimerWheel that eagerly drains its op log once
// threshold queued intents accumulate.
func NewTimerWheel(threshold int) *TimerWheel {
	return &TimerWheel{
		byID:      make(map[uint64]*timerEntry),
		threshold: threshold,
	}
}

// insert assigns the next monotonic id, enqueues an Insert intent, and
// returns the id. Wrap-around collisions on nextID are acceptable: an
// evicted waker is always re-inserted under a fresh id on its next
// schedule (spec.md §4.5).
func (w *TimerWheel) insert(when time.Time, waker Waker) uint64 {
	id := w.nextID
	w.nextID++
	w.batch = append(w.batch, timerOp{
		kind:  timerOpInsert,
		entry: &timerEntry{deadline: when, id: id, waker: waker},
	})
	if len(w.batch) >= w.threshold {
		w.drain()
	}
	return id
}

// remove enqueues a Remove intent for id. Removal only needs the id
// because ids are unique for the lifetime of an entry.
func (w *TimerWheel) remove(id uint64) {
	w.batch = append(w.batch, timerOp{kind: timerOpRemove, id: id})
	if len(w.batch) >= w.threshold {
		w.drain()
	}
}

func (w *TimerWheel) drain() {
	for _, op := range w.batch {
		switch op.kind {
		case timerOpInsert:
			heap.Push(&w.heap, op.entry)
			w.byID[op.entry.id] = op.entry
		case timerOpRemove:
			if e, ok := w.byID[op.id]; ok && e.index >= 0 {
				heap.Remove(&w.heap, e.index)
				delete(w.byID, op.id)
			}
		}
	}
	w.batch = w.batch[:0]
}

// process first drains the batch, then collects every waker whose
// deadline is not after now, removing them from the wheel. It reports
// (0, true) if anything was ready, (dur, true) with the time until the
// earliest remaining deadline if the wheel is non-empty, or (0, false) if
// the wheel is empty (spec.md §4.5).
func (w *TimerWheel) process(now time.Time) (time.Duration, bool, []Waker) {
	w.drain()

	var fired []Waker
	for len(w.heap) > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*timerEntry)
		delete(w.byID, e.id)
		fired = append(fired, e.waker)
	}

	if len(fired) > 0 {
		return 0, true, fired
	}
	if len(w.heap) > 0 {
		return w.heap[0].deadline.Sub(now), true, fired
	}
	return 0, false, fired
}
