package ioloop

import (
	"errors"
	"sync"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

var errFakeDuplicateGroup = errors.New("fake ring: buffer group already registered")

// FakeRing implements kring.Ring entirely in Go memory, letting tests
// drive Driver, Op, and TimerWheel without a real kernel ring. Test code
// injects completions with Complete and inspects what was submitted with
// Pending; Push/Submit/SubmitAndWait/PopCompletions behave like a real
// ring but never make a syscall.
type FakeRing struct {
	mu sync.Mutex

	features kring.Features
	capacity int // 0 means unlimited

	queued      []kring.Descriptor // pushed but not yet "submitted"
	pending     []kring.Descriptor // submitted, awaiting a completion
	completions []kring.CQE

	bufRings map[uint16]bool

	transientErr error // next SubmitAndWait error to return, then cleared
	closed       bool
}

// NewFakeRing constructs a FakeRing reporting the given features. Use
// DefaultFakeFeatures for a ring that satisfies every requirement
// Driver.New checks for.
func NewFakeRing(features kring.Features) *FakeRing {
	return &FakeRing{
		features: features,
		bufRings: make(map[uint16]bool),
	}
}

// DefaultFakeFeatures reports every feature spec.md §6 requires as
// present.
func DefaultFakeFeatures() kring.Features {
	return kring.Features{
		FastPoll:        true,
		MultishotAccept: true,
		LinkedTimeout:   true,
		ProvidedBuffers: true,
	}
}

// SetCapacity bounds the submission queue so tests can exercise
// SubmissionGateway's full-queue retry path (spec.md §4.1). 0 (the
// default) means unlimited.
func (r *FakeRing) SetCapacity(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacity = n
}

// SetNextWaitError makes the next SubmitAndWait call return err instead
// of succeeding, then clears itself. Used to exercise EBUSY/EINTR
// absorption (spec.md §7, §8 property 8).
func (r *FakeRing) SetNextWaitError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transientErr = err
}

// Complete enqueues a synthetic completion as though the kernel produced
// it, visible to the next PopCompletions call.
func (r *FakeRing) Complete(userData uint64, res int32, flags uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, kring.CQE{UserData: userData, Res: res, Flags: flags})
}

// Pending returns a snapshot of descriptors that have been flushed
// (Submit/SubmitAndWait called) but not yet completed, so a test can
// inspect what a submission actually asked for (e.g. the FD of a pending
// Accept) before deciding how to complete it.
func (r *FakeRing) Pending() []kring.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]kring.Descriptor, len(r.pending))
	copy(out, r.pending)
	return out
}

func (r *FakeRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *FakeRing) Features() kring.Features { return r.features }

func (r *FakeRing) SQSpaceLeft() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity == 0 {
		return 1 << 20
	}
	return uint32(r.capacity - len(r.queued))
}

func (r *FakeRing) Push(d kring.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity != 0 && len(r.queued) >= r.capacity {
		return kring.ErrQueueFull
	}
	r.queued = append(r.queued, d)
	return nil
}

func (r *FakeRing) Submit() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queued)
	r.pending = append(r.pending, r.queued...)
	r.queued = r.queued[:0]
	return uint32(n), nil
}

func (r *FakeRing) SubmitAndWait(waitNr uint32) (uint32, error) {
	r.mu.Lock()
	if r.transientErr != nil {
		err := r.transientErr
		r.transientErr = nil
		r.mu.Unlock()
		return 0, err
	}
	n := len(r.queued)
	r.pending = append(r.pending, r.queued...)
	r.queued = r.queued[:0]
	r.mu.Unlock()
	return uint32(n), nil
}

func (r *FakeRing) PopCompletions() []kring.CQE {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.completions
	r.completions = nil
	return out
}

func (r *FakeRing) RegisterBufferRing(groupID uint16, entries uint16, bufLen uint32, bufBase uintptr, ringMem []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bufRings[groupID] {
		return errFakeDuplicateGroup
	}
	r.bufRings[groupID] = true
	return nil
}

func (r *FakeRing) UnregisterBufferRing(groupID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bufRings, groupID)
	return nil
}

func (r *FakeRing) SeedBuffer(groupID uint16, bufferID uint16, addr uintptr, bufLen uint32) {
	// No-op: the backing storage is already reachable through the real
	// ProvidedBufferRing's mmap'd region; tests write into it directly
	// via Driver.TestBufferBytes.
}

var _ kring.Ring = (*FakeRing)(nil)

// NewTestDriver builds a Driver atop ring instead of a real kernel ring,
// following the same construction and feature-check steps as New. Tests
// use this to exercise Driver/Op/TimerWheel behavior without a kernel.
func NewTestDriver(ring *FakeRing, cfg Config) (*Driver, error) {
	features := ring.Features()
	if !features.FastPoll || !features.MultishotAccept || !features.LinkedTimeout {
		return nil, NewError("driver.new", ErrCodeUnsupported, "required kernel feature missing")
	}

	bufRing, err := newProvidedBufferRing(ring, cfg.BufferGroupID, cfg.BufferRingEntries, cfg.BufferSize)
	if err != nil {
		return nil, NewError("driver.new", ErrCodeUnsupported, err.Error())
	}

	return &Driver{
		ring:     ring,
		gateway:  newSubmissionGateway(ring),
		slab:     newInFlightSlab(),
		timers:   NewTimerWheel(cfg.TimerBatchThreshold),
		bufRing:  bufRing,
		features: features,
		observer: NoOpObserver{},
	}, nil
}

// TestBufferBytes exposes the provided-buffer ring's backing storage for
// bufferID, letting a test populate it before completing a Recv op with
// that buffer id.
func (d *Driver) TestBufferBytes(bufferID uint16) []byte {
	d.bufRing.mu.Lock()
	defer d.bufRing.mu.Unlock()
	start := int(bufferID) * int(d.bufRing.bufLen)
	return d.bufRing.storage[start : start+int(d.bufRing.bufLen)]
}
