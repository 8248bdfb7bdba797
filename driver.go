// Package ioloop implements a single-threaded asynchronous I/O driver atop
// a Linux completion-based kernel interface: submission and completion
// queues, provided-buffer rings, and linked timeouts. It translates
// cooperative task-level requests (accept, connect, read/write, recv/send,
// recvmsg/sendmsg, shutdown, timeout) into kernel submissions and routes
// completions back to the task that owns each request, and runs an
// in-process timer wheel for task-level deadlines and sleeps.
package ioloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"github.com/ehrlich-b/ioloop/internal/logging"
	"golang.org/x/sys/unix"
)

func logger() *logging.Logger { return logging.Default() }

// Driver owns the kernel ring, the in-flight slab, the provided-buffer
// ring, and the timer wheel, and runs one dispatch iteration per Wait call
// (spec.md §2, §3 "Ownership", §4.6).
type Driver struct {
	mu sync.Mutex

	ring     kring.Ring
	gateway  *SubmissionGateway
	slab     *inFlightSlab
	timers   *TimerWheel
	bufRing  *ProvidedBufferRing
	features kring.Features
	closed   bool
	observer Observer
}

// SetObserver installs o to receive driver lifecycle events (submit,
// complete, cancel, timer fire, buffer checkout/release). Pass nil to
// revert to NoOpObserver.
func (d *Driver) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o == nil {
		o = NoOpObserver{}
	}
	d.observer = o
}

// New constructs a Driver per cfg. Missing kernel features (provided
// buffer rings, fast-poll, multi-shot accept, linked timeout) are fatal
// here, surfaced as ErrCodeUnsupported (spec.md §6, §7).
func New(cfg Config) (*Driver, error) {
	ring, err := kring.New(cfg.RingEntries)
	if err != nil {
		return nil, NewError("driver.new", ErrCodeUnsupported, err.Error())
	}

	features := ring.Features()
	if !features.FastPoll || !features.MultishotAccept || !features.LinkedTimeout {
		ring.Close()
		return nil, NewError("driver.new", ErrCodeUnsupported, "required kernel feature missing")
	}

	bufRing, err := newProvidedBufferRing(ring, cfg.BufferGroupID, cfg.BufferRingEntries, cfg.BufferSize)
	if err != nil {
		ring.Close()
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

// Close unregisters the buffer ring and tears down the kernel ring. The
// buffer ring must be unregistered first (spec.md §6).
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.bufRing.close(); err != nil {
		return err
	}
	return d.ring.Close()
}

// Features reports the kernel capabilities this Driver's ring confirmed
// at construction.
func (d *Driver) Features() kring.Features {
	return d.features
}

var currentDriver atomic.Pointer[Driver]

// With installs d as the current driver for the duration of scope, so
// opcode adapters can locate it without threading it through every
// signature (spec.md §5, §9). Not safe for concurrent use from more than
// one goroutine at a time — this driver is single-threaded cooperative by
// design, the Go analogue of the source's scoped thread-local.
func (d *Driver) With(scope func()) {
	prev := currentDriver.Swap(d)
	defer currentDriver.Store(prev)
	scope()
}

// Current returns the driver installed by an enclosing With call, or
// ErrCodeNoDriver if called outside one (spec.md §9's invariant on the
// thread-local's scope).
func Current() (*Driver, error) {
	d := currentDriver.Load()
	if d == nil {
		return nil, NewError("current", ErrCodeNoDriver, "no driver installed for this scope")
	}
	return d, nil
}

// insertAndSubmit allocates a fresh slot, tags desc with its key, and
// pushes it to the submission queue. On submission failure the slot is
// never left behind (spec.md §7's SubmitFailed policy).
func (d *Driver) insertAndSubmit(desc kring.Descriptor) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.slab.insert(&slot{state: stateSubmitted, submittedAt: time.Now()})
	desc.UserData = key
	if err := d.gateway.push(desc); err != nil {
		d.slab.remove(key)
		return 0, err
	}
	d.observer.ObserveSubmit()
	return key, nil
}

// insertTimer registers waker to fire at when, returning an id usable
// with removeTimer (spec.md §6's Driver::insert_timer).
func (d *Driver) insertTimer(when time.Time, waker Waker) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timers.insert(when, waker)
}

// removeTimer cancels a previously inserted timer (spec.md §6's
// Driver::remove_timer). It is a no-op if the timer already fired.
func (d *Driver) removeTimer(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timers.remove(id)
}

// checkoutBuffer obtains the provided buffer the kernel selected for a
// recv-class completion.
func (d *Driver) checkoutBuffer(bufferID uint16, length uint32) *Buf {
	buf := d.bufRing.checkout(bufferID, length)
	buf.onRelease = d.observer.ObserveBufferRelease
	d.observer.ObserveBufferCheckout()
	return buf
}

// poll advances the slot at key one step per spec.md §4.3's "On task
// poll" rules, invoking update for each intermediate multi-shot entry
// consumed along the way. Returns (_, false) while pending.
func (d *Driver) poll(key uint64, waker Waker, update func(CompletionResult)) (CompletionResult, bool) {
	d.mu.Lock()

	s := d.slab.get(key)
	if s == nil {
		d.mu.Unlock()
		panic("ioloop: poll on an unknown slot")
	}

	switch s.state {
	case stateSubmitted:
		s.state = stateWaiting
		s.waker = waker
		d.mu.Unlock()
		return CompletionResult{}, false

	case stateWaiting:
		s.waker = waker
		d.mu.Unlock()
		return CompletionResult{}, false

	case stateCompleted:
		result := s.result
		latency := time.Since(s.submittedAt)
		d.slab.remove(key)
		d.mu.Unlock()
		_, resErr := result.Result()
		d.observer.ObserveComplete(uint64(latency.Nanoseconds()), resErr == nil)
		return result, true

	case stateCompletionList:
		xs := s.results
		s.results = nil

		var terminal CompletionResult
		haveTerminal := false
		consumedIntermediate := false

		for _, c := range xs {
			if c.More() {
				consumedIntermediate = true
				d.mu.Unlock()
				update(c)
				d.mu.Lock()
				// Re-check: a concurrent arrival could not have happened
				// (single-threaded driver), but s may have been removed
				// by a racing drop in principle; guard defensively.
				if d.slab.get(key) == nil {
					d.mu.Unlock()
					return CompletionResult{}, false
				}
			} else {
				terminal = c
				haveTerminal = true
			}
		}

		if haveTerminal {
			s.state = stateCompleted
			s.result = terminal
		} else {
			s.state = stateWaiting
			s.waker = waker
		}
		d.mu.Unlock()

		if consumedIntermediate || haveTerminal {
			waker()
		}
		return CompletionResult{}, false

	default: // stateIgnored
		d.mu.Unlock()
		panic("ioloop: poll on an ignored slot (handle was dropped)")
	}
}

// closeOp applies spec.md §4.3's "On task drop" rules for the Op handle
// that owned key, retaining payload in the slot when cancellation may
// still be pending so kernel-referenced buffers stay alive.
func (d *Driver) closeOp(key uint64, payload any) {
	d.mu.Lock()

	s := d.slab.get(key)
	if s == nil {
		d.mu.Unlock()
		return
	}

	switch s.state {
	case stateSubmitted, stateWaiting:
		s.state = stateIgnored
		s.payload = payload
		s.waker = nil
		d.mu.Unlock()
		d.observer.ObserveCancel()
		d.submitCancel(key)
		return

	case stateCompleted:
		d.slab.remove(key)
		d.mu.Unlock()
		return

	case stateCompletionList:
		lastMore := len(s.results) > 0 && s.results[len(s.results)-1].More()
		if lastMore {
			s.state = stateIgnored
			s.payload = payload
			d.mu.Unlock()
			d.observer.ObserveCancel()
			d.submitCancel(key)
			return
		}
		d.slab.remove(key)
		d.mu.Unlock()
		return

	default: // stateIgnored: unreachable, a closed Op cannot be closed twice
		d.mu.Unlock()
		return
	}
}

// applyCompletionLocked applies spec.md §4.3's "On completion arriving"
// rules. Caller must hold d.mu. Returns a waker to fire (outside the
// lock) if one was woken.
func (d *Driver) applyCompletionLocked(key uint64, c CompletionResult) Waker {
	s := d.slab.get(key)
	if s == nil {
		return nil
	}

	switch s.state {
	case stateSubmitted:
		if c.More() {
			s.state = stateCompletionList
			s.results = append(s.results, c)
		} else {
			s.state = stateCompleted
			s.result = c
		}
		return nil

	case stateWaiting:
		w := s.waker
		s.waker = nil
		if c.More() {
			s.state = stateCompletionList
			s.results = append(s.results, c)
		} else {
			s.state = stateCompleted
			s.result = c
		}
		return w

	case stateCompletionList:
		s.results = append(s.results, c)
		return nil

	case stateIgnored:
		if !c.More() {
			d.slab.remove(key)
		}
		return nil

	default: // stateCompleted: contract violation per spec.md §4.3
		panic("ioloop: completion arrived on an already-completed slot")
	}
}

// submitCancel issues a best-effort async-cancel for key. Its outcome
// (including the eventual ECANCELED completion) is absorbed by the
// Ignored-state rules; a failure to submit the cancel itself is logged,
// not propagated, since the caller (Close) has no error return.
func (d *Driver) submitCancel(key uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc := kring.Descriptor{
		Code:         kring.OpAsyncCancel,
		CancelTarget: key,
		UserData:     cookieCancel,
	}
	if err := d.gateway.push(desc); err != nil {
		logWarn("driver.submitCancel", key, err)
	}
}

// Wait runs one dispatch iteration: drain due timers, conditionally arm a
// kernel Timeout, submit-and-wait, route each completion to its slot, and
// fire every collected waker outside the driver's lock (spec.md §4.6).
func (d *Driver) Wait() error {
	d.mu.Lock()

	now := time.Now()
	dur, haveDeadline, fired := d.timers.process(now)
	timerFireCount := len(fired)

	if haveDeadline && dur > 0 {
		ts := unix.NsecToTimespec(dur.Nanoseconds())
		desc := kring.Descriptor{
			Code:      kring.OpTimeout,
			Timespec:  &ts,
			UserData:  cookieTimeout,
		}
		if err := d.gateway.push(desc); err != nil {
			d.mu.Unlock()
			return err
		}
	}

	want := uint32(1)
	if haveDeadline && dur == 0 {
		want = 0
	}

	_, err := d.ring.SubmitAndWait(want)
	if err != nil {
		if isTransientWaitError(err) {
			d.mu.Unlock()
			fireWakers(fired)
			return nil
		}
		d.mu.Unlock()
		return NewError("driver.wait", ErrCodeSubmitFailed, err.Error())
	}

	for _, cqe := range d.ring.PopCompletions() {
		if isReservedCookie(cqe.UserData) {
			continue
		}
		result := newCompletionResult(cqe.Res, cqe.Flags)
		if w := d.applyCompletionLocked(cqe.UserData, result); w != nil {
			fired = append(fired, w)
		}
	}

	if !(haveDeadline && dur == 0) {
		_, _, more := d.timers.process(time.Now())
		fired = append(fired, more...)
		timerFireCount += len(more)
	}

	d.mu.Unlock()
	for i := 0; i < timerFireCount; i++ {
		d.observer.ObserveTimerFire()
	}
	fireWakers(fired)
	return nil
}

func fireWakers(wakers []Waker) {
	for _, w := range wakers {
		w()
	}
}

func isTransientWaitError(err error) bool {
	errno, ok := err.(unix.Errno)
	if !ok {
		return false
	}
	return errno == unix.EBUSY || errno == unix.EINTR
}

func logWarn(op string, key uint64, err error) {
	logger().Warn("cancel submission failed", "op", op, "key", key, "err", err)
}
