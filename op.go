package ioloop

import (
	"runtime"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

// Waker re-schedules the task that owns an Op for polling. Invoked by the
// Driver outside any internal borrow (spec.md §5); panics from a Waker are
// not recovered by the core.
type Waker func()

// Handlers bridges a slot's raw completion entries to an Op[T]'s
// task-visible type. Update is invoked once per non-terminal ("more")
// completion of a multi-shot op, in arrival order; Complete converts the
// terminal completion into the Op's result (spec.md §4.3, §4.7).
type Handlers[T any] struct {
	Update   func(CompletionResult)
	Complete func(CompletionResult) (T, error)
}

// Op is the task-facing handle for one in-flight request (spec.md §3's
// "Op handle"). It owns the payload referenced by the submission
// descriptor for as long as the kernel may still touch it — including
// after Close, while cancellation is pending.
type Op[T any] struct {
	driver   *Driver
	key      uint64
	payload  any
	handlers Handlers[T]
	closed   bool
}

// Submit installs payload as the owned region for desc (tagging desc with
// a fresh slot key) and pushes it to the driver's submission queue. This
// is a package-level generic function, not a method, because Go methods
// cannot introduce their own type parameters (*Driver is not generic).
func Submit[T any](d *Driver, payload any, desc kring.Descriptor, handlers Handlers[T]) (*Op[T], error) {
	key, err := d.insertAndSubmit(desc)
	if err != nil {
		return nil, err
	}
	op := &Op[T]{driver: d, key: key, payload: payload, handlers: handlers}
	runtime.SetFinalizer(op, finalizeOp[T])
	return op, nil
}

func finalizeOp[T any](o *Op[T]) {
	o.Close()
}

// Poll drives the Op's state machine one step (spec.md §4.3's "On task
// poll" rules). It returns (_, false, nil) while pending; once the
// terminal completion has been consumed it returns (value, true, err) and
// the Op must not be polled again.
func (o *Op[T]) Poll(waker Waker) (T, bool, error) {
	var zero T
	if o.closed {
		panic("ioloop: Poll called on a closed Op")
	}

	update := func(c CompletionResult) {
		if o.handlers.Update != nil {
			o.handlers.Update(c)
		}
	}

	result, ready := o.driver.poll(o.key, waker, update)
	if !ready {
		return zero, false, nil
	}

	o.closed = true
	runtime.SetFinalizer(o, nil)

	if o.handlers.Complete == nil {
		return zero, true, nil
	}
	v, err := o.handlers.Complete(result)
	return v, true, err
}

// Close cancels the outstanding request if it has not yet completed
// (spec.md §4.3's "On task drop" rules, §5's cancellation model). It is
// safe to call more than once and is registered as a finalizer safety net
// for handles a caller forgets to close explicitly — Go has no Drop, so
// an explicit Close is the primary path and the finalizer only catches
// leaks.
func (o *Op[T]) Close() {
	if o.closed {
		return
	}
	o.closed = true
	runtime.SetFinalizer(o, nil)
	o.driver.closeOp(o.key, o.payload)
}
