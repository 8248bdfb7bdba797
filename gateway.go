package ioloop

import "github.com/ehrlich-b/ioloop/internal/kring"

// SubmissionGateway serializes pushes to the kernel submission queue,
// transparently flushing and retrying when it is full (spec.md §4.1).
// It holds no lock of its own: every call is made with the Driver's mutex
// already held by the caller.
type SubmissionGateway struct {
	ring kring.Ring
}

func newSubmissionGateway(ring kring.Ring) *SubmissionGateway {
	return &SubmissionGateway{ring: ring}
}

// push writes desc into the ring. If the submission queue is full, it
// issues a kernel submit to drain and resynchronize the queue indices,
// pushes again, then submits once more so the retried entry is actually
// flushed rather than left pending for the next wait cycle.
func (g *SubmissionGateway) push(desc kring.Descriptor) error {
	if err := g.ring.Push(desc); err != nil {
		if err != kring.ErrQueueFull {
			return NewError("gateway.push", ErrCodeSubmitFailed, err.Error())
		}
		if _, err := g.ring.Submit(); err != nil {
			return NewError("gateway.push", ErrCodeSubmitFailed, err.Error())
		}
		if err := g.ring.Push(desc); err != nil {
			return NewError("gateway.push", ErrCodeSubmitFailed, err.Error())
		}
		if _, err := g.ring.Submit(); err != nil {
			return NewError("gateway.push", ErrCodeSubmitFailed, err.Error())
		}
	}
	return nil
}
