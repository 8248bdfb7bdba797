package ioloop

import (
	"fmt"
	"syscall"
	"time"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"golang.org/x/sys/unix"
)

// TimeoutOutcome is the Timeout adapter's three-way result (spec.md
// §4.7), distinct from the generic per-op IoError/Canceled mapping
// because a standalone Timeout's own expiry is its success case, not a
// failure.
type TimeoutOutcome int

const (
	// TimeoutElapsed means the requested duration passed (raw ETIME).
	TimeoutElapsed TimeoutOutcome = iota
	// TimeoutCanceled means the timeout was canceled before firing (raw
	// ECANCELED).
	TimeoutCanceled
	// TimeoutLink means the timeout resolved with result 0 because it was
	// linked to a sibling op that completed first (spec.md §5's "linked
	// timeout").
	TimeoutLink
)

// timeoutPayload owns the kernel timespec for the duration of the
// request.
type timeoutPayload struct {
	ts *unix.Timespec
}

// Timeout submits a standalone kernel Timeout that resolves after d, or
// when linked is true, submits it as a LinkTimeout, which the kernel ties
// to the SQE pushed just before it when that SQE carries Descriptor.Linked
// (spec.md §5, §9: the linking mechanism itself belongs to the surrounding
// task layer, not the core).
func Timeout(d time.Duration, linked bool) (*Op[TimeoutOutcome], error) {
	driver, err := Current()
	if err != nil {
		return nil, err
	}

	ts := unix.NsecToTimespec(d.Nanoseconds())
	p := &timeoutPayload{ts: &ts}

	code := kring.OpTimeout
	if linked {
		code = kring.OpLinkTimeout
	}

	desc := kring.Descriptor{
		Code:     code,
		Timespec: p.ts,
	}

	return Submit(driver, p, desc, Handlers[TimeoutOutcome]{
		Complete: func(c CompletionResult) (TimeoutOutcome, error) {
			res, err := c.Result()
			if err == nil {
				if res == 0 {
					return TimeoutLink, nil
				}
				return 0, NewError("timeout", ErrCodeIOError, fmt.Sprintf("unexpected timeout result: %d", res))
			}
			errno, ok := err.(syscall.Errno)
			if !ok {
				return 0, NewError("timeout", ErrCodeIOError, err.Error())
			}
			switch errno {
			case syscall.ETIME:
				return TimeoutElapsed, nil
			case syscall.ECANCELED:
				return TimeoutCanceled, nil
			default:
				return 0, NewError("timeout", ErrCodeIOError, fmt.Sprintf("unexpected timeout errno: %v", errno))
			}
		},
	})
}
