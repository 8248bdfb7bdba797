package ioloop

import (
	"testing"
	"time"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDriverNewRejectsMissingFeatures(t *testing.T) {
	ring := NewFakeRing(kring.Features{})
	_, err := NewTestDriver(ring, DefaultConfig())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeUnsupported))
}

func TestDriverRoutesCompletionToCorrectSlot(t *testing.T) {
	d, ring := newOpTestDriver(t)

	opA, err := Submit(d, nil, kring.Descriptor{Code: kring.OpRead}, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) { return c.Result() },
	})
	require.NoError(t, err)
	opB, err := Submit(d, nil, kring.Descriptor{Code: kring.OpRead}, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) { return c.Result() },
	})
	require.NoError(t, err)

	opA.Poll(func() {})
	opB.Poll(func() {})

	// Submit only queues the descriptors; flush them as the next Wait would.
	ring.Submit()
	pending := ring.Pending()
	require.Len(t, pending, 2)

	// Complete B first, then A, to confirm routing isn't positional.
	ring.Complete(pending[1].UserData, 222, 0)
	ring.Complete(pending[0].UserData, 111, 0)

	require.NoError(t, d.Wait())

	vA, readyA, errA := opA.Poll(func() {})
	vB, readyB, errB := opB.Poll(func() {})

	require.True(t, readyA)
	require.NoError(t, errA)
	assert.Equal(t, int32(111), vA)

	require.True(t, readyB)
	require.NoError(t, errB)
	assert.Equal(t, int32(222), vB)
}

func TestDriverWaitAbsorbsTransientWaitErrors(t *testing.T) {
	d, ring := newOpTestDriver(t)

	ring.SetNextWaitError(unix.EINTR)
	assert.NoError(t, d.Wait(), "Wait should absorb EINTR")

	ring.SetNextWaitError(unix.EBUSY)
	assert.NoError(t, d.Wait(), "Wait should absorb EBUSY")
}

func TestDriverWaitPropagatesHardSubmitError(t *testing.T) {
	d, ring := newOpTestDriver(t)
	ring.SetNextWaitError(unix.EINVAL)

	err := d.Wait()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSubmitFailed))
}

func TestDriverWaitFiresDueTimerWithoutIOCompletion(t *testing.T) {
	d, _ := newOpTestDriver(t)

	fired := false
	d.insertTimer(time.Now().Add(-time.Millisecond), func() { fired = true })

	require.NoError(t, d.Wait())
	assert.True(t, fired, "already-due timer should fire during Wait")
}

func TestDriverWaitArmsKernelTimeoutForFutureDeadline(t *testing.T) {
	d, ring := newOpTestDriver(t)

	d.insertTimer(time.Now().Add(time.Hour), func() {})
	require.NoError(t, d.Wait())

	found := false
	for _, desc := range ring.Pending() {
		if desc.Code == kring.OpTimeout && desc.UserData == cookieTimeout {
			found = true
		}
	}
	assert.True(t, found, "Wait should arm a kernel Timeout for a future-only deadline")
}

func TestDriverReservedCookiesNeverRouteToSlots(t *testing.T) {
	d, ring := newOpTestDriver(t)

	// A completion tagged with a reserved cookie must be filtered before
	// slot lookup, never causing a panic even though no slot owns it.
	ring.Complete(cookieTimeout, 0, 0)
	ring.Complete(cookieCancel, -int32(unix.ECANCELED), 0)

	assert.NoError(t, d.Wait())
}

func TestDriverCloseUnregistersBufferRingBeforeRingClose(t *testing.T) {
	ring := NewFakeRing(DefaultFakeFeatures())
	d, err := NewTestDriver(ring, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.Empty(t, ring.bufRings, "buffer ring group should be unregistered after Close")

	// Close must be idempotent.
	assert.NoError(t, d.Close())
}

func TestDriverCurrentRequiresWithScope(t *testing.T) {
	_, err := Current()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNoDriver))

	d, _ := newOpTestDriver(t)
	var inner *Driver
	d.With(func() {
		inner, _ = Current()
	})
	assert.Same(t, d, inner, "Current() inside With should return the installed driver")

	_, err = Current()
	assert.Error(t, err, "Current() should fail again after the With scope exits")
}
