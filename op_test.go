package ioloop

import (
	"testing"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpTestDriver(t *testing.T) (*Driver, *FakeRing) {
	t.Helper()
	ring := NewFakeRing(DefaultFakeFeatures())
	d, err := NewTestDriver(ring, DefaultConfig())
	require.NoError(t, err)
	return d, ring
}

func TestOpSingleShotCompletesOnce(t *testing.T) {
	d, ring := newOpTestDriver(t)

	op, err := Submit(d, nil, kring.Descriptor{Code: kring.OpRead}, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) {
			return c.Result()
		},
	})
	require.NoError(t, err)

	woke := false
	_, ready, _ := op.Poll(func() { woke = true })
	assert.False(t, ready, "Poll should not be ready before any completion arrived")

	// Submit only queues the descriptor; flush it as the next Wait would.
	ring.Submit()
	pending := ring.Pending()
	require.Len(t, pending, 1)
	ring.Complete(pending[0].UserData, 42, 0)

	require.NoError(t, d.Wait())
	assert.True(t, woke, "waker should fire once a completion arrives")

	v, ready, err := op.Poll(func() {})
	require.True(t, ready)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
}

func TestOpCloseBeforeCompletionSubmitsCancel(t *testing.T) {
	d, ring := newOpTestDriver(t)

	op, err := Submit(d, nil, kring.Descriptor{Code: kring.OpRead}, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) { return c.Result() },
	})
	require.NoError(t, err)

	op.Close()

	// Closing an un-completed op must submit an AsyncCancel descriptor
	// targeting the original op's slot key.
	require.NoError(t, d.Wait())
	found := false
	for _, desc := range ring.Pending() {
		if desc.Code == kring.OpAsyncCancel {
			found = true
		}
	}
	assert.True(t, found, "expected an AsyncCancel descriptor after Close")
}

func TestOpCloseIsIdempotent(t *testing.T) {
	d, _ := newOpTestDriver(t)

	op, err := Submit(d, nil, kring.Descriptor{Code: kring.OpRead}, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) { return c.Result() },
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		op.Close()
		op.Close()
	})
}

func TestOpMultishotAggregatesViaUpdate(t *testing.T) {
	d, ring := newOpTestDriver(t)

	var updates []int32
	op, err := Submit(d, nil, kring.Descriptor{Code: kring.OpAcceptMulti}, Handlers[struct{}]{
		Update: func(c CompletionResult) {
			v, _ := c.Result()
			updates = append(updates, v)
		},
		Complete: func(c CompletionResult) (struct{}, error) {
			return struct{}{}, nil
		},
	})
	require.NoError(t, err)

	// Submit only queues the descriptor; flush it as the next Wait would.
	ring.Submit()
	pending := ring.Pending()
	require.Len(t, pending, 1)
	key := pending[0].UserData

	ring.Complete(key, 10, completionFlagMore)
	ring.Complete(key, 11, completionFlagMore)
	ring.Complete(key, 0, 0) // terminal

	require.NoError(t, d.Wait())

	// First poll after a CompletionList resolves to terminal returns not
	// ready yet, per the driver's re-arm-and-wake contract; drain until
	// ready.
	var ready bool
	var err2 error
	for !ready {
		_, ready, err2 = op.Poll(func() {})
	}
	require.NoError(t, err2)
	assert.Equal(t, []int32{10, 11}, updates)
}
