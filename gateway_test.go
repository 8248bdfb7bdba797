package ioloop

import (
	"testing"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayPushWithinCapacity(t *testing.T) {
	ring := NewFakeRing(DefaultFakeFeatures())
	ring.SetCapacity(4)
	g := newSubmissionGateway(ring)

	for i := 0; i < 4; i++ {
		require.NoError(t, g.push(kring.Descriptor{Code: kring.OpRead, UserData: uint64(i)}))
	}
}

func TestGatewayDrainsAndRetriesWhenFull(t *testing.T) {
	ring := NewFakeRing(DefaultFakeFeatures())
	ring.SetCapacity(2)
	g := newSubmissionGateway(ring)

	require.NoError(t, g.push(kring.Descriptor{Code: kring.OpRead, UserData: 1}))
	require.NoError(t, g.push(kring.Descriptor{Code: kring.OpRead, UserData: 2}))

	// Queue is now at capacity; a third push must trigger the
	// drain-resync-push-resubmit contract rather than failing outright.
	require.NoError(t, g.push(kring.Descriptor{Code: kring.OpRead, UserData: 3}))

	assert.Len(t, ring.Pending(), 3, "all three pushes should reach the ring")
}
