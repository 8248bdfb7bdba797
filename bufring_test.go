package ioloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBufferRingCheckoutAndRelease(t *testing.T) {
	ring := NewFakeRing(DefaultFakeFeatures())
	d, err := NewTestDriver(ring, DefaultConfig())
	require.NoError(t, err)
	defer d.Close()

	contents := d.TestBufferBytes(0)
	copy(contents, []byte("hello"))

	buf := d.checkoutBuffer(0, 5)
	assert.Equal(t, "hello", string(buf.Bytes()))

	buf.Release()
	assert.False(t, d.bufRing.checked[0], "buffer should not be marked checked out after Release")
}

func TestBufferRingDuplicateGroupRejected(t *testing.T) {
	ring := NewFakeRing(DefaultFakeFeatures())
	cfg := DefaultConfig()

	_, err := newProvidedBufferRing(ring, cfg.BufferGroupID, cfg.BufferRingEntries, cfg.BufferSize)
	require.NoError(t, err)

	_, err = newProvidedBufferRing(ring, cfg.BufferGroupID, cfg.BufferRingEntries, cfg.BufferSize)
	assert.Error(t, err, "registering the same group twice should fail")
}

func TestClassifyBufferRingErrorTaxonomy(t *testing.T) {
	cases := []struct {
		in   error
		kind BufferRingErrorKind
	}{
		{unix.EINVAL, BufferRingUnsupported},
		{unix.EEXIST, BufferRingDuplicateGroup},
		{unix.EACCES, BufferRingGeneric},
	}
	for _, c := range cases {
		err := classifyBufferRingError(c.in)
		bre, ok := err.(*BufferRingError)
		require.True(t, ok, "classifyBufferRingError(%v) should return *BufferRingError", c.in)
		assert.Equal(t, c.kind, bre.Kind)
	}
}
