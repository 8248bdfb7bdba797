package ioloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabInsertGet(t *testing.T) {
	s := newInFlightSlab()
	k := s.insert(&slot{state: stateSubmitted})

	got := s.get(k)
	require.NotNil(t, got)
	assert.Equal(t, stateSubmitted, got.state)
}

func TestSlabKeysUniqueWhileOccupied(t *testing.T) {
	s := newInFlightSlab()
	var keys []uint64
	for i := 0; i < 10; i++ {
		keys = append(keys, s.insert(&slot{state: stateSubmitted}))
	}
	seen := make(map[uint64]bool)
	for _, k := range keys {
		require.False(t, seen[k], "duplicate key %d among concurrently occupied slots", k)
		seen[k] = true
	}
}

func TestSlabRemoveThenReuse(t *testing.T) {
	s := newInFlightSlab()
	k1 := s.insert(&slot{state: stateSubmitted})
	s.remove(k1)
	assert.Nil(t, s.get(k1))

	k2 := s.insert(&slot{state: stateCompleted})
	require.Equal(t, k1, k2, "expected freed key to be reused")

	got := s.get(k2)
	require.NotNil(t, got)
	assert.Equal(t, stateCompleted, got.state)
}

func TestSlabLen(t *testing.T) {
	s := newInFlightSlab()
	assert.Equal(t, 0, s.len())
	k1 := s.insert(&slot{})
	s.insert(&slot{})
	assert.Equal(t, 2, s.len())
	s.remove(k1)
	assert.Equal(t, 1, s.len())
}

func TestReservedCookieFilter(t *testing.T) {
	cases := []struct {
		key  uint64
		want bool
	}{
		{0, false},
		{1000, false},
		{cookieTimeout, true},
		{cookieCancel, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isReservedCookie(c.key), "isReservedCookie(%d)", c.key)
	}
}
