package ioloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerWheelOrdersByDeadlineThenID(t *testing.T) {
	w := NewTimerWheel(1000)
	base := time.Now()

	var fired []int
	w.insert(base.Add(30*time.Millisecond), func() { fired = append(fired, 4) })
	w.insert(base.Add(20*time.Millisecond), func() { fired = append(fired, 2) })
	w.insert(base.Add(10*time.Millisecond), func() { fired = append(fired, 1) })
	// Same deadline as timer 2 but inserted later, so it has the higher id.
	w.insert(base.Add(20*time.Millisecond), func() { fired = append(fired, 3) })

	_, ok, wakers := w.process(base.Add(time.Hour))
	require.True(t, ok)
	require.Len(t, wakers, 4)
	for _, fn := range wakers {
		fn()
	}
	assert.Equal(t, []int{1, 2, 3, 4}, fired)
}

func TestTimerWheelRemoveCancelsBeforeFire(t *testing.T) {
	w := NewTimerWheel(1000)
	now := time.Now()

	fired := false
	id := w.insert(now.Add(time.Millisecond), func() { fired = true })
	w.remove(id)

	_, ok, wakers := w.process(now.Add(time.Hour))
	assert.False(t, ok && len(wakers) > 0, "removed timer should not fire")
	assert.False(t, fired)
}

func TestTimerWheelProcessEmptyWheel(t *testing.T) {
	w := NewTimerWheel(1000)
	dur, ok, wakers := w.process(time.Now())
	assert.False(t, ok)
	assert.Zero(t, dur)
	assert.Nil(t, wakers)
}

func TestTimerWheelReturnsDurationToEarliestDeadline(t *testing.T) {
	w := NewTimerWheel(1000)
	now := time.Now()
	w.insert(now.Add(50*time.Millisecond), func() {})

	dur, ok, wakers := w.process(now)
	require.True(t, ok)
	assert.Empty(t, wakers, "timer not yet due should not fire")
	assert.Greater(t, dur, time.Duration(0))
	assert.LessOrEqual(t, dur, 50*time.Millisecond)
}

func TestTimerWheelBatchDrainsAtThreshold(t *testing.T) {
	w := NewTimerWheel(2)
	now := time.Now()

	w.insert(now.Add(-time.Millisecond), func() {})
	assert.Len(t, w.batch, 1, "batch should not drain before threshold")

	w.insert(now.Add(-time.Millisecond), func() {})
	assert.Len(t, w.batch, 0, "batch should drain once threshold reached")
	assert.Len(t, w.heap, 2)
}

func TestTimerWheelZeroDurationTimerFiresImmediately(t *testing.T) {
	w := NewTimerWheel(1000)
	now := time.Now()

	fired := false
	w.insert(now, func() { fired = true })

	_, ok, wakers := w.process(now)
	require.True(t, ok)
	require.Len(t, wakers, 1)
	wakers[0]()
	assert.True(t, fired)
}
