package ioloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmit()
	m.RecordSubmit()
	m.RecordComplete(5_000, true)
	m.RecordComplete(2_000_000, false)
	m.RecordCancel()
	m.RecordTimerFire()
	m.RecordBufferCheckout()
	m.RecordBufferRelease()

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.OpsSubmitted)
	assert.EqualValues(t, 2, snap.OpsCompleted)
	assert.EqualValues(t, 1, snap.OpsFailed)
	assert.EqualValues(t, 1, snap.OpsCanceled)
	assert.EqualValues(t, 1, snap.TimerFires)
	assert.Equal(t, 50.0, snap.ErrorRate)
}

func TestMetricsObserverBridgesToMetrics(t *testing.T) {
	m := NewMetrics()
	var observer Observer = NewMetricsObserver(m)

	observer.ObserveSubmit()
	observer.ObserveComplete(1000, true)
	observer.ObserveCancel()

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.OpsSubmitted)
	assert.EqualValues(t, 1, snap.OpsCompleted)
	assert.EqualValues(t, 1, snap.OpsCanceled)
}

func TestNoOpObserverDiscardsEverything(t *testing.T) {
	var observer Observer = NoOpObserver{}
	assert.NotPanics(t, func() {
		observer.ObserveSubmit()
		observer.ObserveComplete(0, false)
		observer.ObserveCancel()
		observer.ObserveTimerFire()
		observer.ObserveBufferCheckout()
		observer.ObserveBufferRelease()
	})
}
