package ioloop

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the op-completion latency histogram buckets in
// nanoseconds, from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks driver-level operational statistics: submission/
// completion/cancellation counts, timer fires, and provided-buffer
// checkout/release traffic, plus an op-completion latency histogram.
type Metrics struct {
	OpsSubmitted atomic.Uint64
	OpsCompleted atomic.Uint64
	OpsCanceled  atomic.Uint64
	OpsFailed    atomic.Uint64

	TimerFires atomic.Uint64

	BufferCheckouts atomic.Uint64
	BufferReleases  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyHistogram[i] is the cumulative count of ops whose completion
	// latency was <= LatencyBuckets[i].
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records a successful op submission.
func (m *Metrics) RecordSubmit() {
	m.OpsSubmitted.Add(1)
}

// RecordComplete records a terminal completion and its end-to-end
// latency (submit to terminal poll).
func (m *Metrics) RecordComplete(latencyNs uint64, success bool) {
	m.OpsCompleted.Add(1)
	if !success {
		m.OpsFailed.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// RecordCancel records a drop-initiated cancellation (spec.md §4.3's
// "On task drop" rules).
func (m *Metrics) RecordCancel() {
	m.OpsCanceled.Add(1)
}

// RecordTimerFire records one timer waker fired by TimerWheel.process.
func (m *Metrics) RecordTimerFire() {
	m.TimerFires.Add(1)
}

// RecordBufferCheckout records a provided-buffer checkout.
func (m *Metrics) RecordBufferCheckout() {
	m.BufferCheckouts.Add(1)
}

// RecordBufferRelease records a provided-buffer release back to the ring.
func (m *Metrics) RecordBufferRelease() {
	m.BufferReleases.Add(1)
}

// Stop marks the driver as torn down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics with derived rates.
type MetricsSnapshot struct {
	OpsSubmitted uint64
	OpsCompleted uint64
	OpsCanceled  uint64
	OpsFailed    uint64

	TimerFires uint64

	BufferCheckouts uint64
	BufferReleases  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	OpsPerSecond float64
	ErrorRate    float64
}

// Snapshot computes a MetricsSnapshot from the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		OpsSubmitted:    m.OpsSubmitted.Load(),
		OpsCompleted:    m.OpsCompleted.Load(),
		OpsCanceled:     m.OpsCanceled.Load(),
		OpsFailed:       m.OpsFailed.Load(),
		TimerFires:      m.TimerFires.Load(),
		BufferCheckouts: m.BufferCheckouts.Load(),
		BufferReleases:  m.BufferReleases.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.OpsPerSecond = float64(snap.OpsCompleted) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.OpsCompleted > 0 {
		snap.ErrorRate = float64(snap.OpsFailed) / float64(snap.OpsCompleted) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
	}

	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0) by
// linear interpolation between histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.OpCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	var prevBucket, prevCount uint64
	for i, bucket := range LatencyBuckets {
		count := m.LatencyHistogram[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection, e.g. to bridge into an
// external monitoring system instead of the built-in Metrics.
type Observer interface {
	ObserveSubmit()
	ObserveComplete(latencyNs uint64, success bool)
	ObserveCancel()
	ObserveTimerFire()
	ObserveBufferCheckout()
	ObserveBufferRelease()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit()                        {}
func (NoOpObserver) ObserveComplete(uint64, bool)          {}
func (NoOpObserver) ObserveCancel()                        {}
func (NoOpObserver) ObserveTimerFire()                     {}
func (NoOpObserver) ObserveBufferCheckout()                {}
func (NoOpObserver) ObserveBufferRelease()                 {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit() { o.metrics.RecordSubmit() }

func (o *MetricsObserver) ObserveComplete(latencyNs uint64, success bool) {
	o.metrics.RecordComplete(latencyNs, success)
}

func (o *MetricsObserver) ObserveCancel()         { o.metrics.RecordCancel() }
func (o *MetricsObserver) ObserveTimerFire()      { o.metrics.RecordTimerFire() }
func (o *MetricsObserver) ObserveBufferCheckout() { o.metrics.RecordBufferCheckout() }
func (o *MetricsObserver) ObserveBufferRelease()  { o.metrics.RecordBufferRelease() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
