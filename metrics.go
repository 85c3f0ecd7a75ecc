package libio

import (
	"sync/atomic"
	"time"
)

// latencyBuckets defines histogram bucket upper bounds in nanoseconds,
// from 1us to 10s.
var latencyBuckets = [...]uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = len(latencyBuckets)

// Metrics aggregates counters for a single loop's lifetime: stream I/O,
// timer fires, and worker pool activity.
type Metrics struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64

	AcceptOps  atomic.Uint64
	ConnectOps atomic.Uint64

	TimerFires atomic.Uint64
	WorkerJobs atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance stamped with the current time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bound := range latencyBuckets {
		if latencyNs <= bound {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordRead records a completed (or failed) read.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a completed (or failed) write.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAccept records a completed accept.
func (m *Metrics) RecordAccept() { m.AcceptOps.Add(1) }

// RecordConnect records a completed connect.
func (m *Metrics) RecordConnect() { m.ConnectOps.Add(1) }

// RecordTimerFire increments the timer-fire counter.
func (m *Metrics) RecordTimerFire() { m.TimerFires.Add(1) }

// RecordWorkerJob increments the worker-pool job counter.
func (m *Metrics) RecordWorkerJob() { m.WorkerJobs.Add(1) }

// Stop stamps the stop time; subsequent Snapshot() calls report a fixed
// uptime.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// racing the live counters.
type MetricsSnapshot struct {
	ReadOps, WriteOps               uint64
	ReadBytes, WriteBytes           uint64
	ReadErrors, WriteErrors         uint64
	AcceptOps, ConnectOps           uint64
	TimerFires, WorkerJobs          uint64
	AvgLatencyNs                    uint64
	UptimeNs                        uint64
	LatencyHistogram                [numLatencyBuckets]uint64
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:     m.ReadOps.Load(),
		WriteOps:    m.WriteOps.Load(),
		ReadBytes:   m.ReadBytes.Load(),
		WriteBytes:  m.WriteBytes.Load(),
		ReadErrors:  m.ReadErrors.Load(),
		WriteErrors: m.WriteErrors.Load(),
		AcceptOps:   m.AcceptOps.Load(),
		ConnectOps:  m.ConnectOps.Load(),
		TimerFires:  m.TimerFires.Load(),
		WorkerJobs:  m.WorkerJobs.Load(),
	}
	if opCount := m.OpCount.Load(); opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}
	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	for i := range latencyBuckets {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Observer allows pluggable metrics collection, e.g. to forward into an
// external metrics system instead of (or in addition to) Metrics.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveAccept()
	ObserveConnect()
	ObserveTimerFire()
	ObserveWorkerJob()
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool) {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveAccept()   {}
func (NoOpObserver) ObserveConnect()  {}
func (NoOpObserver) ObserveTimerFire() {}
func (NoOpObserver) ObserveWorkerJob() {}

// MetricsObserver forwards observations into a Metrics instance.
type MetricsObserver struct{ metrics *Metrics }

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveRead(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveWrite(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveAccept()    { o.metrics.RecordAccept() }
func (o *MetricsObserver) ObserveConnect()   { o.metrics.RecordConnect() }
func (o *MetricsObserver) ObserveTimerFire() { o.metrics.RecordTimerFire() }
func (o *MetricsObserver) ObserveWorkerJob() { o.metrics.RecordWorkerJob() }

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
