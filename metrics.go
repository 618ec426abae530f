package tgtbs

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
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

// histogram is a cumulative latency histogram over LatencyBuckets.
type histogram struct {
	totalNs atomic.Uint64
	count   atomic.Uint64
	// buckets[i] counts samples with latency <= LatencyBuckets[i]
	buckets [numLatencyBuckets]atomic.Uint64
}

func (h *histogram) record(latencyNs uint64) {
	h.totalNs.Add(latencyNs)
	h.count.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			h.buckets[i].Add(1)
		}
	}
}

func (h *histogram) avg() uint64 {
	n := h.count.Load()
	if n == 0 {
		return 0
	}
	return h.totalNs.Load() / n
}

// percentile estimates the latency at p (0.0-1.0) by linear interpolation
// between buckets.
func (h *histogram) percentile(p float64) uint64 {
	total := h.count.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := h.buckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = h.buckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

func (h *histogram) snapshot() (out [numLatencyBuckets]uint64) {
	for i := range out {
		out[i] = h.buckets[i].Load()
	}
	return out
}

func (h *histogram) reset() {
	h.totalNs.Store(0)
	h.count.Store(0)
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
}

// Metrics tracks backing-store statistics for one device
type Metrics struct {
	// Command counters
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	UnmapOps atomic.Uint64
	SyncOps  atomic.Uint64

	// Byte counters, successful commands only
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64
	UnmapBytes atomic.Uint64

	// Error counters
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	UnmapErrors atomic.Uint64
	SyncErrors  atomic.Uint64

	// Pending queue depth sampled at each submission
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Relay batches handed to the reactor
	Batches      atomic.Uint64
	BatchedCmds  atomic.Uint64
	MaxBatchSize atomic.Uint32
	Completions  atomic.Uint64

	// Backend execution time and submit-to-completion time
	execution  histogram
	completion histogram

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records an executed read
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.execution.record(latencyNs)
}

// RecordWrite records an executed write
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.execution.record(latencyNs)
}

// RecordUnmap records an executed unmap
func (m *Metrics) RecordUnmap(bytes uint64, latencyNs uint64, success bool) {
	m.UnmapOps.Add(1)
	if success {
		m.UnmapBytes.Add(bytes)
	} else {
		m.UnmapErrors.Add(1)
	}
	m.execution.record(latencyNs)
}

// RecordSync records an executed cache sync
func (m *Metrics) RecordSync(latencyNs uint64, success bool) {
	m.SyncOps.Add(1)
	if !success {
		m.SyncErrors.Add(1)
	}
	m.execution.record(latencyNs)
}

// RecordQueueDepth records the pending depth seen by a submission
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	storeMax32(&m.MaxQueueDepth, depth)
}

// RecordBatch records one relay batch
func (m *Metrics) RecordBatch(size uint32) {
	m.Batches.Add(1)
	m.BatchedCmds.Add(uint64(size))
	storeMax32(&m.MaxBatchSize, size)
}

// RecordCompletion records submit-to-completion latency of a delivered command
func (m *Metrics) RecordCompletion(latencyNs uint64) {
	m.Completions.Add(1)
	m.completion.record(latencyNs)
}

func storeMax32(v *atomic.Uint32, n uint32) {
	for {
		current := v.Load()
		if n <= current || v.CompareAndSwap(current, n) {
			return
		}
	}
}

// Stop marks the device as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64
	UnmapOps uint64
	SyncOps  uint64

	ReadBytes  uint64
	WriteBytes uint64
	UnmapBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	UnmapErrors uint64
	SyncErrors  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	Batches      uint64
	AvgBatchSize float64
	MaxBatchSize uint32
	Completions  uint64

	// Backend execution latency
	AvgLatencyNs     uint64
	LatencyP50Ns     uint64
	LatencyP99Ns     uint64
	LatencyP999Ns    uint64
	LatencyHistogram [numLatencyBuckets]uint64

	// Submit-to-completion latency, including queueing and relay
	AvgCompletionNs uint64
	CompletionP50Ns uint64
	CompletionP99Ns uint64

	UptimeNs uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64 // Bytes per second
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64 // Percentage of failed commands
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:       m.ReadOps.Load(),
		WriteOps:      m.WriteOps.Load(),
		UnmapOps:      m.UnmapOps.Load(),
		SyncOps:       m.SyncOps.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WriteBytes:    m.WriteBytes.Load(),
		UnmapBytes:    m.UnmapBytes.Load(),
		ReadErrors:    m.ReadErrors.Load(),
		WriteErrors:   m.WriteErrors.Load(),
		UnmapErrors:   m.UnmapErrors.Load(),
		SyncErrors:    m.SyncErrors.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
		Batches:       m.Batches.Load(),
		MaxBatchSize:  m.MaxBatchSize.Load(),
		Completions:   m.Completions.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.UnmapOps + snap.SyncOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes + snap.UnmapBytes

	if n := m.QueueDepthCount.Load(); n > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(n)
	}
	if snap.Batches > 0 {
		snap.AvgBatchSize = float64(m.BatchedCmds.Load()) / float64(snap.Batches)
	}

	snap.AvgLatencyNs = m.execution.avg()
	snap.LatencyP50Ns = m.execution.percentile(0.50)
	snap.LatencyP99Ns = m.execution.percentile(0.99)
	snap.LatencyP999Ns = m.execution.percentile(0.999)
	snap.LatencyHistogram = m.execution.snapshot()

	snap.AvgCompletionNs = m.completion.avg()
	snap.CompletionP50Ns = m.completion.percentile(0.50)
	snap.CompletionP99Ns = m.completion.percentile(0.99)

	startTime := m.StartTime.Load()
	if stopTime := m.StopTime.Load(); stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.UnmapErrors + snap.SyncErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	return snap
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ReadOps, &m.WriteOps, &m.UnmapOps, &m.SyncOps,
		&m.ReadBytes, &m.WriteBytes, &m.UnmapBytes,
		&m.ReadErrors, &m.WriteErrors, &m.UnmapErrors, &m.SyncErrors,
		&m.QueueDepthTotal, &m.QueueDepthCount,
		&m.Batches, &m.BatchedCmds, &m.Completions,
	} {
		c.Store(0)
	}
	m.MaxQueueDepth.Store(0)
	m.MaxBatchSize.Store(0)
	m.execution.reset()
	m.completion.reset()
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection. The pool calls it from
// worker, relay and reactor goroutines.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver = interfaces.NoOpObserver

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveUnmap(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordUnmap(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveSync(latencyNs uint64, success bool) {
	o.metrics.RecordSync(latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

func (o *MetricsObserver) ObserveBatch(size uint32) {
	o.metrics.RecordBatch(size)
}

func (o *MetricsObserver) ObserveCompletion(latencyNs uint64) {
	o.metrics.RecordCompletion(latencyNs)
}

// multiObserver fans events out to several observers.
type multiObserver []Observer

func (m multiObserver) ObserveRead(b, l uint64, ok bool) {
	for _, o := range m {
		o.ObserveRead(b, l, ok)
	}
}

func (m multiObserver) ObserveWrite(b, l uint64, ok bool) {
	for _, o := range m {
		o.ObserveWrite(b, l, ok)
	}
}

func (m multiObserver) ObserveUnmap(b, l uint64, ok bool) {
	for _, o := range m {
		o.ObserveUnmap(b, l, ok)
	}
}

func (m multiObserver) ObserveSync(l uint64, ok bool) {
	for _, o := range m {
		o.ObserveSync(l, ok)
	}
}

func (m multiObserver) ObserveQueueDepth(d uint32) {
	for _, o := range m {
		o.ObserveQueueDepth(d)
	}
}

func (m multiObserver) ObserveBatch(n uint32) {
	for _, o := range m {
		o.ObserveBatch(n)
	}
}

func (m multiObserver) ObserveCompletion(l uint64) {
	for _, o := range m {
		o.ObserveCompletion(l)
	}
}

// Compile-time interface checks
var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = multiObserver(nil)
)
