package tgtbs

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRead(1024, 1000000, true)  // 1KB read, 1ms latency, success
	m.RecordWrite(2048, 2000000, true) // 2KB write, 2ms latency, success
	m.RecordRead(512, 500000, false)   // 512B read, 0.5ms latency, error
	m.RecordUnmap(4096, 10000, true)
	m.RecordSync(300000, false)

	snap = m.Snapshot()

	if snap.ReadOps != 2 {
		t.Errorf("Expected 2 read ops, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}
	if snap.UnmapOps != 1 || snap.SyncOps != 1 {
		t.Errorf("Expected 1 unmap and 1 sync, got %d and %d", snap.UnmapOps, snap.SyncOps)
	}

	// Only successful commands count bytes
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", snap.ReadBytes)
	}
	if snap.TotalBytes != 1024+2048+4096 {
		t.Errorf("Expected %d total bytes, got %d", 1024+2048+4096, snap.TotalBytes)
	}

	if snap.ReadErrors != 1 || snap.SyncErrors != 1 {
		t.Errorf("Expected 1 read error and 1 sync error, got %d and %d", snap.ReadErrors, snap.SyncErrors)
	}

	expectedErrorRate := float64(2) / float64(5) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}
	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsBatches(t *testing.T) {
	m := NewMetrics()

	m.RecordBatch(1)
	m.RecordBatch(7)
	m.RecordBatch(4)

	snap := m.Snapshot()
	if snap.Batches != 3 {
		t.Errorf("Expected 3 batches, got %d", snap.Batches)
	}
	if snap.MaxBatchSize != 7 {
		t.Errorf("Expected max batch 7, got %d", snap.MaxBatchSize)
	}
	if snap.AvgBatchSize != 4 {
		t.Errorf("Expected avg batch 4, got %.2f", snap.AvgBatchSize)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(1024, 1000000, true)  // 1ms
	m.RecordWrite(1024, 2000000, true) // 2ms

	snap := m.Snapshot()
	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}

	m.RecordCompletion(5000000)
	snap = m.Snapshot()
	if snap.Completions != 1 || snap.AvgCompletionNs != 5000000 {
		t.Errorf("Expected one 5ms completion, got %d avg %d", snap.Completions, snap.AvgCompletionNs)
	}
	// Completion samples do not leak into the execution histogram
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Execution latency changed after completion sample: %d", snap.AvgLatencyNs)
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	// 90 fast reads, 10 slow ones
	for i := 0; i < 90; i++ {
		m.RecordRead(512, 5_000, true)
	}
	for i := 0; i < 10; i++ {
		m.RecordRead(512, 50_000_000, true)
	}

	snap := m.Snapshot()
	if snap.LatencyP50Ns > 10_000 {
		t.Errorf("Expected p50 within the 10us bucket, got %d", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns <= 10_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected p99 within the 100ms bucket, got %d", snap.LatencyP99Ns)
	}
	if snap.LatencyHistogram[numLatencyBuckets-1] != 100 {
		t.Errorf("Expected last cumulative bucket to hold all 100 samples, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 { // Allow 2ms tolerance
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 1000000, true)
	m.RecordBatch(3)
	m.RecordCompletion(100)
	m.RecordQueueDepth(9)

	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 || snap.Batches != 0 || snap.Completions != 0 || snap.MaxQueueDepth != 0 {
		t.Errorf("Expected zeroed metrics after Reset, got %+v", snap)
	}
	if snap.LatencyP50Ns != 0 {
		t.Errorf("Expected no latency after Reset, got %d", snap.LatencyP50Ns)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	var obs Observer = NewMetricsObserver(m)

	obs.ObserveRead(4096, 1000, true)
	obs.ObserveWrite(4096, 1000, false)
	obs.ObserveUnmap(8192, 1000, true)
	obs.ObserveSync(1000, true)
	obs.ObserveQueueDepth(3)
	obs.ObserveBatch(2)
	obs.ObserveCompletion(2000)

	snap := m.Snapshot()
	if snap.TotalOps != 4 {
		t.Errorf("Expected 4 ops, got %d", snap.TotalOps)
	}
	if snap.WriteErrors != 1 {
		t.Errorf("Expected 1 write error, got %d", snap.WriteErrors)
	}
	if snap.MaxQueueDepth != 3 || snap.Batches != 1 || snap.Completions != 1 {
		t.Errorf("Observer did not forward pool events: %+v", snap)
	}
}

func TestMultiObserver(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	obs := multiObserver{NewMetricsObserver(a), NoOpObserver{}, NewMetricsObserver(b)}

	obs.ObserveRead(512, 10, true)
	obs.ObserveCompletion(20)

	for i, m := range []*Metrics{a, b} {
		snap := m.Snapshot()
		if snap.ReadOps != 1 || snap.Completions != 1 {
			t.Errorf("observer %d missed events: %+v", i, snap)
		}
	}
}
