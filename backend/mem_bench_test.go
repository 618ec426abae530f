package backend

import (
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

// BenchmarkMemoryBackend measures the raw performance of the mem template's backend
func BenchmarkMemoryBackend(b *testing.B) {
	sizes := []int{
		4 * 1024,    // 4KB
		128 * 1024,  // 128KB
		1024 * 1024, // 1MB
	}

	for _, size := range sizes {
		b.Run(formatSize(size), func(b *testing.B) {
			backend := NewMemory(64 << 20) // 64MB backend
			data := make([]byte, size)
			rand.Read(data) // Random data to avoid compression optimizations

			b.Run("ReadAt", func(b *testing.B) {
				buf := make([]byte, size)
				b.SetBytes(int64(size))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					offset := int64(rand.Intn(64<<20 - size))
					backend.ReadAt(buf, offset)
				}
			})

			b.Run("WriteAt", func(b *testing.B) {
				b.SetBytes(int64(size))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					offset := int64(rand.Intn(64<<20 - size))
					backend.WriteAt(data, offset)
				}
			})

			b.Run("ReadAt_Sequential", func(b *testing.B) {
				buf := make([]byte, size)
				b.SetBytes(int64(size))
				b.ResetTimer()

				offset := int64(0)
				for i := 0; i < b.N; i++ {
					backend.ReadAt(buf, offset)
					offset += int64(size)
					if offset+int64(size) > backend.Size() {
						offset = 0
					}
				}
			})

			b.Run("WriteAt_Sequential", func(b *testing.B) {
				b.SetBytes(int64(size))
				b.ResetTimer()

				offset := int64(0)
				for i := 0; i < b.N; i++ {
					backend.WriteAt(data, offset)
					offset += int64(size)
					if offset+int64(size) > backend.Size() {
						offset = 0
					}
				}
			})
		})
	}
}

// BenchmarkMemoryBackendConcurrent measures concurrent access performance
func BenchmarkMemoryBackendConcurrent(b *testing.B) {
	backend := NewMemory(64 << 20) // 64MB backend
	blockSize := 4096              // 4KB blocks

	concurrencies := []int{1, 4, 8, 16, 32}

	for _, concurrency := range concurrencies {
		b.Run(fmt.Sprintf("Concurrency_%d", concurrency), func(b *testing.B) {
			b.SetBytes(int64(blockSize))

			b.RunParallel(func(pb *testing.PB) {
				buf := make([]byte, blockSize)
				data := make([]byte, blockSize)
				rand.Read(data)

				for pb.Next() {
					offset := int64(rand.Intn(64<<20 - blockSize))

					// Mix of reads and writes (70% read, 30% write)
					if rand.Float32() < 0.7 {
						backend.ReadAt(buf, offset)
					} else {
						backend.WriteAt(data, offset)
					}
				}
			})
		})
	}
}

// BenchmarkMemoryBackendLatency measures operation latency distribution
func BenchmarkMemoryBackendLatency(b *testing.B) {
	backend := NewMemory(64 << 20) // 64MB backend
	blockSize := 4096
	buf := make([]byte, blockSize)
	data := make([]byte, blockSize)
	rand.Read(data)

	b.Run("ReadLatency", func(b *testing.B) {
		latencies := make([]time.Duration, 0, b.N)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			offset := int64(rand.Intn(64<<20 - blockSize))

			start := time.Now()
			backend.ReadAt(buf, offset)
			latencies = append(latencies, time.Since(start))
		}

		b.StopTimer()
		// Report percentiles
		reportLatencyPercentiles(b, latencies)
	})

	b.Run("WriteLatency", func(b *testing.B) {
		latencies := make([]time.Duration, 0, b.N)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			offset := int64(rand.Intn(64<<20 - blockSize))

			start := time.Now()
			backend.WriteAt(data, offset)
			latencies = append(latencies, time.Since(start))
		}

		b.StopTimer()
		reportLatencyPercentiles(b, latencies)
	})
}

// BenchmarkMemoryStriping compares workers confined to their own stripe
// with workers contending for one stripe
func BenchmarkMemoryStriping(b *testing.B) {
	const blockSize = 4096
	backend := NewMemory(64 << 20)
	data := make([]byte, blockSize)

	for _, spread := range []bool{false, true} {
		name := "SameStripe"
		if spread {
			name = "OwnStripe"
		}
		b.Run(name, func(b *testing.B) {
			var next atomic.Int64
			b.SetBytes(blockSize)
			b.RunParallel(func(pb *testing.PB) {
				off := int64(0)
				if spread {
					off = next.Add(memStripe) % (64 << 20)
				}
				for pb.Next() {
					backend.WriteAt(data, off)
				}
			})
		})
	}
}

func formatSize(bytes int) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%dMB", bytes/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%dKB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func reportLatencyPercentiles(b *testing.B, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p50 := latencies[len(latencies)*50/100]
	p90 := latencies[len(latencies)*90/100]
	p99 := latencies[len(latencies)*99/100]

	b.Logf("Latency percentiles: p50=%v, p90=%v, p99=%v", p50, p90, p99)
}
