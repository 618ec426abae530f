package buffer

import (
	"testing"
)

func TestGet_SizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize int
		expectCap   int
	}{
		{"4KB bucket - sector", 512, 4 * 1024},
		{"4KB bucket - exact", 4 * 1024, 4 * 1024},
		{"64KB bucket - smaller", 8 * 1024, 64 * 1024},
		{"64KB bucket - exact", 64 * 1024, 64 * 1024},
		{"256KB bucket - smaller", 128 * 1024, 256 * 1024},
		{"1MB bucket - smaller", 800 * 1024, 1024 * 1024},
		{"1MB bucket - exact", 1024 * 1024, 1024 * 1024},
		{"unpooled", 2 * 1024 * 1024, 2 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.requestSize)
			if len(buf) != tt.requestSize {
				t.Errorf("Get(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("Get(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			Put(buf)
		})
	}
}

func TestGet_Zero(t *testing.T) {
	buf := Get(0)
	if len(buf) != 0 {
		t.Errorf("Get(0) returned len=%d", len(buf))
	}
	Put(buf)
}

func TestPut_NonStandardCap(t *testing.T) {
	buf := make([]byte, 100*1024)
	// Should not panic
	Put(buf)
}

func BenchmarkGet_4KB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Put(Get(4 * 1024))
	}
}

func BenchmarkGet_1MB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Put(Get(1024 * 1024))
	}
}

func BenchmarkMake_4KB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = make([]byte, 4*1024)
	}
}
