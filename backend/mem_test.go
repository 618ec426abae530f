package backend

import (
	"bytes"
	"sync"
	"testing"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

func TestNewMemory(t *testing.T) {
	size := int64(1024)
	mem := NewMemory(size)

	if mem.Size() != size {
		t.Errorf("Size() = %d, want %d", mem.Size(), size)
	}
	if len(mem.data) != int(size) {
		t.Errorf("data length = %d, want %d", len(mem.data), size)
	}
	if len(mem.locks) != 1 {
		t.Errorf("stripes = %d, want 1", len(mem.locks))
	}
	if n := len(NewMemory(3*memStripe + 1).locks); n != 4 {
		t.Errorf("stripes = %d, want 4", n)
	}
}

func TestMemoryReadWrite(t *testing.T) {
	mem := NewMemory(1024)
	defer mem.Close()

	testData := []byte("Hello, tgtbs!")
	n, err := mem.WriteAt(testData, 0)
	if err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("WriteAt wrote %d bytes, want %d", n, len(testData))
	}

	readBuf := make([]byte, len(testData))
	n, err = mem.ReadAt(readBuf, 0)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("ReadAt read %d bytes, want %d", n, len(testData))
	}
	if string(readBuf) != string(testData) {
		t.Errorf("ReadAt got %q, want %q", readBuf, testData)
	}
}

func TestMemoryAcrossStripes(t *testing.T) {
	mem := NewMemory(4 * memStripe)
	defer mem.Close()

	data := bytes.Repeat([]byte{0x5a}, memStripe+512)
	off := int64(memStripe - 256)
	if _, err := mem.WriteAt(data, off); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got := make([]byte, len(data))
	if _, err := mem.ReadAt(got, off); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("data written across stripes did not read back")
	}
}

func TestMemoryBoundaryConditions(t *testing.T) {
	mem := NewMemory(100)
	defer mem.Close()

	// Read straddling the end returns what exists
	buf := make([]byte, 50)
	n, err := mem.ReadAt(buf, 80)
	if err != nil {
		t.Errorf("ReadAt at boundary failed: %v", err)
	}
	if n != 20 {
		t.Errorf("ReadAt at boundary read %d bytes, want 20", n)
	}

	// A write that does not fit is short and reports it
	n, err = mem.WriteAt([]byte("test"), 98)
	if err == nil {
		t.Error("short WriteAt should fail")
	}
	if n != 2 {
		t.Errorf("short WriteAt wrote %d bytes, want 2", n)
	}

	if _, err = mem.WriteAt([]byte("test"), 101); err == nil {
		t.Error("WriteAt beyond end should fail")
	}
	if _, err = mem.ReadAt(buf, -1); err == nil {
		t.Error("ReadAt at negative offset should fail")
	}
}

func TestMemoryDiscard(t *testing.T) {
	mem := NewMemory(100)
	defer mem.Close()

	testData := []byte("Hello, World!")
	mem.WriteAt(testData, 0)

	if err := mem.Discard(0, 5); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	readBuf := make([]byte, len(testData))
	mem.ReadAt(readBuf, 0)

	for i := 0; i < 5; i++ {
		if readBuf[i] != 0 {
			t.Errorf("Byte %d not zeroed after discard: %d", i, readBuf[i])
		}
	}
	if string(readBuf[5:]) != string(testData[5:]) {
		t.Errorf("Non-discarded data changed: got %q, want %q", readBuf[5:], testData[5:])
	}

	// Past the end is a no-op
	if err := mem.Discard(200, 10); err != nil {
		t.Errorf("Discard past end failed: %v", err)
	}
}

func TestMemoryClosed(t *testing.T) {
	mem := NewMemory(100)
	mem.Close()

	if _, err := mem.ReadAt(make([]byte, 4), 0); err == nil {
		t.Error("ReadAt after Close should fail")
	}
	if _, err := mem.WriteAt(make([]byte, 4), 0); err == nil {
		t.Error("WriteAt after Close should fail")
	}
}

func TestMemoryConcurrentWorkers(t *testing.T) {
	mem := NewMemory(8 * memStripe)
	defer mem.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(w + 1)}, 4096)
			off := int64(w) * memStripe
			for i := 0; i < 100; i++ {
				if _, err := mem.WriteAt(data, off); err != nil {
					t.Error(err)
					return
				}
				got := make([]byte, 4096)
				mem.ReadAt(got, off)
				if !bytes.Equal(got, data) {
					t.Errorf("worker %d saw foreign data", w)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestMemoryTemplate(t *testing.T) {
	tmpl := MemoryTemplate()
	if tmpl.Name() != "mem" {
		t.Errorf("Name() = %q, want mem", tmpl.Name())
	}

	store, err := tmpl.Open(interfaces.OpenParams{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if store.Size() != 64<<20 {
		t.Errorf("default Size() = %d", store.Size())
	}

	cmd := interfaces.NewCommand(1, interfaces.OpWrite, 512, []byte("abc"), nil)
	store.Request(cmd)
	if !cmd.Result().OK() {
		t.Fatalf("write result = %+v", cmd.Result())
	}

	buf := make([]byte, 3)
	cmd = interfaces.NewCommand(2, interfaces.OpRead, 512, buf, nil)
	store.Request(cmd)
	if !cmd.Result().OK() || string(buf) != "abc" {
		t.Errorf("read result = %+v, data %q", cmd.Result(), buf)
	}
}

func TestMemoryStats(t *testing.T) {
	mem := NewMemory(1024)
	defer mem.Close()

	stats := mem.Stats()

	if stats["type"] != "memory" {
		t.Errorf("Stats type = %v, want 'memory'", stats["type"])
	}
	if stats["size"] != int64(1024) {
		t.Errorf("Stats size = %v, want 1024", stats["size"])
	}
	if stats["allocated"] != 1024 {
		t.Errorf("Stats allocated = %v, want 1024", stats["allocated"])
	}
}
