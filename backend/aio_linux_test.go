package backend

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

func openTestAIO(t *testing.T, size int64, workers int) *AIO {
	t.Helper()
	a, err := OpenAIO(tempImage(t, size), 0, false, workers, AIOOptions{RingEntries: 8, Fallback: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAIOReadWrite(t *testing.T) {
	a := openTestAIO(t, 64<<10, 2)

	data := bytes.Repeat([]byte{0x42}, 8192)
	n, err := a.WriteAt(data, 4096)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = a.ReadAt(got, 4096)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	require.NoError(t, a.Flush())
	require.NoError(t, a.Discard(4096, 4096))
	_, err = a.ReadAt(got[:4096], 4096)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4096), got[:4096])

	stats := a.Stats()
	assert.Equal(t, "aio", stats["type"])
	assert.Equal(t, 2, stats["rings"])
	assert.Contains(t, []string{"io_uring", "sync"}, stats["ring"])
}

func TestAIOConcurrentRequests(t *testing.T) {
	const workers = 4
	a := openTestAIO(t, 1<<20, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers*2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			off := int64(w) * 65536
			data := bytes.Repeat([]byte{byte(w)}, 4096)
			if _, err := a.WriteAt(data, off); err != nil {
				t.Error(err)
				return
			}
			got := make([]byte, 4096)
			if _, err := a.ReadAt(got, off); err != nil {
				t.Error(err)
				return
			}
			if !bytes.Equal(got, data) {
				t.Errorf("worker %d read back wrong data", w)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, workers, len(a.rings), "every ring is returned")
}

func TestAIOTemplate(t *testing.T) {
	tmpl := AIOTemplate(AIOOptions{Fallback: true})
	assert.Equal(t, "aio", tmpl.Name())

	_, err := tmpl.Open(interfaces.OpenParams{})
	assert.ErrorIs(t, err, errNoPath)

	store, err := tmpl.Open(interfaces.OpenParams{Path: tempImage(t, 4096), Workers: 1})
	require.NoError(t, err)
	defer store.Close()

	buf := make([]byte, 512)
	cmd := interfaces.NewCommand(1, interfaces.OpRead, 0, buf, nil)
	store.Request(cmd)
	assert.True(t, cmd.Result().OK(), "%v", cmd.Result().Err)
}

func TestAIOReadOnly(t *testing.T) {
	a, err := OpenAIO(tempImage(t, 4096), 0, true, 1, AIOOptions{Fallback: true})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, errReadOnlyFS)
}
