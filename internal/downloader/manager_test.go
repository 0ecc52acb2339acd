package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-archiver/internal/models"
	"github.com/blockedby/tg-archiver/internal/storage"
)

type fakeFetcher struct {
	mu       sync.Mutex
	data     map[int][]byte
	failures map[int]int
	errs     map[int]error
	calls    map[int]int
	order    []int

	block     chan struct{}
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data:     make(map[int][]byte),
		failures: make(map[int]int),
		errs:     make(map[int]error),
		calls:    make(map[int]int),
	}
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, msg models.Message, progress func(downloaded, total int64) error) ([]byte, error) {
	f.mu.Lock()
	f.calls[msg.ID]++
	f.order = append(f.order, msg.ID)
	data := f.data[msg.ID]
	permanent := f.errs[msg.ID]
	fail := f.failures[msg.ID] > 0
	if fail {
		f.failures[msg.ID]--
	}
	f.mu.Unlock()

	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.block != nil {
		for done := false; !done; {
			select {
			case <-f.block:
				done = true
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Millisecond):
				if err := progress(1, int64(len(data))); err != nil {
					return nil, err
				}
			}
		}
	}

	if permanent != nil {
		return nil, permanent
	}
	if fail {
		return nil, errors.New("transient failure")
	}
	if err := progress(int64(len(data)), int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *fakeFetcher) callsFor(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) callOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.order...)
}

func docMessage(id int, size int64) models.Message {
	return models.Message{ID: id, Media: models.Document{ID: int64(id), Size: size}}
}

func newTask(id int, data []byte) *Task {
	return NewTask(docMessage(id, int64(len(data))), 0, fmt.Sprintf("%d.bin", id),
		fmt.Sprintf("/dl/documents/%d.bin", id), fmt.Sprintf("documents/%d.bin", id))
}

func startManager(t *testing.T, f Fetcher, fs storage.FileSystem, cfg Config) *Manager {
	t.Helper()
	m := NewManager(f, fs, cfg, nil)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestManager_DownloadsSmallFile(t *testing.T) {
	fs := storage.NewMemFs()
	f := newFakeFetcher()
	f.data[1] = []byte("hello")

	m := startManager(t, f, fs, DefaultConfig())
	task := newTask(1, f.data[1])
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	<-task.Done()
	assert.Equal(t, StatusCompleted, task.Status())
	assert.NoError(t, task.Err())
	assert.False(t, task.AlreadyExists())
	assert.Nil(t, task.Chunks())

	data, err := fs.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stats := m.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, int64(5), stats.Bytes)
}

func TestManager_SkipsExistingFile(t *testing.T) {
	fs := storage.NewMemFs()
	f := newFakeFetcher()
	f.data[1] = []byte("new")
	require.NoError(t, fs.WriteBinaryFile("/dl/documents/1.bin", []byte("old")))

	m := startManager(t, f, fs, DefaultConfig())
	task := newTask(1, f.data[1])
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	assert.Equal(t, StatusCompleted, task.Status())
	assert.True(t, task.AlreadyExists())
	assert.Equal(t, 0, f.callsFor(1))
	assert.Equal(t, 1, m.Stats().AlreadyExists)

	data, err := fs.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestManager_RetriesThenSucceeds(t *testing.T) {
	f := newFakeFetcher()
	f.data[1] = []byte("ok")
	f.failures[1] = 2

	m := startManager(t, f, storage.NewMemFs(), DefaultConfig())
	task := newTask(1, f.data[1])
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	assert.Equal(t, StatusCompleted, task.Status())
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, 3, f.callsFor(1))
}

func TestManager_FailsAfterMaxRetries(t *testing.T) {
	f := newFakeFetcher()
	f.data[1] = []byte("never")
	f.failures[1] = 100

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	m := startManager(t, f, storage.NewMemFs(), cfg)
	task := newTask(1, f.data[1])
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	assert.Equal(t, StatusFailed, task.Status())
	assert.Error(t, task.Err())
	assert.Equal(t, 3, f.callsFor(1))
	assert.Equal(t, 1, m.Stats().Failed)
}

func TestManager_UnsupportedMediaNotRetried(t *testing.T) {
	f := newFakeFetcher()
	f.errs[1] = fmt.Errorf("poll: %w", ErrUnsupportedMedia)

	m := startManager(t, f, storage.NewMemFs(), DefaultConfig())
	task := newTask(1, nil)
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	assert.Equal(t, StatusFailed, task.Status())
	assert.ErrorIs(t, task.Err(), ErrUnsupportedMedia)
	assert.Equal(t, 1, f.callsFor(1))
}

func TestManager_RetryGoesToFrontOfQueue(t *testing.T) {
	f := newFakeFetcher()
	f.data[1] = []byte("a")
	f.data[2] = []byte("b")
	f.failures[1] = 1

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	m := NewManager(f, storage.NewMemFs(), cfg, nil)

	// enqueue both under one lock so ordering is deterministic
	m.Start(context.Background())
	defer m.Stop()
	m.mu.Lock()
	t1, t2 := newTask(1, f.data[1]), newTask(2, f.data[2])
	m.queue = append(m.queue, t1, t2)
	m.stats.Total += 2
	m.cond.Broadcast()
	m.mu.Unlock()

	waitIdle(t, m)

	assert.Equal(t, []int{1, 1, 2}, f.callOrder())
	assert.Equal(t, StatusCompleted, t1.Status())
	assert.Equal(t, StatusCompleted, t2.Status())
}

func TestManager_ChunkedDownload(t *testing.T) {
	fs := storage.NewMemFs()
	f := newFakeFetcher()
	payload := bytes.Repeat([]byte("0123456789abcdef"), (3<<20+512<<10)/16)
	f.data[1] = payload

	cfg := DefaultConfig()
	m := startManager(t, f, fs, cfg)
	task := newTask(1, payload)
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	require.Equal(t, StatusCompleted, task.Status())
	assert.Equal(t, 1, f.callsFor(1), "chunks share one fetch")

	chunks := task.Chunks()
	require.Len(t, chunks, 4)
	var sum int64
	for _, c := range chunks {
		assert.Equal(t, ChunkCompleted, c.Status())
		assert.Equal(t, c.Size(), c.Downloaded.Load())
		sum += c.Size()
	}

	data, err := fs.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, sum, int64(len(data)))
	assert.True(t, bytes.Equal(payload, data))
}

func TestManager_ChunkedSizeMismatchFails(t *testing.T) {
	fs := storage.NewMemFs()
	f := newFakeFetcher()
	f.data[1] = make([]byte, 3<<20)

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	m := startManager(t, f, fs, cfg)
	task := NewTask(docMessage(1, 4<<20), 0, "1.bin", "/dl/1.bin", "1.bin")
	require.NoError(t, m.Submit(task))
	waitIdle(t, m)

	assert.Equal(t, StatusFailed, task.Status())
	assert.ErrorIs(t, task.Err(), ErrSizeMismatch)

	ok, err := fs.Exists("/dl/1.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RespectsMaxConcurrency(t *testing.T) {
	f := newFakeFetcher()
	f.block = make(chan struct{})

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	m := startManager(t, f, storage.NewMemFs(), cfg)

	for i := 1; i <= 6; i++ {
		f.data[i] = []byte{byte(i)}
	}
	for i := 1; i <= 6; i++ {
		require.NoError(t, m.Submit(newTask(i, []byte{byte(i)})))
	}

	require.Eventually(t, func() bool { return f.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	stats := m.Stats()
	assert.Equal(t, 2, stats.ActiveDownloads)
	assert.Equal(t, 4, stats.QueueLength)

	close(f.block)
	waitIdle(t, m)

	assert.LessOrEqual(t, f.maxActive.Load(), int32(2))
	assert.Equal(t, 6, m.Stats().Completed)
}

func TestManager_StopCancelsInFlightAndQueued(t *testing.T) {
	fs := storage.NewMemFs()
	f := newFakeFetcher()
	f.block = make(chan struct{})

	for i := 1; i <= 3; i++ {
		f.data[i] = []byte("x")
	}

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	m := NewManager(f, fs, cfg, nil)
	m.Start(context.Background())

	var tasks []*Task
	for i := 1; i <= 3; i++ {
		task := newTask(i, []byte("x"))
		tasks = append(tasks, task)
		require.NoError(t, m.Submit(task))
	}
	require.Eventually(t, func() bool { return f.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	waitIdle(t, m)

	for _, task := range tasks {
		<-task.Done()
		assert.Equal(t, StatusCancelled, task.Status(), task.ID)
		ok, err := fs.Exists(task.Path)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.False(t, m.Downloading())
	assert.ErrorIs(t, m.Submit(newTask(9, nil)), ErrNotRunning)
	assert.Equal(t, 3, m.Stats().Cancelled)
}

func TestManager_ContextCancelIsNotAFailure(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"single fetch", 8},
		{"chunked", 3 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := storage.NewMemFs()
			f := newFakeFetcher()
			f.block = make(chan struct{})
			f.data[1] = bytes.Repeat([]byte("z"), tt.size)

			cfg := DefaultConfig()
			cfg.ChunkSize = 1 << 20
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			m := NewManager(f, fs, cfg, nil)
			m.Start(ctx)
			defer m.Stop()

			task := newTask(1, f.data[1])
			require.NoError(t, m.Submit(task))
			require.Eventually(t, func() bool { return f.active.Load() == 1 }, time.Second, 5*time.Millisecond)

			// the manager is still downloading; only its context ends
			cancel()
			select {
			case <-task.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("task not finished after cancel")
			}

			assert.Equal(t, StatusCancelled, task.Status())
			assert.ErrorIs(t, task.Err(), ErrCancelled)
			assert.Equal(t, 0, task.RetryCount)
			assert.Equal(t, 1, f.callsFor(1))

			stats := m.Stats()
			assert.Equal(t, 0, stats.Failed)
			assert.Equal(t, 1, stats.Cancelled)
		})
	}
}

func TestManager_Observers(t *testing.T) {
	f := newFakeFetcher()
	f.data[1] = []byte("payload")

	m := NewManager(f, storage.NewMemFs(), DefaultConfig(), nil)

	var mu sync.Mutex
	var got []Event
	id := m.AddObserver(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	removed := m.AddObserver(func(Event) { t.Error("removed observer called") })
	m.RemoveObserver(removed)

	m.Start(context.Background())
	defer m.Stop()
	require.NoError(t, m.Submit(newTask(1, f.data[1])))
	waitIdle(t, m)
	m.RemoveObserver(id)

	mu.Lock()
	defer mu.Unlock()
	var sawProgress, sawDone, sawOverall bool
	for _, ev := range got {
		switch ev.Type {
		case EventTaskProgress:
			sawProgress = true
			assert.Equal(t, "1_0", ev.Task.TaskID)
		case EventTaskDone:
			sawDone = true
			assert.Equal(t, StatusCompleted, ev.Task.Status)
			assert.Equal(t, int64(7), ev.Task.Downloaded)
		case EventOverall:
			sawOverall = true
		}
	}
	assert.True(t, sawProgress)
	assert.True(t, sawDone)
	assert.True(t, sawOverall)
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		maxChunks int
		want      int
	}{
		{"exact multiple", 4 << 20, 1 << 20, 4, 4},
		{"capped", 10 << 20, 1 << 20, 4, 4},
		{"rounds up", 2<<20 + 1, 1 << 20, 4, 3},
		{"single", 100, 1 << 20, 4, 1},
		{"empty", 0, 1 << 20, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := planChunks(tt.size, tt.chunkSize, tt.maxChunks)
			require.Len(t, chunks, tt.want)

			var sum int64
			var next int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, next, c.Start)
				assert.Equal(t, ChunkPending, c.Status())
				next = c.End + 1
				sum += c.Size()
			}
			assert.Equal(t, tt.size, sum)
		})
	}
}

func TestMergeChunks_RequiresAllCompleted(t *testing.T) {
	full := []byte("abcdefghij")
	chunks := planChunks(int64(len(full)), 4, 4)
	for _, c := range chunks[:2] {
		c.Downloaded.Store(c.Size())
		c.setStatus(ChunkCompleted)
	}

	_, err := mergeChunks(chunks, full)
	assert.ErrorIs(t, err, ErrIncompleteMerge)

	chunks[2].Downloaded.Store(chunks[2].Size())
	chunks[2].setStatus(ChunkCompleted)
	out, err := mergeChunks(chunks, full)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(out))
	assert.Same(t, &full[0], &out[0], "merge must not copy the payload")

	_, err = mergeChunks(chunks, full[:9])
	assert.ErrorIs(t, err, ErrIncompleteMerge)

	chunks[1].Downloaded.Store(1)
	_, err = mergeChunks(chunks, full)
	assert.ErrorIs(t, err, ErrIncompleteMerge)
}
