// Package downloader runs media downloads on a bounded worker pool with
// chunking, retries and cooperative cancellation.
package downloader

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
)

// Status represents the state of a task
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one file download.
type Task struct {
	ID         string // <msgID>_<groupIndex>
	Message    models.Message
	GroupIndex int    // 1-based, 0 when not grouped
	FileName   string // resolved file name
	Path       string // absolute target path
	RelPath    string // path relative to the channel directory
	Size       int64  // expected size, 0 if unknown

	// RetryCount is only written by the manager while it holds its lock.
	RetryCount int
	retries    atomic.Int32

	downloaded atomic.Int64
	total      atomic.Int64

	mu            sync.Mutex
	status        Status
	err           error
	alreadyExists bool
	chunks        []*Chunk
	startedAt     time.Time
	finishedAt    time.Time

	doneOnce sync.Once
	done     chan struct{}
}

// NewTask creates a queued task for msg.
func NewTask(msg models.Message, groupIndex int, fileName, path, relPath string) *Task {
	return &Task{
		ID:         fmt.Sprintf("%d_%d", msg.ID, groupIndex),
		Message:    msg,
		GroupIndex: groupIndex,
		FileName:   fileName,
		Path:       path,
		RelPath:    relPath,
		Size:       media.Size(msg.Media),
		status:     StatusQueued,
		done:       make(chan struct{}),
	}
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the terminal error, nil on success.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// AlreadyExists reports whether the target was present before download.
func (t *Task) AlreadyExists() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alreadyExists
}

// FinishedAt returns when the task reached a terminal state.
func (t *Task) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

// Chunks returns the chunk plan, nil for single-shot downloads.
func (t *Task) Chunks() []*Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}

// Downloaded returns the bytes fetched so far.
func (t *Task) Downloaded() int64 { return t.downloaded.Load() }

// Total returns the total size reported by the remote, 0 if unknown.
func (t *Task) Total() int64 { return t.total.Load() }

func (t *Task) attempt() int { return int(t.retries.Load()) }

// Done is closed once the task is terminal.
func (t *Task) Done() <-chan struct{} { return t.done }

// Speed returns bytes per second since the task started.
func (t *Task) Speed() float64 {
	t.mu.Lock()
	started := t.startedAt
	t.mu.Unlock()

	if started.IsZero() {
		return 0
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.downloaded.Load()) / elapsed
}

func (t *Task) start() {
	t.mu.Lock()
	t.status = StatusDownloading
	t.startedAt = time.Now()
	t.chunks = nil
	t.mu.Unlock()
	t.downloaded.Store(0)
}

func (t *Task) requeue() {
	t.retries.Store(int32(t.RetryCount))
	t.mu.Lock()
	t.status = StatusQueued
	t.mu.Unlock()
}

func (t *Task) setChunks(chunks []*Chunk) {
	t.mu.Lock()
	t.chunks = chunks
	t.mu.Unlock()
}

func (t *Task) markExisting() {
	t.mu.Lock()
	t.alreadyExists = true
	t.mu.Unlock()
}

func (t *Task) finish(status Status, err error) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.err = err
	t.finishedAt = time.Now()
	t.mu.Unlock()

	t.doneOnce.Do(func() { close(t.done) })
}

// ChunkStatus represents the state of a chunk
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkDownloading ChunkStatus = "downloading"
	ChunkCompleted   ChunkStatus = "completed"
	ChunkFailed      ChunkStatus = "failed"
)

// Chunk is an inclusive byte range of a task.
type Chunk struct {
	Index      int
	Start      int64
	End        int64
	Downloaded atomic.Int64

	mu     sync.Mutex
	status ChunkStatus
}

// Size returns the length of the chunk in bytes.
func (c *Chunk) Size() int64 {
	return c.End - c.Start + 1
}

// Status returns the chunk status.
func (c *Chunk) Status() ChunkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Chunk) setStatus(s ChunkStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// planChunks splits size bytes into at most maxChunks near-equal ranges of
// roughly chunkSize bytes.
func planChunks(size, chunkSize int64, maxChunks int) []*Chunk {
	if size <= 0 {
		return nil
	}
	n := (size + chunkSize - 1) / chunkSize
	if n > int64(maxChunks) {
		n = int64(maxChunks)
	}
	if n < 1 {
		n = 1
	}

	per, rem := size/n, size%n
	chunks := make([]*Chunk, 0, n)
	var start int64
	for i := int64(0); i < n; i++ {
		length := per
		if i < rem {
			length++
		}
		chunks = append(chunks, &Chunk{
			Index:  int(i),
			Start:  start,
			End:    start + length - 1,
			status: ChunkPending,
		})
		start += length
	}
	return chunks
}
