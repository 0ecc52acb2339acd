package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/tg-archiver/internal/logger"
	"github.com/blockedby/tg-archiver/internal/models"
	"github.com/blockedby/tg-archiver/internal/storage"
)

// Fetcher downloads the full bytes of a message attachment. progress is
// called with cumulative byte counts; a non-nil return aborts the fetch.
type Fetcher interface {
	FetchMedia(ctx context.Context, msg models.Message, progress func(downloaded, total int64) error) ([]byte, error)
}

// Manager runs tasks on a bounded worker pool.
// Failed tasks are requeued at the front until MaxRetries is reached.
type Manager struct {
	cfg     Config
	fetcher Fetcher
	fs      storage.FileSystem
	log     *logger.Logger

	downloading atomic.Bool
	bytes       atomic.Int64

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []*Task
	active      map[string]*Task
	activeCount int
	running     bool
	changed     chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	startedAt   time.Time
	stats       Stats

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// NewManager creates a stopped manager.
func NewManager(fetcher Fetcher, fs storage.FileSystem, cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Get()
	}
	m := &Manager{
		cfg:       cfg.withDefaults(),
		fetcher:   fetcher,
		fs:        fs,
		log:       log,
		active:    make(map[string]*Task),
		changed:   make(chan struct{}),
		observers: make(map[int]Observer),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// AddObserver registers fn and returns an id for RemoveObserver.
func (m *Manager) AddObserver(fn Observer) int {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextObs++
	m.observers[m.nextObs] = fn
	return m.nextObs
}

// RemoveObserver unregisters an observer.
func (m *Manager) RemoveObserver(id int) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	delete(m.observers, id)
}

// Start launches the dispatch loop. Calling Start on a running manager
// is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.startedAt = time.Now()
	m.stats = Stats{}
	m.bytes.Store(0)
	m.downloading.Store(true)

	go m.dispatchLoop(m.ctx)
}

// Downloading reports whether the manager accepts and runs work.
func (m *Manager) Downloading() bool {
	return m.downloading.Load()
}

// Submit enqueues t at the back of the queue.
func (m *Manager) Submit(t *Task) error {
	if t == nil {
		return errors.New("nil task")
	}

	m.mu.Lock()
	if !m.running || !m.downloading.Load() {
		m.mu.Unlock()
		t.finish(StatusCancelled, ErrNotRunning)
		return ErrNotRunning
	}
	m.queue = append(m.queue, t)
	m.stats.Total++
	m.cond.Signal()
	m.notifyLocked()
	m.mu.Unlock()

	m.emitStats()
	return nil
}

// Stop clears the downloading flag, drops queued tasks and aborts the
// in-flight ones. Safe to call more than once.
func (m *Manager) Stop() {
	m.downloading.Store(false)

	m.mu.Lock()
	dropped := m.queue
	m.queue = nil
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
	m.stats.Cancelled += len(dropped)
	m.cond.Broadcast()
	m.notifyLocked()
	m.mu.Unlock()

	for _, t := range dropped {
		t.finish(StatusCancelled, ErrCancelled)
	}
	if len(dropped) > 0 {
		m.log.Info().Int("dropped", len(dropped)).Msg("download queue dropped")
	}
	m.emitStats()
}

// Wait blocks until the queue is empty and no task is active.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 && m.activeCount == 0 {
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns a snapshot of the overall counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	s := m.stats
	s.ActiveDownloads = m.activeCount
	s.QueueLength = len(m.queue)
	s.Bytes = m.bytes.Load()
	if !m.startedAt.IsZero() {
		if elapsed := time.Since(m.startedAt).Seconds(); elapsed > 0 {
			s.Speed = float64(s.Bytes) / elapsed
		}
	}
	return s
}

// notifyLocked wakes Wait callers. m.mu must be held.
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// dispatchLoop pops tasks when slots free and starts workers.
// It returns once the manager is stopped.
func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		for m.running && (m.activeCount >= m.cfg.MaxConcurrency || len(m.queue) == 0) {
			m.cond.Wait()
		}
		if !m.running {
			m.mu.Unlock()
			return
		}

		t := m.queue[0]
		m.queue = m.queue[1:]
		m.activeCount++
		m.active[t.ID] = t
		m.notifyLocked()
		m.mu.Unlock()

		go m.runTask(ctx, t)
	}
}

// runTask executes one attempt of t and decides its fate.
func (m *Manager) runTask(ctx context.Context, t *Task) {
	t.start()
	err := m.download(ctx, t)

	var (
		final Status
		retry bool
		level = zerolog.DebugLevel
	)

	m.mu.Lock()
	m.activeCount--
	delete(m.active, t.ID)

	switch {
	case err == nil:
		final = StatusCompleted
		m.stats.Completed++
		if t.AlreadyExists() {
			m.stats.AlreadyExists++
		}
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) ||
		ctx.Err() != nil || !m.downloading.Load():
		final = StatusCancelled
		err = ErrCancelled
		m.stats.Cancelled++
	case errors.Is(err, ErrUnsupportedMedia) || t.RetryCount >= m.cfg.MaxRetries:
		final = StatusFailed
		m.stats.Failed++
		level = zerolog.WarnLevel
	default:
		retry = true
		t.RetryCount++
		t.requeue()
		m.queue = append([]*Task{t}, m.queue...)
		level = zerolog.InfoLevel
	}
	attempt := t.RetryCount
	m.cond.Broadcast()
	m.notifyLocked()
	m.mu.Unlock()

	if retry {
		m.log.WithLevel(level).Err(err).Str("task_id", t.ID).Int("retry", attempt).Msg("download failed, requeued")
		m.emit(Event{Type: EventTaskProgress, Task: m.progressOf(t, attempt, 0, err)})
		m.emitStats()
		return
	}

	t.finish(final, err)
	m.log.WithLevel(level).Err(err).Str("task_id", t.ID).Str("status", string(final)).Msg("download finished")
	m.emit(Event{Type: EventTaskDone, Task: m.progressOf(t, attempt, 0, err)})
	m.emitStats()
}

// download performs one attempt. A present target completes without fetch.
func (m *Manager) download(ctx context.Context, t *Task) error {
	if m.cancelled(ctx) {
		return ErrCancelled
	}

	exists, err := m.fs.Exists(t.Path)
	if err != nil {
		return err
	}
	if exists {
		t.markExisting()
		return nil
	}

	var data []byte
	if t.Size > m.cfg.ChunkThreshold() {
		data, err = m.downloadChunked(ctx, t)
	} else {
		data, err = m.fetcher.FetchMedia(ctx, t.Message, m.progressFn(t))
	}
	if err != nil {
		return err
	}

	if m.cancelled(ctx) {
		return ErrCancelled
	}
	if err := m.fs.WriteBinaryFile(t.Path, data); err != nil {
		return fmt.Errorf("write %s: %w", t.RelPath, err)
	}
	return nil
}

// downloadChunked splits t into chunks that share a single full fetch,
// since the remote has no ranged download. Each chunk checks its own
// range and the file is returned only when every chunk completed.
func (m *Manager) downloadChunked(ctx context.Context, t *Task) ([]byte, error) {
	chunks := planChunks(t.Size, m.cfg.ChunkSize, m.cfg.MaxChunksPerFile)
	t.setChunks(chunks)

	fetch := sync.OnceValues(func() ([]byte, error) {
		return m.fetcher.FetchMedia(ctx, t.Message, m.progressFn(t))
	})

	var g errgroup.Group
	for _, c := range chunks {
		g.Go(func() error {
			c.setStatus(ChunkDownloading)

			full, err := fetch()
			if err != nil {
				c.setStatus(ChunkFailed)
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			if m.cancelled(ctx) {
				c.setStatus(ChunkFailed)
				return ErrCancelled
			}
			if int64(len(full)) != t.Size {
				c.setStatus(ChunkFailed)
				return fmt.Errorf("chunk %d: %w: got %d want %d", c.Index, ErrSizeMismatch, len(full), t.Size)
			}

			c.Downloaded.Store(c.Size())
			c.setStatus(ChunkCompleted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	full, _ := fetch()
	return mergeChunks(chunks, full)
}

// mergeChunks checks that every chunk completed and that together they
// cover full exactly. Chunks are views into full, so it is returned as is.
func mergeChunks(chunks []*Chunk, full []byte) ([]byte, error) {
	var total int64
	for _, c := range chunks {
		if c.Status() != ChunkCompleted || c.Downloaded.Load() != c.Size() {
			return nil, fmt.Errorf("%w: chunk %d is %s", ErrIncompleteMerge, c.Index, c.Status())
		}
		if c.Start != total {
			return nil, fmt.Errorf("%w: chunk %d starts at %d", ErrIncompleteMerge, c.Index, c.Start)
		}
		total += c.Size()
	}
	if total != int64(len(full)) {
		return nil, fmt.Errorf("%w: chunks cover %d of %d bytes", ErrIncompleteMerge, total, len(full))
	}
	return full, nil
}

// cancelled reports whether the attempt should stop.
func (m *Manager) cancelled(ctx context.Context) bool {
	return !m.downloading.Load() || ctx.Err() != nil
}

// progressFn returns the fetch callback for t. It aborts the fetch once
// downloading is cleared.
func (m *Manager) progressFn(t *Task) func(downloaded, total int64) error {
	return func(downloaded, total int64) error {
		if !m.downloading.Load() {
			return ErrCancelled
		}
		if total > 0 {
			t.total.Store(total)
		}
		delta := downloaded - t.downloaded.Swap(downloaded)
		m.bytes.Add(delta)
		m.emitTask(t, delta)
		return nil
	}
}

func (m *Manager) progressOf(t *Task, retry int, delta int64, err error) *TaskProgress {
	p := &TaskProgress{
		TaskID:     t.ID,
		MessageID:  t.Message.ID,
		FileName:   t.FileName,
		Downloaded: t.Downloaded(),
		Total:      t.Total(),
		Delta:      delta,
		Speed:      t.Speed(),
		Status:     t.Status(),
		Retry:      retry,
	}
	if p.Total == 0 {
		p.Total = t.Size
	}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

func (m *Manager) emitTask(t *Task, delta int64) {
	m.emit(Event{Type: EventTaskProgress, Task: m.progressOf(t, t.attempt(), delta, nil)})
}

func (m *Manager) emitStats() {
	s := m.Stats()
	m.emit(Event{Type: EventOverall, Stats: &s})
}

func (m *Manager) emit(ev Event) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, fn := range m.observers {
		fn(ev)
	}
}
