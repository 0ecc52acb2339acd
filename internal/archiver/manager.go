package archiver

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blockedby/tg-archiver/internal/logger"
)

// maxFinishedRuns bounds the finished runs kept for status queries.
const maxFinishedRuns = 50

// Executor runs one archive job to completion.
type Executor interface {
	Execute(ctx context.Context, run *Run) (*Result, error)
}

// ChannelResolver is implemented by executors that can map a channel
// reference to its id before a run is accepted.
type ChannelResolver interface {
	ChannelID(ctx context.Context, ref string) (int64, error)
}

type runEntry struct {
	run    *Run
	cancel context.CancelFunc
}

// RunManager starts runs in the background.
// It allows one active run per channel and is safe for concurrent use.
type RunManager struct {
	mu        sync.Mutex
	runs      map[string]*runEntry
	byChannel map[string]string // channel reference or id key -> active run id
	finished  []string
	exec      Executor
	log       *logger.Logger
	wg        sync.WaitGroup
}

// NewRunManager creates a new run manager
func NewRunManager(exec Executor, log *logger.Logger) *RunManager {
	if log == nil {
		log = logger.Get()
	}
	return &RunManager{
		runs:      make(map[string]*runEntry),
		byChannel: make(map[string]string),
		exec:      exec,
		log:       log,
	}
}

func channelKey(ref string) string {
	return strings.ToLower(NormalizeChannel(ref))
}

// Start launches a run for opts.
// returns ErrAlreadyRunning if the channel already has an active run.
// When the executor is a ChannelResolver the channel is resolved first,
// so two references to the same channel are caught here.
func (m *RunManager) Start(ctx context.Context, opts Options) (*Run, error) {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	keys := []string{channelKey(opts.Channel)}
	if r, ok := m.exec.(ChannelResolver); ok {
		id, err := r.ChannelID(ctx, opts.Channel)
		if err != nil {
			return nil, err
		}
		keys = append(keys, "#"+strconv.FormatInt(id, 10))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		if _, busy := m.byChannel[k]; busy {
			return nil, ErrAlreadyRunning
		}
	}

	// the run outlives the request that started it
	runCtx, cancel := context.WithCancel(context.Background())
	run := NewRun(opts)
	m.runs[run.ID] = &runEntry{run: run, cancel: cancel}
	for _, k := range keys {
		m.byChannel[k] = run.ID
	}

	m.wg.Add(1)
	go m.execute(runCtx, run, keys)

	return run, nil
}

func (m *RunManager) execute(ctx context.Context, run *Run, keys []string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.runs[run.ID]; ok {
			e.cancel()
		}
		for _, k := range keys {
			if m.byChannel[k] == run.ID {
				delete(m.byChannel, k)
			}
		}
		m.finished = append(m.finished, run.ID)
		for len(m.finished) > maxFinishedRuns {
			delete(m.runs, m.finished[0])
			m.finished = m.finished[1:]
		}
	}()

	if _, err := m.exec.Execute(ctx, run); err != nil {
		m.log.Warn().Err(err).Str("run_id", run.ID).Str("channel", run.Options.Channel).Msg("archive run failed")
	}
}

// Stop cancels the run with the given id. The run still finalizes.
func (m *RunManager) Stop(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	e.cancel()
	return nil
}

// StopAll cancels every active run.
func (m *RunManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byChannel {
		m.runs[id].cancel()
	}
}

// Wait blocks until every started run has finished or ctx ends.
func (m *RunManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the run with the given id.
func (m *RunManager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return e.run, true
}

// Active returns the status of the running jobs.
func (m *RunManager) Active() []RunStatus {
	m.mu.Lock()
	seen := make(map[string]bool, len(m.byChannel))
	ids := make([]string, 0, len(m.byChannel))
	for _, id := range m.byChannel {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	return m.snapshots(ids)
}

// List returns the status of every known run, newest first.
func (m *RunManager) List() []RunStatus {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	return m.snapshots(ids)
}

func (m *RunManager) snapshots(ids []string) []RunStatus {
	out := make([]RunStatus, 0, len(ids))
	for _, id := range ids {
		if run, ok := m.Get(id); ok {
			out = append(out, run.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
