package archiver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-archiver/internal/models"
)

// State is a step of the run state machine.
type State string

// run states
const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StatePaginating   State = "paginating"
	StateFiltering    State = "filtering"
	StateDispatching  State = "dispatching"
	StateDownloading  State = "downloading"
	StateRecording    State = "recording"
	StateFinalizing   State = "finalizing"
	StateCancelling   State = "cancelling"
	StateDone         State = "done"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

type counters struct {
	current    int
	downloaded int
	skipped    int
	errors     int
}

// Run is one archive job. Its counters are readable while it executes.
type Run struct {
	ID        string
	Options   Options
	StartedAt time.Time

	mu      sync.Mutex
	state   State
	channel *models.Channel
	c       counters
	result  *Result
	err     error

	doneOnce sync.Once
	done     chan struct{}
}

// NewRun creates an idle run with a fresh id.
func NewRun(opts Options) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Options:   opts,
		StartedAt: time.Now(),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID      string    `json:"runId"`
	Channel    string    `json:"channel"`
	ChannelID  int64     `json:"channelId,omitempty"`
	State      State     `json:"state"`
	Current    int       `json:"current"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"startedAt"`
	Error      string    `json:"error,omitempty"`
	Result     *Result   `json:"result,omitempty"`
}

// Snapshot returns the current status.
func (r *Run) Snapshot() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RunStatus{
		RunID:      r.ID,
		Channel:    r.Options.Channel,
		State:      r.state,
		Current:    r.c.current,
		Downloaded: r.c.downloaded,
		Skipped:    r.c.skipped,
		Errors:     r.c.errors,
		StartedAt:  r.StartedAt,
		Result:     r.result,
	}
	if r.channel != nil {
		st.ChannelID = r.channel.ID
	}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the outcome once Done is closed.
func (r *Run) Result() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setChannel(ch *models.Channel) {
	r.mu.Lock()
	r.channel = ch
	r.mu.Unlock()
}

func (r *Run) setResult(res *Result, err error) {
	r.mu.Lock()
	r.result = res
	r.err = err
	r.mu.Unlock()
}

func (r *Run) incCurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.current++
	return r.c.current
}

func (r *Run) add(downloaded, skipped, errs int) counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.downloaded += downloaded
	r.c.skipped += skipped
	r.c.errors += errs
	return r.c
}

func (r *Run) totals() counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

func (r *Run) close() {
	r.doneOnce.Do(func() { close(r.done) })
}
