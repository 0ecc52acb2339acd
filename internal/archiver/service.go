package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tg-archiver/internal/downloader"
	"github.com/blockedby/tg-archiver/internal/logger"
	"github.com/blockedby/tg-archiver/internal/models"
	"github.com/blockedby/tg-archiver/internal/progress"
	"github.com/blockedby/tg-archiver/internal/recorder"
	"github.com/blockedby/tg-archiver/internal/storage"
)

// DefaultBatchSize is the history page size. It is also the largest page
// the remote serves in one request.
const DefaultBatchSize = 100

// Remote is the messaging collaborator of a run.
type Remote interface {
	MessageSource
	ResolveChannel(ctx context.Context, ref string) (*models.Channel, error)
}

// Policy holds the pacing constants of a run.
type Policy struct {
	MessageDelay   time.Duration
	BatchDelay     time.Duration
	ErrorBackoff   time.Duration
	MaxBatchErrors int // consecutive failed fetches before pagination gives up
	ShardSize      int
}

// DefaultPolicy returns the default pacing.
func DefaultPolicy() Policy {
	return Policy{
		MessageDelay:   20 * time.Millisecond,
		BatchDelay:     300 * time.Millisecond,
		ErrorBackoff:   2 * time.Second,
		MaxBatchErrors: 5,
		ShardSize:      recorder.DefaultShardSize,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxBatchErrors <= 0 {
		p.MaxBatchErrors = def.MaxBatchErrors
	}
	if p.ShardSize <= 0 {
		p.ShardSize = def.ShardSize
	}
	return p
}

// Result summarises a finished run.
type Result struct {
	RunID         string          `json:"runId"`
	ChannelID     int64           `json:"channelId"`
	State         State           `json:"state"`
	TotalMessages int             `json:"totalMessages"`
	Downloaded    int             `json:"downloaded"`
	Skipped       int             `json:"skipped"`
	Errors        int             `json:"errors"`
	MessageRange  *models.IDRange `json:"messageRange"`
	Shards        []string        `json:"shards,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    time.Time       `json:"finishedAt"`
}

// Service runs archive jobs.
type Service struct {
	remote   Remote
	fetcher  downloader.Fetcher
	fs       storage.FileSystem
	recorder *recorder.Recorder
	events   progress.Publisher
	dlCfg    downloader.Config
	policy   Policy
	log      *logger.Logger

	mu     sync.Mutex
	active map[int64]string // channel id -> run id
}

// NewService creates a service. events may be nil.
func NewService(
	remote Remote,
	fetcher downloader.Fetcher,
	fs storage.FileSystem,
	rec *recorder.Recorder,
	events progress.Publisher,
	dlCfg downloader.Config,
	policy Policy,
	log *logger.Logger,
) *Service {
	if events == nil {
		events = progress.Discard{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		remote:   remote,
		fetcher:  fetcher,
		fs:       fs,
		recorder: rec,
		events:   events,
		dlCfg:    dlCfg,
		policy:   policy.withDefaults(),
		log:      log,
		active:   make(map[int64]string),
	}
}

// Recorder returns the ledger recorder.
func (s *Service) Recorder() *recorder.Recorder { return s.recorder }

// Run archives one channel and blocks until the run is finished.
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	return s.Execute(ctx, NewRun(opts))
}

// Execute drives run through its states. Only setup failures are returned
// as errors; per-batch and per-file failures are counted.
func (s *Service) Execute(ctx context.Context, run *Run) (res *Result, err error) {
	defer run.close()

	opts := run.Options
	run.setState(StateInitializing)
	s.publishState(run, "preparing archive")

	ch, err := s.setup(ctx, run)
	if err != nil {
		run.setState(StateFailed)
		s.publishState(run, err.Error())
		s.log.Error().Err(err).Str("run_id", run.ID).Str("channel", opts.Channel).Msg("archive setup failed")
		run.setResult(nil, err)
		return nil, err
	}
	defer s.release(ch.ID, run.ID)

	x := &execution{
		svc:     s,
		run:     run,
		channel: ch,
		layout:  storage.NewLayout(s.fs, opts.DownloadPath),
		filter:  NewCriteria(opts.FilenameFilter, opts.FilterMode, opts.MinFileSize, opts.MaxFileSize),
		groups:  NewGroupTracker(),
		index:   make(map[int]int),
		enabled: make(map[models.DownloadType]bool),
	}
	for _, t := range opts.DownloadTypes {
		x.enabled[t] = true
	}

	x.mgr = downloader.NewManager(s.fetcher, s.fs, s.dlCfg, s.log.Component("downloader"))
	x.mgr.AddObserver(x.onDownloadEvent)
	x.mgr.Start(ctx)
	defer x.mgr.Stop()

	defer func() {
		if p := recover(); p != nil {
			s.log.Error().Interface("panic", p).Str("run_id", run.ID).Msg("archive run panicked")
			run.setState(StateFailed)
			x.mgr.Stop()
			res = x.finalize(ctx)
			err = fmt.Errorf("archive run panicked: %v", p)
			run.setResult(res, err)
		}
	}()

	x.paginate(ctx)

	// the pool must be idle before metadata is flushed
	if err := x.mgr.Wait(ctx); err != nil {
		s.log.Debug().Err(err).Str("run_id", run.ID).Msg("download pool not drained")
	}

	if ctx.Err() != nil {
		run.setState(StateCancelling)
		s.publishState(run, "cancelling")
		x.mgr.Stop()
	}
	res = x.finalize(ctx)
	run.setResult(res, nil)
	return res, nil
}

// setup resolves the channel, claims it and creates the archive layout.
func (s *Service) setup(ctx context.Context, run *Run) (*models.Channel, error) {
	opts := run.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ch, err := s.remote.ResolveChannel(ctx, opts.Channel)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %s: %w", opts.Channel, err)
	}
	if err := s.claim(ch.ID, run.ID); err != nil {
		return nil, err
	}
	run.setChannel(ch)

	layout := storage.NewLayout(s.fs, opts.DownloadPath)
	if err := layout.Ensure(ch.ID, opts.DownloadTypes); err != nil {
		s.release(ch.ID, run.ID)
		return nil, err
	}
	return ch, nil
}

// ChannelID resolves ref and returns ErrAlreadyRunning when the channel
// already has an active run on this service.
func (s *Service) ChannelID(ctx context.Context, ref string) (int64, error) {
	ch, err := s.remote.ResolveChannel(ctx, NormalizeChannel(ref))
	if err != nil {
		return 0, fmt.Errorf("%w %s: %w", ErrChannelUnresolved, ref, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[ch.ID]; busy {
		return 0, ErrAlreadyRunning
	}
	return ch.ID, nil
}

func (s *Service) claim(channelID int64, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[channelID]; busy {
		return ErrAlreadyRunning
	}
	s.active[channelID] = runID
	return nil
}

func (s *Service) release(channelID int64, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[channelID] == runID {
		delete(s.active, channelID)
	}
}

func (s *Service) publishState(run *Run, status string) {
	snap := run.Snapshot()
	s.events.Publish(progress.Event{
		Type:      progress.EventStatus,
		RunID:     run.ID,
		ChannelID: snap.ChannelID,
		State:     string(snap.State),
		Status:    status,
	})
}
