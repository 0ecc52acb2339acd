package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tg-archiver/internal/downloader"
	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
	"github.com/blockedby/tg-archiver/internal/progress"
	"github.com/blockedby/tg-archiver/internal/recorder"
	"github.com/blockedby/tg-archiver/internal/storage"
)

// execution is the run-scoped accumulator.
type execution struct {
	svc     *Service
	run     *Run
	channel *models.Channel
	layout  *storage.Layout
	filter  Criteria
	groups  *GroupTracker
	enabled map[models.DownloadType]bool
	mgr     *downloader.Manager

	records []recorder.MessageMetadata
	index   map[int]int // message id -> records index

	finalizeOnce sync.Once
	result       *Result
}

// paginate walks the history until it is exhausted, the context ends or
// too many consecutive fetches fail.
func (x *execution) paginate(ctx context.Context) {
	s, run := x.svc, x.run
	pag := NewPaginator(s.remote, x.channel, run.Options.BatchSize, Bounds{
		Lower: run.Options.StartMessageID,
		Upper: run.Options.EndMessageID,
	})

	failures := 0
	for !pag.Done() && ctx.Err() == nil {
		run.setState(StatePaginating)
		msgs, err := pag.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			x.countError()
			s.log.Warn().Err(err).
				Int64("channel_id", x.channel.ID).
				Int("cursor", pag.Cursor()).
				Int("failures", failures).
				Msg("batch fetch failed")
			if failures >= s.policy.MaxBatchErrors {
				s.log.Error().Int64("channel_id", x.channel.ID).Msg("too many failed fetches, finishing run")
				s.publishState(run, "remote unavailable, finishing")
				return
			}
			sleepCtx(ctx, s.policy.ErrorBackoff)
			continue
		}
		failures = 0

		s.log.Debug().
			Int64("channel_id", x.channel.ID).
			Int("batch", pag.Batches()).
			Int("messages", len(msgs)).
			Int("cursor", pag.Cursor()).
			Msg("batch fetched")

		x.processBatch(ctx, msgs)

		if !pag.Done() {
			sleepCtx(ctx, s.policy.BatchDelay)
		}
	}
	s.log.Debug().
		Int64("channel_id", x.channel.ID).
		Int("batches", pag.Batches()).
		Bool("exhausted", pag.Done()).
		Msg("pagination stopped")
}

// processBatch filters and dispatches one ascending batch, then waits for
// its downloads so the next page is only requested afterwards.
func (x *execution) processBatch(ctx context.Context, batch []models.Message) {
	s, run := x.svc, x.run
	run.setState(StateFiltering)

	include := make(map[int]bool, len(batch))
	for _, msg := range batch {
		include[msg.ID] = x.filter.ShouldInclude(msg)
	}

	var tasks []*downloader.Task
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}

		current := run.incCurrent()
		s.events.Publish(progress.Event{
			Type:        progress.EventMessage,
			RunID:       run.ID,
			ChannelID:   x.channel.ID,
			Current:     progress.Int(current),
			CurrentFile: fmt.Sprintf("message %d", msg.ID),
		})

		if include[msg.ID] {
			x.index[msg.ID] = len(x.records)
			x.records = append(x.records, recorder.NewMessageMetadata(msg))
		}

		switch {
		case !msg.HasMedia():
		case !include[msg.ID] || !x.typeEnabled(msg):
			x.countSkipped()
		case msg.IsGrouped():
			if !x.groups.MarkProcessed(msg.GroupID) {
				// dispatched with an earlier member
				break
			}
			run.setState(StateDispatching)
			tasks = append(tasks, x.dispatchGroup(msg, batch, include)...)
		default:
			run.setState(StateDispatching)
			if t := x.dispatch(msg, 0); t != nil {
				tasks = append(tasks, t)
			}
		}

		sleepCtx(ctx, s.policy.MessageDelay)
	}

	if len(tasks) == 0 {
		return
	}
	run.setState(StateDownloading)
	x.await(ctx, tasks)
}

func (x *execution) typeEnabled(msg models.Message) bool {
	return x.enabled[models.DownloadTypeFor(media.Kind(msg.Media))]
}

// dispatchGroup submits every downloadable member of trigger's group.
// Indexes follow the full group order so names do not depend on the filter.
func (x *execution) dispatchGroup(trigger models.Message, batch []models.Message, include map[int]bool) []*downloader.Task {
	members := ResolveGroup(trigger.GroupID, trigger, batch)
	if len(members) == 1 {
		x.svc.log.Debug().Int64("group_id", trigger.GroupID).Int("msg_id", trigger.ID).Msg("media group has a single member in batch")
	}

	var tasks []*downloader.Task
	for i, m := range members {
		if !m.HasMedia() || !include[m.ID] || !x.typeEnabled(m) {
			continue
		}
		if t := x.dispatch(m, i+1); t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (x *execution) dispatch(msg models.Message, groupIndex int) *downloader.Task {
	kind := media.Kind(msg.Media)
	name := media.FileName(msg.Media, msg.ID, groupIndex)
	abs, rel := x.layout.PathFor(x.channel.ID, kind, name)

	t := downloader.NewTask(msg, groupIndex, name, abs, rel)
	if err := x.mgr.Submit(t); err != nil {
		x.svc.log.Debug().Err(err).Str("task_id", t.ID).Msg("task not submitted")
	}
	return t
}

// await blocks until every task is terminal and folds the outcomes into
// the counters and metadata.
func (x *execution) await(ctx context.Context, tasks []*downloader.Task) {
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			x.mgr.Stop()
			<-t.Done()
		}
	}

	x.run.setState(StateRecording)
	for _, t := range tasks {
		switch t.Status() {
		case downloader.StatusCompleted:
			if i, ok := x.index[t.Message.ID]; ok {
				x.records[i].MarkStored(t.FileName, t.RelPath, t.FinishedAt())
			}
			if t.AlreadyExists() {
				x.countSkipped()
			} else {
				x.countDownloaded()
			}
		case downloader.StatusFailed:
			x.countError()
		}
	}
}

func (x *execution) onDownloadEvent(ev downloader.Event) {
	out := progress.Event{RunID: x.run.ID, ChannelID: x.channel.ID}
	switch {
	case ev.Task != nil:
		p := ev.Task
		out.Type = progress.EventFile
		out.CurrentFile = p.FileName
		out.Speed = progress.Float(p.Speed)
		if p.Total > 0 {
			out.FileProgress = progress.Float(float64(p.Downloaded) * 100 / float64(p.Total))
		}
		out.Status = fmt.Sprintf("%s %s", p.Status, p.FileName)
		if p.Error != "" {
			out.Status += ": " + p.Error
		}
	case ev.Stats != nil:
		out.Type = progress.EventOverall
		out.Speed = progress.Float(ev.Stats.Speed)
		out.Active = progress.Int(ev.Stats.ActiveDownloads)
		out.Queued = progress.Int(ev.Stats.QueueLength)
		out.Total = progress.Int(ev.Stats.Total)
	default:
		return
	}
	x.svc.events.Publish(out)
}

func (x *execution) countDownloaded() { x.publishCounters(x.run.add(1, 0, 0)) }
func (x *execution) countSkipped()    { x.publishCounters(x.run.add(0, 1, 0)) }
func (x *execution) countError()      { x.publishCounters(x.run.add(0, 0, 1)) }

func (x *execution) publishCounters(c counters) {
	x.svc.events.Publish(progress.Event{
		Type:       progress.EventCounters,
		RunID:      x.run.ID,
		ChannelID:  x.channel.ID,
		Downloaded: progress.Int(c.downloaded),
		Skipped:    progress.Int(c.skipped),
		Errors:     progress.Int(c.errors),
	})
}

// finalize flushes metadata shards and appends the ledger session. It
// runs once per execution; the ledger update is attempted even when the
// flush fails or the run was cancelled.
func (x *execution) finalize(ctx context.Context) *Result {
	x.finalizeOnce.Do(func() {
		s, run := x.svc, x.run
		prior := run.Snapshot().State
		run.setState(StateFinalizing)
		s.publishState(run, "saving metadata")

		// the run context may already be cancelled
		saveCtx := context.WithoutCancel(ctx)

		shards, err := recorder.FlushMetadata(s.fs, x.records, x.layout.JSONDir(x.channel.ID), s.policy.ShardSize)
		if err != nil {
			x.countError()
			s.log.Error().Err(err).Int64("channel_id", x.channel.ID).Msg("metadata flush failed")
		}

		ids := make([]int64, 0, len(x.records))
		for _, r := range x.records {
			ids = append(ids, int64(r.ID))
		}
		c := run.totals()
		session := recorder.Session{
			TotalMessages: c.current,
			Downloaded:    c.downloaded,
			Skipped:       c.skipped,
			Errors:        c.errors,
			MessageRange:  models.RangeOf(ids),
		}
		if s.recorder != nil {
			if _, err := s.recorder.UpdateLedger(saveCtx, x.channel.ID, session); err != nil {
				s.log.Error().Err(err).Int64("channel_id", x.channel.ID).Msg("ledger update failed")
			}
		}

		final := StateDone
		switch prior {
		case StateFailed:
			final = StateFailed
		case StateCancelling:
			final = StateCancelled
		}
		run.setState(final)

		x.result = &Result{
			RunID:         run.ID,
			ChannelID:     x.channel.ID,
			State:         final,
			TotalMessages: c.current,
			Downloaded:    c.downloaded,
			Skipped:       c.skipped,
			Errors:        c.errors,
			MessageRange:  session.MessageRange,
			Shards:        shards,
			StartedAt:     run.StartedAt,
			FinishedAt:    time.Now(),
		}

		s.events.Publish(progress.Event{
			Type:       progress.EventDone,
			RunID:      run.ID,
			ChannelID:  x.channel.ID,
			State:      string(final),
			Status:     "archive finished",
			Total:      progress.Int(c.current),
			Current:    progress.Int(c.current),
			Downloaded: progress.Int(c.downloaded),
			Skipped:    progress.Int(c.skipped),
			Errors:     progress.Int(c.errors),
		})
		s.log.Info().
			Str("run_id", run.ID).
			Int64("channel_id", x.channel.ID).
			Str("state", string(final)).
			Int("messages", c.current).
			Int("downloaded", c.downloaded).
			Int("skipped", c.skipped).
			Int("errors", c.errors).
			Int("shards", len(shards)).
			Int("media_groups", x.groups.Len()).
			Msg("archive run finished")
	})
	return x.result
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
