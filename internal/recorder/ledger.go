package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blockedby/tg-archiver/internal/logger"
	"github.com/blockedby/tg-archiver/internal/models"
	"github.com/blockedby/tg-archiver/internal/repository"
)

// LedgerKeyPrefix prefixes every ledger key in the kv store.
const LedgerKeyPrefix = "download_record_"

// LedgerKey returns the kv key of a channel ledger.
func LedgerKey(channelID int64) string {
	return LedgerKeyPrefix + strconv.FormatInt(channelID, 10)
}

// Session summarises one run over a channel.
type Session struct {
	Timestamp     time.Time       `json:"timestamp"`
	TotalMessages int             `json:"totalMessages"`
	Downloaded    int             `json:"downloaded"`
	Skipped       int             `json:"skipped"`
	Errors        int             `json:"errors"`
	MessageRange  *models.IDRange `json:"messageRange"`
}

// Ledger is the cross-run record of a channel. Sessions are append-only
// and TotalRange always spans every session range.
type Ledger struct {
	ChannelID        string          `json:"channelId"`
	DownloadSessions []Session       `json:"downloadSessions"`
	TotalRange       *models.IDRange `json:"totalRange"`
}

// Append adds s and recomputes TotalRange.
func (l *Ledger) Append(s Session) {
	l.DownloadSessions = append(l.DownloadSessions, s)
	l.recompute()
}

func (l *Ledger) recompute() {
	var total *models.IDRange
	for _, s := range l.DownloadSessions {
		if s.MessageRange == nil {
			continue
		}
		if total == nil {
			r := *s.MessageRange
			total = &r
			continue
		}
		total.Extend(s.MessageRange.Min)
		total.Extend(s.MessageRange.Max)
	}
	l.TotalRange = total
}

// Recorder owns ledger read-merge-write for all channels.
type Recorder struct {
	kv  repository.KVStore
	log *logger.Logger
	mu  sync.Mutex
}

// New creates a recorder on top of kv.
func New(kv repository.KVStore, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Get()
	}
	return &Recorder{kv: kv, log: log}
}

// Ledger returns the ledger of a channel, or nil when there is none.
// A corrupt or structurally invalid record reads as no record.
func (r *Recorder) Ledger(ctx context.Context, channelID int64) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, channelID)
}

func (r *Recorder) load(ctx context.Context, channelID int64) (*Ledger, error) {
	raw, ok, err := r.kv.Get(ctx, LedgerKey(channelID))
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		r.log.Warn().Err(err).Int64("channel_id", channelID).Msg("ledger is not valid json, ignoring")
		return nil, nil
	}
	if sessions, ok := probe["downloadSessions"]; !ok || len(sessions) == 0 || sessions[0] != '[' {
		r.log.Warn().Int64("channel_id", channelID).Msg("ledger has no session list, ignoring")
		return nil, nil
	}

	var l Ledger
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		r.log.Warn().Err(err).Int64("channel_id", channelID).Msg("ledger is malformed, ignoring")
		return nil, nil
	}
	return &l, nil
}

// UpdateLedger appends s to the ledger of channelID in one
// read-merge-write step and returns the stored ledger.
func (r *Recorder) UpdateLedger(ctx context.Context, channelID int64, s Session) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = &Ledger{ChannelID: strconv.FormatInt(channelID, 10)}
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	l.Append(s)

	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	if err := r.kv.Set(ctx, LedgerKey(channelID), string(data)); err != nil {
		return nil, fmt.Errorf("write ledger: %w", err)
	}

	r.log.Info().
		Int64("channel_id", channelID).
		Int("sessions", len(l.DownloadSessions)).
		Msg("ledger updated")
	return l, nil
}

// Channels lists the ids of every channel with a stored ledger, ascending.
// Keys that do not end in a numeric id are skipped.
func (r *Recorder) Channels(ctx context.Context) ([]int64, error) {
	keys, err := r.kv.Keys(ctx, LedgerKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}

	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, LedgerKeyPrefix), 10, 64)
		if err != nil {
			r.log.Debug().Str("key", k).Msg("skipping non-ledger key")
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
