package archiver

import (
	"context"
	"fmt"
	"sort"

	"github.com/blockedby/tg-archiver/internal/models"
)

// MessageSource fetches channel history newest-first. Service entries
// are returned as placeholders with Service set.
type MessageSource interface {
	GetMessageBatch(ctx context.Context, ch *models.Channel, req models.BatchRequest) ([]models.Message, error)
}

// Bounds is an inclusive message id range. Zero means unbounded.
type Bounds struct {
	Lower int
	Upper int
}

// Contains reports whether id lies inside the bounds.
func (b Bounds) Contains(id int) bool {
	if b.Lower > 0 && id < b.Lower {
		return false
	}
	if b.Upper > 0 && id > b.Upper {
		return false
	}
	return true
}

// InitialCursor returns the cursor for the first request. With an upper
// bound the cursor sits one above it so the bound itself is returned.
func (b Bounds) InitialCursor() int {
	if b.Upper > 0 {
		return b.Upper + 1
	}
	return 0
}

// Batch is one page of history.
type Batch struct {
	Messages  []models.Message // in-range archivable messages, ascending by id
	Cursor    int              // cursor for the next request
	Exhausted bool
	Raw       int // size of the unfiltered page
}

// NextBatch requests up to size messages older than cursor, drops service
// entries and those outside bounds, and advances the cursor to the oldest
// id of the raw page. Termination is judged on the raw page.
// On error the cursor is returned unchanged.
func NextBatch(ctx context.Context, src MessageSource, ch *models.Channel, cursor, size int, bounds Bounds) (Batch, error) {
	req := models.BatchRequest{
		Limit:    size,
		OffsetID: cursor,
	}
	if bounds.Lower > 0 {
		req.MinID = bounds.Lower - 1
	}

	raw, err := src.GetMessageBatch(ctx, ch, req)
	if err != nil {
		return Batch{Cursor: cursor}, fmt.Errorf("fetch batch before %d: %w", cursor, err)
	}
	if len(raw) == 0 {
		return Batch{Cursor: cursor, Exhausted: true}, nil
	}

	oldest := raw[0].ID
	kept := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if m.ID < oldest {
			oldest = m.ID
		}
		if !m.Service && bounds.Contains(m.ID) {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	// no progress means the remote ignored the offset
	stalled := cursor != 0 && oldest >= cursor

	return Batch{
		Messages: kept,
		Cursor:   oldest,
		Raw:      len(raw),
		Exhausted: stalled ||
			(bounds.Lower > 0 && oldest <= bounds.Lower) ||
			len(raw) < size,
	}, nil
}

// Paginator walks a channel history batch by batch.
// Not safe for concurrent use.
type Paginator struct {
	src     MessageSource
	channel *models.Channel
	size    int
	bounds  Bounds
	cursor  int
	done    bool
	batches int
}

// NewPaginator creates a paginator positioned at the newest in-range message.
func NewPaginator(src MessageSource, ch *models.Channel, size int, bounds Bounds) *Paginator {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Paginator{
		src:     src,
		channel: ch,
		size:    size,
		bounds:  bounds,
		cursor:  bounds.InitialCursor(),
	}
}

// Next returns the next batch of in-range messages in ascending order.
// A failed fetch leaves the cursor in place so the call can be retried.
func (p *Paginator) Next(ctx context.Context) ([]models.Message, error) {
	if p.done {
		return nil, nil
	}

	b, err := NextBatch(ctx, p.src, p.channel, p.cursor, p.size, p.bounds)
	if err != nil {
		return nil, err
	}

	p.batches++
	p.cursor = b.Cursor
	p.done = b.Exhausted
	return b.Messages, nil
}

// Done reports whether the history is exhausted.
func (p *Paginator) Done() bool { return p.done }

// Cursor returns the current cursor.
func (p *Paginator) Cursor() int { return p.cursor }

// Batches returns the number of successful fetches.
func (p *Paginator) Batches() int { return p.batches }
