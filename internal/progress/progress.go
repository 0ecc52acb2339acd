// Package progress carries run progress events from the archiver to any
// number of observers without back-pressure.
package progress

import (
	"sync"
	"time"
)

// EventType classifies progress events
type EventType string

const (
	EventStatus   EventType = "status"   // state change or free-form status text
	EventMessage  EventType = "message"  // a message was processed
	EventFile     EventType = "file"     // per-file download progress
	EventCounters EventType = "counters" // downloaded/skipped/errors changed
	EventOverall  EventType = "overall"  // download manager stats
	EventDone     EventType = "done"     // run finished
)

// Event is one progress update. Optional fields are nil when not part of
// the update.
type Event struct {
	Type         EventType `json:"type"`
	RunID        string    `json:"runId,omitempty"`
	ChannelID    int64     `json:"channelId,omitempty"`
	State        string    `json:"state,omitempty"`
	Status       string    `json:"status,omitempty"`
	Total        *int      `json:"total,omitempty"`
	Current      *int      `json:"current,omitempty"`
	CurrentFile  string    `json:"currentFile,omitempty"`
	FileProgress *float64  `json:"fileProgress,omitempty"` // percent
	Downloaded   *int      `json:"downloaded,omitempty"`
	Skipped      *int      `json:"skipped,omitempty"`
	Errors       *int      `json:"errors,omitempty"`
	Speed        *float64  `json:"speed,omitempty"` // bytes/sec
	Active       *int      `json:"activeDownloads,omitempty"`
	Queued       *int      `json:"queueLength,omitempty"`
	Time         time.Time `json:"time"`
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber that has room.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Discard drops all events.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

// Func adapts a function to Publisher.
type Func func(Event)

// Publish implements Publisher.
func (f Func) Publish(ev Event) { f(ev) }

var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = Discard{}
	_ Publisher = Func(nil)
)
