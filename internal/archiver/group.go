package archiver

import (
	"sort"
	"sync"

	"github.com/blockedby/tg-archiver/internal/models"
)

// ResolveGroup returns the messages of batch that belong to groupID,
// ascending by id. It only looks at the held batch, so a group spanning
// a page boundary comes back incomplete.
func ResolveGroup(groupID int64, trigger models.Message, batch []models.Message) []models.Message {
	var siblings []models.Message
	for _, m := range batch {
		if m.GroupID == groupID {
			siblings = append(siblings, m)
		}
	}
	if len(siblings) == 0 {
		return []models.Message{trigger}
	}

	sort.Slice(siblings, func(i, j int) bool { return siblings[i].ID < siblings[j].ID })
	return siblings
}

// GroupTracker remembers which media groups a run has dispatched.
type GroupTracker struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

// NewGroupTracker creates an empty tracker.
func NewGroupTracker() *GroupTracker {
	return &GroupTracker{seen: make(map[int64]struct{})}
}

// MarkProcessed records groupID and reports whether this call was the
// first for it.
func (g *GroupTracker) MarkProcessed(groupID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[groupID]; ok {
		return false
	}
	g.seen[groupID] = struct{}{}
	return true
}

// Len returns the number of tracked groups.
func (g *GroupTracker) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
