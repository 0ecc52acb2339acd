package archiver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
)

var errRemote = errors.New("remote unavailable")

// fakeRemote serves a fixed history newest-first the way the messaging
// client does.
type fakeRemote struct {
	mu       sync.Mutex
	channel  models.Channel
	messages map[int]models.Message
	calls    []models.BatchRequest
	failures int // fail this many calls before serving
	ignore   bool
}

func newFakeRemote(channelID int64, msgs ...models.Message) *fakeRemote {
	r := &fakeRemote{
		channel:  models.Channel{ID: channelID, Username: "archive_test"},
		messages: make(map[int]models.Message),
	}
	for _, m := range msgs {
		r.messages[m.ID] = m
	}
	return r
}

// textHistory returns messages 1..n without media.
func textHistory(n int) []models.Message {
	msgs := make([]models.Message, 0, n)
	for id := 1; id <= n; id++ {
		msgs = append(msgs, models.Message{ID: id, Date: time.Unix(int64(id), 0).UTC(), Text: fmt.Sprintf("post %d", id)})
	}
	return msgs
}

func (r *fakeRemote) ResolveChannel(_ context.Context, ref string) (*models.Channel, error) {
	if ref == "missing" {
		return nil, errors.New("channel not found")
	}
	ch := r.channel
	return &ch, nil
}

func (r *fakeRemote) GetMessageBatch(ctx context.Context, _ *models.Channel, req models.BatchRequest) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if r.failures > 0 {
		r.failures--
		return nil, errRemote
	}

	ids := make([]int, 0, len(r.messages))
	for id := range r.messages {
		if !r.ignore && req.OffsetID > 0 && id >= req.OffsetID {
			continue
		}
		if req.MinID > 0 && id <= req.MinID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	if len(ids) > req.Limit {
		ids = ids[:req.Limit]
	}

	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.messages[id])
	}
	return out, nil
}

func (r *fakeRemote) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeFetcher returns a deterministic payload of the declared size.
type fakeFetcher struct {
	mu      sync.Mutex
	fetched map[int]int
	fail    map[int]error
	block   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fetched: make(map[int]int), fail: make(map[int]error)}
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, msg models.Message, progress func(downloaded, total int64) error) ([]byte, error) {
	f.mu.Lock()
	f.fetched[msg.ID]++
	err := f.fail[msg.ID]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	size := media.Size(msg.Media)
	if size == 0 {
		size = 16
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(msg.ID)
	}
	if progress != nil {
		if err := progress(size, size); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetched {
		n += c
	}
	return n
}

func photoMsg(id int, size int64) models.Message {
	return models.Message{ID: id, Date: time.Unix(int64(id), 0).UTC(), Media: models.Photo{ID: int64(id), Sizes: []int64{size / 4, size}}}
}

func docMsg(id int, name string, size int64) models.Message {
	return models.Message{ID: id, Date: time.Unix(int64(id), 0).UTC(), Media: models.Document{ID: int64(id), FileName: name, Size: size, MimeType: "application/pdf"}}
}
