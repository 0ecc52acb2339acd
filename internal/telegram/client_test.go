package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-archiver/internal/downloader"
	"github.com/blockedby/tg-archiver/internal/models"
)

func newUnauthorizedClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(NewManager(testConfig(), newTestDB(t)), nil)
}

func TestClient_API_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	api, err := client.API()

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, api)
}

func TestClient_Operations_Unauthorized(t *testing.T) {
	client := newUnauthorizedClient(t)
	ctx := context.Background()

	channel, err := client.ResolveChannel(ctx, "@testchannel")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, channel)

	channel, err = client.ResolveChannel(ctx, "-1001234567")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, channel)

	msgs, err := client.GetMessageBatch(ctx, &models.Channel{ID: 1}, models.BatchRequest{Limit: 10})
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, msgs)

	photo := models.Message{ID: 1, Media: models.Photo{ID: 1, Source: &tg.Photo{ID: 1, Sizes: []tg.PhotoSizeClass{&tg.PhotoSize{Type: "x", W: 10, H: 10, Size: 5}}}}}
	data, err := client.FetchMedia(ctx, photo, nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, data)
}

func TestClient_ResolveChannel_Empty(t *testing.T) {
	_, err := newUnauthorizedClient(t).ResolveChannel(context.Background(), " @ ")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestClient_FetchMedia_Unsupported(t *testing.T) {
	client := newUnauthorizedClient(t)

	// location is checked before the connection
	_, err := client.FetchMedia(context.Background(), models.Message{ID: 5, Media: models.Other{Description: "poll"}}, nil)
	assert.ErrorIs(t, err, downloader.ErrUnsupportedMedia)
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		ref    string
		want   int64
		wantOK bool
	}{
		{"1234567", 1234567, true},
		{"-1001234567", 1234567, true},
		{"-42", 42, true},
		{"0", 0, false},
		{"golang_news", 0, false},
		{"100news", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := parseChannelID(tt.ref)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickChannel(t *testing.T) {
	ch := &tg.Channel{ID: 7, AccessHash: 99, Username: "news", Title: "News"}

	got, err := pickChannel([]tg.ChatClass{&tg.Chat{ID: 1}, ch}, "news")
	require.NoError(t, err)
	assert.Equal(t, &models.Channel{ID: 7, AccessHash: 99, Username: "news", Title: "News"}, toChannel(got))

	_, err = pickChannel(nil, "news")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = pickChannel([]tg.ChatClass{&tg.Chat{ID: 1}}, "group")
	assert.ErrorIs(t, err, ErrNotAChannel)

	_, err = pickChannel([]tg.ChatClass{&tg.ChannelForbidden{ID: 3}}, "private")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestProgressWriter(t *testing.T) {
	var calls [][2]int64
	w := &progressWriter{total: 6, fn: func(downloaded, total int64) error {
		calls = append(calls, [2]int64{downloaded, total})
		return nil
	}}

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte("def"))
	require.NoError(t, err)

	assert.Equal(t, "abcdef", w.buf.String())
	assert.Equal(t, [][2]int64{{3, 6}, {6, 6}}, calls)

	stop := errors.New("cancelled")
	w = &progressWriter{fn: func(int64, int64) error { return stop }}
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, stop)
}
