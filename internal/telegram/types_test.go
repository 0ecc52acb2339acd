package telegram

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-archiver/internal/downloader"
	"github.com/blockedby/tg-archiver/internal/models"
)

func testPhoto() *tg.Photo {
	return &tg.Photo{
		ID:            10,
		AccessHash:    20,
		FileReference: []byte("ref"),
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoStrippedSize{Type: "i", Bytes: []byte{1}},
			&tg.PhotoSize{Type: "m", W: 320, H: 240, Size: 9000},
			&tg.PhotoSizeProgressive{Type: "y", W: 1280, H: 960, Sizes: []int{10000, 40000, 80000}},
			&tg.PhotoSize{Type: "s", W: 90, H: 60, Size: 1500},
		},
	}
}

func TestConvertMessage(t *testing.T) {
	raw := &tg.Message{
		ID:        42,
		Date:      1700000000,
		EditDate:  1700000500,
		Message:   "release notes",
		FromID:    &tg.PeerUser{UserID: 7},
		PeerID:    &tg.PeerChannel{ChannelID: 99},
		GroupedID: 555,
		ReplyTo:   &tg.MessageReplyHeader{ReplyToMsgID: 41},
		Views:     1000,
		Forwards:  12,
		Replies:   tg.MessageReplies{Replies: 3},
	}

	got := convertMessage(raw)

	assert.Equal(t, 42, got.ID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.Date)
	require.NotNil(t, got.EditDate)
	assert.Equal(t, time.Unix(1700000500, 0).UTC(), *got.EditDate)
	assert.Equal(t, "release notes", got.Text)
	assert.Equal(t, int64(7), got.FromID)
	assert.Equal(t, int64(99), got.PeerID)
	assert.Equal(t, int64(555), got.GroupID)
	assert.Equal(t, 41, got.ReplyToID)
	assert.Equal(t, 1000, got.Views)
	assert.Equal(t, 12, got.Forwards)
	assert.Equal(t, 3, got.Replies)
	assert.Nil(t, got.Media)

	plain := convertMessage(&tg.Message{ID: 1, Date: 1})
	assert.Nil(t, plain.EditDate)
	assert.False(t, plain.IsGrouped())
	assert.Zero(t, plain.FromID)
}

func TestConvertMedia(t *testing.T) {
	doc := func(attrs ...tg.DocumentAttributeClass) *tg.Document {
		return &tg.Document{ID: 3, AccessHash: 4, Size: 2048, MimeType: "video/mp4", Attributes: attrs}
	}

	t.Run("photo", func(t *testing.T) {
		m := convertMedia(&tg.MessageMediaPhoto{Photo: testPhoto()})
		p, ok := m.(models.Photo)
		require.True(t, ok)
		assert.Equal(t, int64(10), p.ID)
		assert.Equal(t, []int64{1500, 9000, 80000}, p.Sizes)
	})

	t.Run("video", func(t *testing.T) {
		m := convertMedia(&tg.MessageMediaDocument{Document: doc(&tg.DocumentAttributeVideo{W: 1, H: 1}, &tg.DocumentAttributeFilename{FileName: "clip.mp4"})})
		v, ok := m.(models.Video)
		require.True(t, ok)
		assert.Equal(t, "clip.mp4", v.FileName)
		assert.Equal(t, int64(2048), v.Size)
	})

	t.Run("document", func(t *testing.T) {
		m := convertMedia(&tg.MessageMediaDocument{Document: doc(&tg.DocumentAttributeFilename{FileName: "report.pdf"})})
		d, ok := m.(models.Document)
		require.True(t, ok)
		assert.Equal(t, "report.pdf", d.FileName)
		assert.Equal(t, "video/mp4", d.MimeType)
	})

	t.Run("empty variants", func(t *testing.T) {
		assert.Nil(t, convertMedia(nil))
		assert.Nil(t, convertMedia(&tg.MessageMediaEmpty{}))
		assert.Equal(t, models.Other{Description: "photo"}, convertMedia(&tg.MessageMediaPhoto{Photo: &tg.PhotoEmpty{ID: 1}}))
		assert.Equal(t, models.Other{Description: "document"}, convertMedia(&tg.MessageMediaDocument{}))
	})

	t.Run("webpage with document", func(t *testing.T) {
		d := doc()
		m := convertMedia(&tg.MessageMediaWebPage{Webpage: &tg.WebPage{Document: d}})
		o, ok := m.(models.Other)
		require.True(t, ok)
		assert.Equal(t, int64(2048), o.Size)
		assert.Same(t, d, o.Source)
	})

	t.Run("others", func(t *testing.T) {
		assert.Equal(t, models.Other{Description: "poll"}, convertMedia(&tg.MessageMediaPoll{}))
		assert.Equal(t, models.Other{Description: "geo"}, convertMedia(&tg.MessageMediaGeo{}))
		assert.Equal(t, models.Other{Description: "contact"}, convertMedia(&tg.MessageMediaContact{}))
	})
}

func TestExtractMessages(t *testing.T) {
	res := &tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{
			&tg.Message{ID: 4, Message: "c"},
			&tg.MessageService{ID: 3, Date: 1700000000, PeerID: &tg.PeerChannel{ChannelID: 99}, Action: &tg.MessageActionPinMessage{}},
			&tg.MessageEmpty{ID: 2},
			&tg.Message{ID: 1, Message: "a"},
		},
	}

	got := extractMessages(res)
	require.Len(t, got, 4, "every entry of the page is kept")
	assert.Equal(t, []int{4, 3, 2, 1}, []int{got[0].ID, got[1].ID, got[2].ID, got[3].ID})

	assert.False(t, got[0].Service)
	assert.True(t, got[1].Service)
	assert.Equal(t, int64(99), got[1].PeerID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got[1].Date)
	assert.False(t, got[1].HasMedia())
	assert.True(t, got[2].Service)
	assert.False(t, got[3].Service)

	slice := extractMessages(&tg.MessagesMessagesSlice{Messages: []tg.MessageClass{&tg.Message{ID: 9}}})
	assert.Len(t, slice, 1)
	assert.Empty(t, extractMessages(&tg.MessagesMessagesNotModified{}))
}

func TestExtractMessages_FullPageWithServiceEntry(t *testing.T) {
	page := make([]tg.MessageClass, 0, 100)
	for id := 1000; id > 900; id-- {
		if id == 950 {
			page = append(page, &tg.MessageService{ID: id, Action: &tg.MessageActionChatEditPhoto{}})
			continue
		}
		page = append(page, &tg.Message{ID: id})
	}

	got := extractMessages(&tg.MessagesChannelMessages{Messages: page})
	require.Len(t, got, 100)
	assert.Equal(t, 901, got[len(got)-1].ID)

	service := 0
	for _, m := range got {
		if m.Service {
			service++
			assert.Equal(t, 950, m.ID)
		}
	}
	assert.Equal(t, 1, service)
}

func TestInputLocation(t *testing.T) {
	loc, err := inputLocation(models.Photo{Source: testPhoto()})
	require.NoError(t, err)
	assert.Equal(t, &tg.InputPhotoFileLocation{ID: 10, AccessHash: 20, FileReference: []byte("ref"), ThumbSize: "y"}, loc)

	d := &tg.Document{ID: 3, AccessHash: 4, FileReference: []byte("r")}
	loc, err = inputLocation(models.Document{Source: d})
	require.NoError(t, err)
	assert.Equal(t, &tg.InputDocumentFileLocation{ID: 3, AccessHash: 4, FileReference: []byte("r")}, loc)

	loc, err = inputLocation(models.Video{Source: d})
	require.NoError(t, err)
	assert.IsType(t, &tg.InputDocumentFileLocation{}, loc)

	_, err = inputLocation(models.Photo{Source: &tg.Photo{Sizes: []tg.PhotoSizeClass{&tg.PhotoStrippedSize{Type: "i"}}}})
	assert.ErrorIs(t, err, downloader.ErrUnsupportedMedia)

	_, err = inputLocation(models.Other{Description: "poll"})
	assert.ErrorIs(t, err, downloader.ErrUnsupportedMedia)

	_, err = inputLocation(nil)
	assert.ErrorIs(t, err, downloader.ErrUnsupportedMedia)
}
