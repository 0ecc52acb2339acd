// Package recorder writes message metadata shards and keeps the per-channel
// download ledger.
package recorder

import (
	"time"

	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
)

// MediaMetadata describes the attachment of an exported message.
type MediaMetadata struct {
	FileName     string     `json:"fileName"`
	Size         int64      `json:"size"`
	DownloadPath *string    `json:"downloadPath"` // relative to the channel dir, null until stored
	DownloadedAt *time.Time `json:"downloadedAt,omitempty"`
	FileExists   bool       `json:"fileExists,omitempty"`
}

// MessageMetadata is the exported record of one message.
type MessageMetadata struct {
	ID           int            `json:"id"`
	Date         *time.Time     `json:"date"`
	Text         string         `json:"text"`
	FromID       int64          `json:"fromId,omitempty"`
	PeerID       int64          `json:"peerId,omitempty"`
	Media        *MediaMetadata `json:"media"`
	Replies      int            `json:"replies"`
	Views        int            `json:"views"`
	Forwards     int            `json:"forwards"`
	EditDate     *time.Time     `json:"editDate"`
	GroupedID    *int64         `json:"groupedId"`
	ReplyToMsgID *int           `json:"replyToMsgId"`
}

// NewMessageMetadata extracts the exported record of msg.
func NewMessageMetadata(msg models.Message) MessageMetadata {
	md := MessageMetadata{
		ID:       msg.ID,
		Text:     msg.Text,
		FromID:   msg.FromID,
		PeerID:   msg.PeerID,
		Replies:  msg.Replies,
		Views:    msg.Views,
		Forwards: msg.Forwards,
		EditDate: msg.EditDate,
	}
	if !msg.Date.IsZero() {
		d := msg.Date.UTC()
		md.Date = &d
	}
	if msg.GroupID != 0 {
		g := msg.GroupID
		md.GroupedID = &g
	}
	if msg.ReplyToID != 0 {
		r := msg.ReplyToID
		md.ReplyToMsgID = &r
	}
	if msg.HasMedia() {
		md.Media = &MediaMetadata{
			FileName: media.FileName(msg.Media, msg.ID, 0),
			Size:     media.Size(msg.Media),
		}
	}
	return md
}

// MarkStored records where the attachment lives on disk.
func (m *MessageMetadata) MarkStored(fileName, relPath string, at time.Time) {
	if m.Media == nil {
		m.Media = &MediaMetadata{}
	}
	if fileName != "" {
		m.Media.FileName = fileName
	}
	p := relPath
	t := at.UTC()
	m.Media.DownloadPath = &p
	m.Media.DownloadedAt = &t
	m.Media.FileExists = true
}
