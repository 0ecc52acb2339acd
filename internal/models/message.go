// Package models defines the message and media types shared across the archiver.
package models

import (
	"time"
)

// Channel identifies a remote channel whose history is archived
type Channel struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"-"`
	Username   string `json:"username,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Message is one unit of channel history. Immutable once fetched.
type Message struct {
	ID        int        // unique, increasing per channel
	Date      time.Time  // creation timestamp
	EditDate  *time.Time // last edit, nil if never edited
	Text      string     // message body
	FromID    int64      // sender peer id (0 if unknown)
	PeerID    int64      // peer the message was posted to
	Media     Media      // attached media, nil if none
	GroupID   int64      // media group id, 0 if not grouped
	ReplyToID int        // replied message id, 0 if none
	Views     int
	Forwards  int
	Replies   int
	Service   bool // service or deleted entry, counted for paging only
}

// HasMedia reports whether the message carries an attachment.
func (m Message) HasMedia() bool {
	return m.Media != nil
}

// IsGrouped reports whether the message belongs to a media group.
func (m Message) IsGrouped() bool {
	return m.GroupID != 0
}

// BatchRequest holds history paging parameters.
// OffsetID is exclusive: only messages with id < OffsetID are returned (0 = newest).
// MinID and MaxID are exclusive bounds, 0 means unbounded.
type BatchRequest struct {
	Limit    int
	OffsetID int
	MinID    int
	MaxID    int
}

// IDRange is an inclusive message id range.
type IDRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Extend widens the range to include id.
func (r *IDRange) Extend(id int64) {
	if id < r.Min {
		r.Min = id
	}
	if id > r.Max {
		r.Max = id
	}
}

// RangeOf returns the id range covering ids, or nil for an empty slice.
func RangeOf(ids []int64) *IDRange {
	if len(ids) == 0 {
		return nil
	}
	r := &IDRange{Min: ids[0], Max: ids[0]}
	for _, id := range ids[1:] {
		r.Extend(id)
	}
	return r
}
