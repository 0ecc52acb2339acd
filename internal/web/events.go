package web

import (
	"encoding/json"

	"github.com/blockedby/tg-archiver/internal/progress"
)

// WebSocket event types
const (
	EventProgress = "archive.progress"
	EventRunStart = "archive.start"
	EventRunEnd   = "archive.end"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressEvent wraps a progress event for websocket clients. Run start and
// end get their own types so clients can refresh run lists.
func ProgressEvent(ev progress.Event) []byte {
	typ := EventProgress
	switch {
	case ev.Type == progress.EventDone:
		typ = EventRunEnd
	case ev.Type == progress.EventStatus && ev.State == "initializing":
		typ = EventRunStart
	}

	b, _ := json.Marshal(WSEvent{Type: typ, Payload: ev})
	return b
}
