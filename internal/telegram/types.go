package telegram

import (
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-archiver/internal/downloader"
	"github.com/blockedby/tg-archiver/internal/models"
)

// extractMessages converts a history response into models. Order is
// preserved (newest first). Service and empty entries stay in the page as
// Service placeholders so paging sees the real page size and oldest id.
func extractMessages(res tg.MessagesMessagesClass) []models.Message {
	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}

	out := make([]models.Message, 0, len(raw))
	for _, mc := range raw {
		switch m := mc.(type) {
		case *tg.Message:
			out = append(out, convertMessage(m))
		case *tg.MessageService:
			out = append(out, models.Message{
				ID:      m.ID,
				Date:    time.Unix(int64(m.Date), 0).UTC(),
				PeerID:  peerID(m.PeerID),
				Service: true,
			})
		case *tg.MessageEmpty:
			out = append(out, models.Message{ID: m.ID, Service: true})
		}
	}
	return out
}

// convertMessage maps a raw message onto the archive model.
func convertMessage(m *tg.Message) models.Message {
	msg := models.Message{
		ID:       m.ID,
		Date:     time.Unix(int64(m.Date), 0).UTC(),
		Text:     m.Message,
		FromID:   peerID(m.FromID),
		PeerID:   peerID(m.PeerID),
		Media:    convertMedia(m.Media),
		GroupID:  m.GroupedID,
		Views:    m.Views,
		Forwards: m.Forwards,
		Replies:  m.Replies.Replies,
	}
	if m.EditDate != 0 {
		t := time.Unix(int64(m.EditDate), 0).UTC()
		msg.EditDate = &t
	}
	if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
		msg.ReplyToID = h.ReplyToMsgID
	}
	return msg
}

func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerChannel:
		return v.ChannelID
	default:
		return 0
	}
}

// convertMedia classifies a message attachment. It returns nil for no
// media. Source keeps the raw photo or document for FetchMedia.
func convertMedia(mc tg.MessageMediaClass) models.Media {
	switch v := mc.(type) {
	case nil, *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		if v.Photo == nil {
			return models.Other{Description: "photo"}
		}
		p, ok := v.Photo.AsNotEmpty()
		if !ok {
			return models.Other{Description: "photo"}
		}
		return models.Photo{ID: p.ID, Sizes: photoSizes(p), Source: p}
	case *tg.MessageMediaDocument:
		if v.Document == nil {
			return models.Other{Description: "document"}
		}
		d, ok := v.Document.AsNotEmpty()
		if !ok {
			return models.Other{Description: "document"}
		}
		return convertDocument(d)
	case *tg.MessageMediaWebPage:
		other := models.Other{Description: "webpage"}
		if page, ok := v.Webpage.(*tg.WebPage); ok {
			if page.Document != nil {
				if d, ok := page.Document.AsNotEmpty(); ok {
					other.Size = d.Size
					other.Source = d
				}
			} else if page.Photo != nil {
				if p, ok := page.Photo.AsNotEmpty(); ok {
					other.Size = largestPhotoSize(p)
					other.Source = p
				}
			}
		}
		return other
	case *tg.MessageMediaPoll:
		return models.Other{Description: "poll"}
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return models.Other{Description: "geo"}
	case *tg.MessageMediaContact:
		return models.Other{Description: "contact"}
	default:
		return models.Other{Description: fmt.Sprintf("%T", mc)}
	}
}

func convertDocument(d *tg.Document) models.Media {
	var (
		name    string
		isVideo bool
	)
	for _, a := range d.Attributes {
		switch attr := a.(type) {
		case *tg.DocumentAttributeFilename:
			name = attr.FileName
		case *tg.DocumentAttributeVideo:
			isVideo = true
		}
	}

	if isVideo {
		return models.Video{ID: d.ID, Size: d.Size, FileName: name, MimeType: d.MimeType, Source: d}
	}
	return models.Document{ID: d.ID, Size: d.Size, FileName: name, MimeType: d.MimeType, Source: d}
}

// photoSizes lists the byte size of every downloadable rendition,
// smallest first.
func photoSizes(p *tg.Photo) []int64 {
	var sizes []int64
	for _, s := range p.Sizes {
		if _, size, ok := renditionOf(s); ok {
			sizes = append(sizes, size)
		}
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

func largestPhotoSize(p *tg.Photo) int64 {
	sizes := photoSizes(p)
	if len(sizes) == 0 {
		return 0
	}
	return sizes[len(sizes)-1]
}

// largestThumb returns the type letter of the biggest rendition by area.
func largestThumb(p *tg.Photo) (string, bool) {
	var (
		best     string
		bestArea int
	)
	for _, s := range p.Sizes {
		var typ string
		var area int
		switch v := s.(type) {
		case *tg.PhotoSize:
			typ, area = v.Type, v.W*v.H
		case *tg.PhotoSizeProgressive:
			typ, area = v.Type, v.W*v.H
		default:
			// cached and stripped previews are not fetchable
			continue
		}
		if best == "" || area > bestArea {
			best, bestArea = typ, area
		}
	}
	return best, best != ""
}

func renditionOf(s tg.PhotoSizeClass) (typ string, size int64, ok bool) {
	switch v := s.(type) {
	case *tg.PhotoSize:
		return v.Type, int64(v.Size), true
	case *tg.PhotoSizeProgressive:
		if len(v.Sizes) == 0 {
			return v.Type, 0, true
		}
		return v.Type, int64(v.Sizes[len(v.Sizes)-1]), true
	default:
		return "", 0, false
	}
}

// inputLocation builds the file location of a media attachment.
func inputLocation(m models.Media) (tg.InputFileLocationClass, error) {
	var src any
	switch v := m.(type) {
	case models.Photo:
		src = v.Source
	case models.Video:
		src = v.Source
	case models.Document:
		src = v.Source
	case models.Other:
		src = v.Source
	}

	switch s := src.(type) {
	case *tg.Photo:
		thumb, ok := largestThumb(s)
		if !ok {
			return nil, fmt.Errorf("%w: photo %d has no downloadable size", downloader.ErrUnsupportedMedia, s.ID)
		}
		return &tg.InputPhotoFileLocation{
			ID:            s.ID,
			AccessHash:    s.AccessHash,
			FileReference: s.FileReference,
			ThumbSize:     thumb,
		}, nil
	case *tg.Document:
		return &tg.InputDocumentFileLocation{
			ID:            s.ID,
			AccessHash:    s.AccessHash,
			FileReference: s.FileReference,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", downloader.ErrUnsupportedMedia, m)
	}
}
