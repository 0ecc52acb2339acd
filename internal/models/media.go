package models

// MediaKind is the coarse media classification.
type MediaKind string

// Media kinds.
const (
	KindPhoto    MediaKind = "photo"
	KindVideo    MediaKind = "video"
	KindDocument MediaKind = "document"
	KindOther    MediaKind = "other"
)

// Media is the attachment of a message. It is a closed set of variants:
// Photo, Video, Document and Other.
type Media interface {
	Kind() MediaKind
	isMedia()
}

// Photo is a picture attachment. Sizes holds the byte size of every
// available rendition, smallest first; zero means unknown.
type Photo struct {
	ID     int64
	Sizes  []int64
	Source any // remote file handle, opaque to the archiver
}

// Video is a video attachment.
type Video struct {
	ID       int64
	Size     int64
	FileName string
	MimeType string
	Source   any
}

// Document is a generic file attachment.
type Document struct {
	ID       int64
	Size     int64
	FileName string
	MimeType string
	Source   any
}

// Other covers attachments without a first-class file (web pages, polls,
// geo points). Size is non-zero only when an embedded document is known.
type Other struct {
	Description string
	Size        int64
	Source      any
}

func (Photo) Kind() MediaKind    { return KindPhoto }
func (Video) Kind() MediaKind    { return KindVideo }
func (Document) Kind() MediaKind { return KindDocument }
func (Other) Kind() MediaKind    { return KindOther }

func (Photo) isMedia()    {}
func (Video) isMedia()    {}
func (Document) isMedia() {}
func (Other) isMedia()    {}

// DownloadType is a user-selectable media category. Each maps to one
// sub-directory of a channel archive.
type DownloadType string

// Download types.
const (
	TypeImages    DownloadType = "images"
	TypeVideos    DownloadType = "videos"
	TypeDocuments DownloadType = "documents"
	TypeOthers    DownloadType = "others"
)

// AllDownloadTypes lists every download type in layout order.
var AllDownloadTypes = []DownloadType{TypeImages, TypeVideos, TypeDocuments, TypeOthers}

// DownloadTypeFor maps a media kind to its download type.
func DownloadTypeFor(kind MediaKind) DownloadType {
	switch kind {
	case KindPhoto:
		return TypeImages
	case KindVideo:
		return TypeVideos
	case KindDocument:
		return TypeDocuments
	default:
		return TypeOthers
	}
}

// Valid reports whether t is a known download type.
func (t DownloadType) Valid() bool {
	for _, known := range AllDownloadTypes {
		if t == known {
			return true
		}
	}
	return false
}
