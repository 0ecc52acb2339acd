// Package media classifies message attachments and resolves the file names
// they are archived under.
package media

import (
	"fmt"
	"strings"

	"github.com/blockedby/tg-archiver/internal/models"
)

// Kind returns the classification of m. A nil media is KindOther.
func Kind(m models.Media) models.MediaKind {
	if m == nil {
		return models.KindOther
	}
	return m.Kind()
}

// Size returns the byte size of m, or 0 when it cannot be determined.
// For photos the largest rendition is used.
func Size(m models.Media) int64 {
	switch v := m.(type) {
	case models.Photo:
		var largest int64
		for _, s := range v.Sizes {
			if s > largest {
				largest = s
			}
		}
		return largest
	case models.Video:
		return v.Size
	case models.Document:
		return v.Size
	case models.Other:
		return v.Size
	default:
		return 0
	}
}

// SizeKB returns Size(m) in kibibytes.
func SizeKB(m models.Media) float64 {
	return float64(Size(m)) / 1024
}

// FileName returns the archive file name for m attached to message msgID.
// groupIndex is the 1-based position inside a media group, 0 when the
// message is not grouped. Names are deterministic so that re-runs find
// files written by earlier runs.
func FileName(m models.Media, msgID int, groupIndex int) string {
	suffix := ""
	if groupIndex > 0 {
		suffix = fmt.Sprintf("_%d", groupIndex)
	}

	switch v := m.(type) {
	case models.Photo:
		return fmt.Sprintf("photo_%d%s.jpg", msgID, suffix)
	case models.Video:
		if name := ResolveOriginal(v.FileName, v.MimeType, groupIndex); name != "" {
			return name
		}
		return fmt.Sprintf("video_%d%s.mp4", msgID, suffix)
	case models.Document:
		if name := ResolveOriginal(v.FileName, v.MimeType, groupIndex); name != "" {
			return name
		}
		ext := ExtensionFromMIME(v.MimeType)
		if ext == "" {
			ext = "bin"
		}
		return fmt.Sprintf("document_%d%s.%s", msgID, suffix, ext)
	default:
		return fmt.Sprintf("file_%d%s", msgID, suffix)
	}
}

// ResolveOriginal turns an uploader-supplied file name into a safe name
// with a usable extension. It returns "" when original is blank.
func ResolveOriginal(original, mimeType string, groupIndex int) string {
	original = strings.TrimSpace(original)
	if original == "" {
		return ""
	}

	name := Sanitize(original)
	ext := ExtensionFromFileName(name)
	base := name
	if ext != "" {
		base = name[:strings.LastIndex(name, ".")]
	} else {
		if mimeExt := ExtensionFromMIME(mimeType); mimeExt != "" && mimeExt != "bin" {
			ext = mimeExt
		} else {
			ext = InferExtension(name, mimeType)
		}
	}

	if groupIndex > 0 {
		base = fmt.Sprintf("%s_%d", base, groupIndex)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Subdir returns the archive sub-directory for the given kind.
func Subdir(kind models.MediaKind) string {
	return string(models.DownloadTypeFor(kind))
}
