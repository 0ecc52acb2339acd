package media

import (
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	validExt    = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
	alnum       = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// Sanitize replaces characters that are unsafe in file names on common
// platforms and neutralises path traversal.
func Sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, "..", "_")
	if strings.HasPrefix(name, ".") {
		name = "_" + name[1:]
	}
	return strings.TrimSpace(name)
}

// ExtensionFromFileName returns the lower-cased extension of name, or ""
// when it has none or the extension is not 1-10 alphanumerics.
func ExtensionFromFileName(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot == -1 || dot == len(name)-1 {
		return ""
	}
	ext := strings.ToLower(name[dot+1:])
	if !validExt.MatchString(ext) {
		return ""
	}
	return ext
}

// ExtensionFromMIME maps a MIME type to a file extension. It returns ""
// for an empty type and "bin" when nothing better is known.
func ExtensionFromMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return ""
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}

	parts := strings.Split(mimeType, "/")
	if len(parts) == 2 {
		kind, subtype := parts[0], parts[1]
		for _, p := range subtypePatterns {
			if strings.Contains(subtype, p.contains) {
				return p.ext
			}
		}
		if kind == "text" && strings.HasPrefix(subtype, "x-") {
			return subtype[2:]
		}
	}

	if known := mimetype.Lookup(mimeType); known != nil && known.Extension() != "" {
		return strings.TrimPrefix(known.Extension(), ".")
	}

	if len(parts) == 2 && len(parts[1]) <= 5 && alnum.MatchString(parts[1]) {
		return parts[1]
	}
	return "bin"
}

// InferExtension guesses an extension from well-known name fragments and,
// failing that, from the MIME family. Returns "" when nothing fits.
func InferExtension(name, mimeType string) string {
	lower := strings.ToLower(name)
	if lower == "" {
		return ""
	}

	for _, p := range namePatterns {
		if lower == p.contains {
			return p.ext
		}
	}
	for _, p := range namePatterns {
		if strings.Contains(lower, p.contains) {
			return p.ext
		}
	}

	mimeType = strings.ToLower(mimeType)
	switch {
	case mimeType == "":
		return ""
	case strings.HasPrefix(mimeType, "text/"):
		return "txt"
	}
	for _, p := range mimeFamilies {
		if strings.Contains(mimeType, p.contains) {
			return p.ext
		}
	}
	return ""
}

type pattern struct {
	contains string
	ext      string
}

// order matters: first match wins
var subtypePatterns = []pattern{
	{"zip", "zip"},
	{"rar", "rar"},
	{"7z", "7z"},
	{"gzip", "gz"},
	{"pdf", "pdf"},
	{"json", "json"},
	{"xml", "xml"},
	{"html", "html"},
	{"css", "css"},
	{"javascript", "js"},
}

var namePatterns = []pattern{
	{"readme", "txt"},
	{"changelog", "txt"},
	{"license", "txt"},
	{"makefile", "txt"},
	{"dockerfile", "txt"},
	{"configuration", "conf"},
	{"config", "conf"},
	{"settings", "conf"},
	{"database", "db"},
	{"data", "dat"},
	{"backup", "bak"},
	{"cache", "cache"},
	{"script", "sh"},
	{"install", "sh"},
	{"setup", "sh"},
	{"run", "sh"},
}

var mimeFamilies = []pattern{
	{"json", "json"},
	{"xml", "xml"},
	{"zip", "zip"},
	{"rar", "rar"},
	{"tar", "tar"},
	{"gzip", "gz"},
	{"executable", "exe"},
	{"script", "sh"},
}

var mimeExtensions = map[string]string{
	// images
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/svg+xml": "svg",
	"image/tiff":    "tiff",
	"image/x-icon":  "ico",

	// video
	"video/mp4":       "mp4",
	"video/avi":       "avi",
	"video/mkv":       "mkv",
	"video/mov":       "mov",
	"video/wmv":       "wmv",
	"video/webm":      "webm",
	"video/flv":       "flv",
	"video/3gp":       "3gp",
	"video/quicktime": "mov",
	"video/x-msvideo": "avi",

	// audio
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/wav":  "wav",
	"audio/flac": "flac",
	"audio/aac":  "aac",
	"audio/ogg":  "ogg",
	"audio/wma":  "wma",
	"audio/m4a":  "m4a",
	"audio/opus": "opus",

	// documents
	"application/pdf":  "pdf",
	"text/plain":       "txt",
	"application/json": "json",
	"application/xml":  "xml",
	"text/xml":         "xml",
	"text/csv":         "csv",
	"text/rtf":         "rtf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/msword":                      "doc",
	"application/vnd.ms-excel":                "xls",
	"application/vnd.ms-powerpoint":           "ppt",
	"application/vnd.oasis.opendocument.text": "odt",
	"application/vnd.oasis.opendocument.spreadsheet":  "ods",
	"application/vnd.oasis.opendocument.presentation": "odp",

	// archives
	"application/zip":              "zip",
	"application/rar":              "rar",
	"application/x-rar":            "rar",
	"application/x-rar-compressed": "rar",
	"application/7z":               "7z",
	"application/x-7z-compressed":  "7z",
	"application/gzip":             "gz",
	"application/x-gzip":           "gz",
	"application/x-tar":            "tar",
	"application/x-bzip2":          "bz2",
	"application/x-xz":             "xz",

	// source code
	"text/x-python":          "py",
	"text/x-java-source":     "java",
	"text/x-c":               "c",
	"text/x-c++":             "cpp",
	"text/x-csharp":          "cs",
	"text/javascript":        "js",
	"application/javascript": "js",
	"text/typescript":        "ts",
	"text/x-php":             "php",
	"text/x-ruby":            "rb",
	"text/x-perl":            "pl",
	"text/x-go":              "go",
	"text/x-rust":            "rs",
	"text/x-kotlin":          "kt",
	"text/x-swift":           "swift",

	// web
	"text/html":             "html",
	"text/css":              "css",
	"application/xhtml+xml": "xhtml",
	"application/rss+xml":   "rss",

	// executables and packages
	"application/x-executable":                   "exe",
	"application/x-msdos-program":                "exe",
	"application/x-msdownload":                   "exe",
	"application/vnd.microsoft.portable-executable": "exe",
	"application/x-deb":                          "deb",
	"application/x-rpm":                          "rpm",
	"application/vnd.android.package-archive":    "apk",
	"application/x-apple-diskimage":              "dmg",
	"application/x-ms-dos-executable":            "exe",

	// databases and config
	"application/x-sqlite3": "sqlite",
	"application/vnd.sqlite3": "sqlite",
	"application/toml":      "toml",
	"application/x-yaml":    "yaml",
	"text/yaml":             "yaml",
	"application/x-ini":     "ini",

	// fonts
	"font/ttf":   "ttf",
	"font/otf":   "otf",
	"font/woff":  "woff",
	"font/woff2": "woff2",

	// misc
	"application/epub+zip":             "epub",
	"application/x-shockwave-flash":    "swf",
	"application/vnd.adobe.flash.movie": "swf",
	"application/x-iso9660-image":      "iso",
	"application/octet-stream":         "bin",
}
