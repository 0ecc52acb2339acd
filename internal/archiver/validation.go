package archiver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blockedby/tg-archiver/internal/models"
)

// errors
var (
	ErrAlreadyRunning    = errors.New("an archive run is already active for this channel")
	ErrRunNotFound       = errors.New("archive run not found")
	ErrChannelUnresolved = errors.New("cannot resolve channel")
	ErrChannelRequired   = errors.New("channel is required")
	ErrPathRequired      = errors.New("download path is required")
	ErrInvalidType       = errors.New("unknown download type")
	ErrInvalidRange      = errors.New("start message id must not exceed end message id")
	ErrNegativeMessageID = errors.New("message ids must be non-negative")
	ErrInvalidFilterMode = errors.New("filter mode must be include or exclude")
	ErrInvalidSizeBounds = errors.New("min file size must not exceed max file size")
	ErrNegativeSize      = errors.New("file size bounds must be non-negative")
	ErrInvalidBatchSize  = errors.New("batch size must be between 0 and 100")
)

var validationSentinels = []error{
	ErrChannelRequired, ErrPathRequired, ErrInvalidType, ErrInvalidRange, ErrNegativeMessageID,
	ErrInvalidFilterMode, ErrInvalidSizeBounds, ErrNegativeSize, ErrInvalidBatchSize,
}

// IsValidationError reports whether err comes from options validation.
func IsValidationError(err error) bool {
	for _, s := range validationSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// Options configures one archive run.
type Options struct {
	// Channel - username (with or without @), t.me link or numeric id.
	Channel string `json:"channel" yaml:"channel"`

	// DownloadTypes - media categories to store. Empty stores metadata only.
	DownloadTypes []models.DownloadType `json:"downloadTypes" yaml:"download_types"`

	// StartMessageID and EndMessageID bound the run inclusively, 0 = unbounded.
	StartMessageID int `json:"startMessageId,omitempty" yaml:"start_message_id"`
	EndMessageID   int `json:"endMessageId,omitempty" yaml:"end_message_id"`

	DownloadPath string `json:"downloadPath" yaml:"download_path"`

	// FilenameFilter - keyword alternatives separated by ',' or '|'.
	FilenameFilter string     `json:"filenameFilter,omitempty" yaml:"filename_filter"`
	FilterMode     FilterMode `json:"filterMode,omitempty" yaml:"filter_mode"`

	// MinFileSize and MaxFileSize are in KB, 0 = unbounded.
	MinFileSize float64 `json:"minFileSize,omitempty" yaml:"min_file_size"`
	MaxFileSize float64 `json:"maxFileSize,omitempty" yaml:"max_file_size"`

	BatchSize int `json:"batchSize,omitempty" yaml:"batch_size"`
}

// Normalize trims the channel reference and fills the filter mode.
func (o *Options) Normalize() {
	o.Channel = NormalizeChannel(o.Channel)
	if o.FilterMode == "" {
		o.FilterMode = FilterInclude
	}
	o.FilenameFilter = strings.TrimSpace(o.FilenameFilter)
}

// Validate performs basic validation of the options.
// It does not check that the channel exists (that requires a network call).
func (o Options) Validate() error {
	if NormalizeChannel(o.Channel) == "" {
		return ErrChannelRequired
	}
	if strings.TrimSpace(o.DownloadPath) == "" {
		return ErrPathRequired
	}
	for _, t := range o.DownloadTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidType, t)
		}
	}
	if o.StartMessageID < 0 || o.EndMessageID < 0 {
		return ErrNegativeMessageID
	}
	if o.StartMessageID > 0 && o.EndMessageID > 0 && o.StartMessageID > o.EndMessageID {
		return ErrInvalidRange
	}
	if !o.FilterMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFilterMode, o.FilterMode)
	}
	if o.MinFileSize < 0 || o.MaxFileSize < 0 {
		return ErrNegativeSize
	}
	if o.MinFileSize > 0 && o.MaxFileSize > 0 && o.MinFileSize > o.MaxFileSize {
		return ErrInvalidSizeBounds
	}
	if o.BatchSize < 0 || o.BatchSize > DefaultBatchSize {
		return ErrInvalidBatchSize
	}
	return nil
}

// NormalizeChannel strips '@', t.me prefixes and surrounding blanks.
func NormalizeChannel(ref string) string {
	ref = strings.TrimSpace(ref)
	for _, p := range []string{"https://", "http://", "t.me/", "telegram.me/"} {
		ref = strings.TrimPrefix(ref, p)
	}
	ref = strings.TrimPrefix(ref, "@")
	return strings.TrimSuffix(ref, "/")
}

// ArchiveRequest represents a request to start an archive run
type ArchiveRequest struct {
	Channel        string   `json:"channel"`
	DownloadTypes  []string `json:"downloadTypes,omitempty"`
	StartMessageID int      `json:"startMessageId,omitempty"`
	EndMessageID   int      `json:"endMessageId,omitempty"`
	DownloadPath   string   `json:"downloadPath,omitempty"`
	FilenameFilter string   `json:"filenameFilter,omitempty"`
	FilterMode     string   `json:"filterMode,omitempty"`
	MinFileSize    float64  `json:"minFileSize,omitempty"`
	MaxFileSize    float64  `json:"maxFileSize,omitempty"`
	BatchSize      int      `json:"batchSize,omitempty"`
}

// Options converts the request, using defaultPath when no path is given
// and every download type when none is given.
func (r ArchiveRequest) Options(defaultPath string) (Options, error) {
	opts := Options{
		Channel:        r.Channel,
		StartMessageID: r.StartMessageID,
		EndMessageID:   r.EndMessageID,
		DownloadPath:   r.DownloadPath,
		FilenameFilter: r.FilenameFilter,
		FilterMode:     FilterMode(strings.ToLower(strings.TrimSpace(r.FilterMode))),
		MinFileSize:    r.MinFileSize,
		MaxFileSize:    r.MaxFileSize,
		BatchSize:      r.BatchSize,
	}
	if opts.DownloadPath == "" {
		opts.DownloadPath = defaultPath
	}

	types, err := ParseDownloadTypes(r.DownloadTypes)
	if err != nil {
		return Options{}, err
	}
	opts.DownloadTypes = types

	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// ParseDownloadTypes converts names to download types. An empty list
// selects every type.
func ParseDownloadTypes(names []string) ([]models.DownloadType, error) {
	if len(names) == 0 {
		return append([]models.DownloadType(nil), models.AllDownloadTypes...), nil
	}

	seen := make(map[models.DownloadType]bool, len(names))
	out := make([]models.DownloadType, 0, len(names))
	for _, n := range names {
		t := models.DownloadType(strings.ToLower(strings.TrimSpace(n)))
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidType, n)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}
