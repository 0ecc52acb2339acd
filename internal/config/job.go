package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/blockedby/tg-archiver/internal/archiver"
)

var ErrNoRuns = errors.New("job file lists no runs")

// JobFile is a YAML batch of archive runs. Every run inherits the fields
// it leaves empty from Defaults.
//
//	defaults:
//	  download_path: ./downloads
//	  download_types: [images, documents]
//	runs:
//	  - channel: "@golang_news"
//	    start_message_id: 100
type JobFile struct {
	Defaults archiver.Options   `yaml:"defaults"`
	Runs     []archiver.Options `yaml:"runs"`
}

// LoadJobFile reads, merges and validates the job file at path.
func LoadJobFile(path string) ([]archiver.Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return ParseJobFile(b)
}

// ParseJobFile parses a job file. The returned options are normalized and
// valid; the first invalid run aborts parsing.
func ParseJobFile(b []byte) ([]archiver.Options, error) {
	var jf JobFile
	if err := yaml.Unmarshal(b, &jf); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if len(jf.Runs) == 0 {
		return nil, ErrNoRuns
	}

	d := jf.Defaults
	out := make([]archiver.Options, 0, len(jf.Runs))
	for i, r := range jf.Runs {
		opts := archiver.Options{
			Channel:        r.Channel,
			DownloadTypes:  zeroOr(r.DownloadTypes, d.DownloadTypes),
			StartMessageID: zeroOr(r.StartMessageID, d.StartMessageID),
			EndMessageID:   zeroOr(r.EndMessageID, d.EndMessageID),
			DownloadPath:   zeroOr(r.DownloadPath, d.DownloadPath),
			FilenameFilter: zeroOr(r.FilenameFilter, d.FilenameFilter),
			FilterMode:     zeroOr(r.FilterMode, d.FilterMode),
			MinFileSize:    zeroOr(r.MinFileSize, d.MinFileSize),
			MaxFileSize:    zeroOr(r.MaxFileSize, d.MaxFileSize),
			BatchSize:      zeroOr(r.BatchSize, d.BatchSize),
		}
		opts.Normalize()
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("run %d (%s): %w", i+1, r.Channel, err)
		}
		out = append(out, opts)
	}
	return out, nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}
	return v
}
