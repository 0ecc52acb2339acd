package archiver

import (
	"strings"

	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
)

// FilterMode selects whether keyword matches are kept or dropped.
type FilterMode string

// filter modes
const (
	FilterInclude FilterMode = "include"
	FilterExclude FilterMode = "exclude"
)

// Valid reports whether m is a known mode. Empty means include.
func (m FilterMode) Valid() bool {
	return m == "" || m == FilterInclude || m == FilterExclude
}

// Criteria decides whether a message takes part in a run.
// Size bounds are in KB and ignored when <= 0.
type Criteria struct {
	Keywords  string
	Mode      FilterMode
	MinSizeKB float64
	MaxSizeKB float64

	alternatives []string
}

// NewCriteria builds Criteria with the keyword spec parsed once.
func NewCriteria(keywords string, mode FilterMode, minKB, maxKB float64) Criteria {
	return Criteria{
		Keywords:     keywords,
		Mode:         mode,
		MinSizeKB:    minKB,
		MaxSizeKB:    maxKB,
		alternatives: ParseKeywords(keywords),
	}
}

// ParseKeywords splits a keyword spec on ',' and '|' into lower-cased
// alternatives, dropping blanks.
func ParseKeywords(spec string) []string {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == '|'
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ShouldInclude reports whether msg passes both the keyword and the size
// predicate.
func (c Criteria) ShouldInclude(msg models.Message) bool {
	return c.MatchesKeywords(msg) && c.MatchesSize(msg)
}

// MatchesKeywords applies the keyword predicate with the configured mode.
// A blank spec always passes.
func (c Criteria) MatchesKeywords(msg models.Message) bool {
	alts := c.alternatives
	if alts == nil {
		alts = ParseKeywords(c.Keywords)
	}
	if len(alts) == 0 {
		return true
	}

	found := containsAny(strings.ToLower(msg.Text), alts)
	if !found && msg.HasMedia() {
		name := media.FileName(msg.Media, msg.ID, 0)
		found = containsAny(strings.ToLower(name), alts)
	}

	if c.Mode == FilterExclude {
		return !found
	}
	return found
}

// MatchesSize applies the size bounds. Messages without media, and media
// whose size is unknown, always pass.
func (c Criteria) MatchesSize(msg models.Message) bool {
	if c.MinSizeKB <= 0 && c.MaxSizeKB <= 0 {
		return true
	}
	if !msg.HasMedia() {
		return true
	}

	if media.Size(msg.Media) == 0 {
		return true
	}

	kb := media.SizeKB(msg.Media)
	if c.MinSizeKB > 0 && kb < c.MinSizeKB {
		return false
	}
	if c.MaxSizeKB > 0 && kb > c.MaxSizeKB {
		return false
	}
	return true
}

func containsAny(s string, alts []string) bool {
	for _, a := range alts {
		if strings.Contains(s, a) {
			return true
		}
	}
	return false
}
