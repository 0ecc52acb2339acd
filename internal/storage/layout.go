package storage

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/blockedby/tg-archiver/internal/models"
)

// JSONDir is the sub-directory holding metadata shards.
const JSONDir = "json"

// Layout maps a channel archive onto the filesystem:
//
//	<root>/<channelId>/{json,images,videos,documents,others}
type Layout struct {
	fs   FileSystem
	root string
}

// NewLayout creates a layout rooted at root.
func NewLayout(fs FileSystem, root string) *Layout {
	return &Layout{fs: fs, root: root}
}

// Root returns the download root.
func (l *Layout) Root() string {
	return l.root
}

// ChannelDir returns the archive directory of a channel.
func (l *Layout) ChannelDir(channelID int64) string {
	return filepath.Join(l.root, strconv.FormatInt(channelID, 10))
}

// JSONDir returns the metadata shard directory of a channel.
func (l *Layout) JSONDir(channelID int64) string {
	return filepath.Join(l.ChannelDir(channelID), JSONDir)
}

// SubdirFor returns the media directory for the given kind.
func (l *Layout) SubdirFor(channelID int64, kind models.MediaKind) string {
	return filepath.Join(l.ChannelDir(channelID), string(models.DownloadTypeFor(kind)))
}

// PathFor returns the absolute target path of a media file and its path
// relative to the channel directory.
func (l *Layout) PathFor(channelID int64, kind models.MediaKind, name string) (abs, rel string) {
	rel = filepath.Join(string(models.DownloadTypeFor(kind)), name)
	return filepath.Join(l.ChannelDir(channelID), rel), rel
}

// Ensure creates the channel directory, the json directory and one
// directory per enabled download type.
func (l *Layout) Ensure(channelID int64, types []models.DownloadType) error {
	dirs := []string{l.ChannelDir(channelID), l.JSONDir(channelID)}
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("unknown download type %q", t)
		}
		dirs = append(dirs, filepath.Join(l.ChannelDir(channelID), string(t)))
	}

	for _, dir := range dirs {
		if err := l.fs.CreateDir(dir); err != nil {
			return fmt.Errorf("ensure layout: %w", err)
		}
	}
	return nil
}
