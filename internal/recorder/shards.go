package recorder

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/blockedby/tg-archiver/internal/storage"
)

// DefaultShardSize is the number of records per shard file.
const DefaultShardSize = 500

// ShardName returns the file name of a shard holding ids min..max.
func ShardName(min, max int) string {
	return fmt.Sprintf("messages_%d-%d.json", min, max)
}

// FlushMetadata writes records to dir in shards of shardSize, ordered by
// id. It returns the written file paths. Already written shards stay on
// disk when a later one fails.
func FlushMetadata(fs storage.FileSystem, records []MessageMetadata, dir string, shardSize int) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}

	sorted := make([]MessageMetadata, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := fs.CreateDir(dir); err != nil {
		return nil, err
	}

	var written []string
	for start := 0; start < len(sorted); start += shardSize {
		end := start + shardSize
		if end > len(sorted) {
			end = len(sorted)
		}
		shard := sorted[start:end]

		data, err := json.MarshalIndent(shard, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encode shard: %w", err)
		}

		path := filepath.Join(dir, ShardName(shard[0].ID, shard[len(shard)-1].ID))
		if err := fs.WriteTextFile(path, string(data)); err != nil {
			return written, fmt.Errorf("write shard: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}
