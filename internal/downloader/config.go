package downloader

// Config holds the download manager settings
type Config struct {
	MaxConcurrency   int   // concurrent tasks
	ChunkSize        int64 // bytes per chunk
	MaxChunksPerFile int
	MaxRetries       int // requeues after the first attempt
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   5,
		ChunkSize:        1 << 20,
		MaxChunksPerFile: 4,
		MaxRetries:       3,
	}
}

// ChunkThreshold is the size above which files are chunked.
func (c Config) ChunkThreshold() int64 {
	return 2 * c.ChunkSize
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxChunksPerFile <= 0 {
		c.MaxChunksPerFile = d.MaxChunksPerFile
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}
