// package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-archiver/internal/archiver"
	"github.com/blockedby/tg-archiver/internal/downloader"
)

// Config holds all application configuration.
type Config struct {
	// database
	DatabaseURL string

	// nats, empty disables the progress stream
	NatsURL string

	// telegram
	TGApiID   int
	TGApiHash string
	TGRPS     float64
	TGDebug   bool

	// server
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string

	// archive
	DownloadPath        string
	DownloadConcurrency int
	ChunkSizeKB         int
	MaxChunksPerFile    int
	MaxRetries          int
	BatchSize           int
	MessageDelayMS      int
	BatchDelayMS        int
	ErrorBackoffMS      int
	MaxBatchErrors      int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first; variables already
// set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite://archiver.db"),
		NatsURL:             getEnv("NATS_URL", ""),
		TGApiID:             getEnvInt("TG_API_ID", 0),
		TGApiHash:           getEnv("TG_API_HASH", ""),
		TGRPS:               getEnvFloat("TG_RPS", 2.0),
		TGDebug:             getEnvBool("TG_DEBUG", false),
		HTTPPort:            getEnvInt("HTTP_PORT", 3100),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             getEnv("LOG_FILE", "./logs/archiver.log"),
		DownloadPath:        getEnv("DOWNLOAD_PATH", "./downloads"),
		DownloadConcurrency: getEnvInt("DOWNLOAD_CONCURRENCY", 5),
		ChunkSizeKB:         getEnvInt("CHUNK_SIZE_KB", 1024),
		MaxChunksPerFile:    getEnvInt("MAX_CHUNKS_PER_FILE", 4),
		MaxRetries:          getEnvInt("MAX_RETRIES", 3),
		BatchSize:           getEnvInt("BATCH_SIZE", 100),
		MessageDelayMS:      getEnvInt("MESSAGE_DELAY_MS", 20),
		BatchDelayMS:        getEnvInt("BATCH_DELAY_MS", 300),
		ErrorBackoffMS:      getEnvInt("ERROR_BACKOFF_MS", 2000),
		MaxBatchErrors:      getEnvInt("MAX_BATCH_ERRORS", 5),
	}

	return cfg, nil
}

// Downloader returns the download manager settings.
func (c *Config) Downloader() downloader.Config {
	return downloader.Config{
		MaxConcurrency:   c.DownloadConcurrency,
		ChunkSize:        int64(c.ChunkSizeKB) * 1024,
		MaxChunksPerFile: c.MaxChunksPerFile,
		MaxRetries:       c.MaxRetries,
	}
}

// MessageDelay is the pause after each processed message.
func (c *Config) MessageDelay() time.Duration {
	return time.Duration(c.MessageDelayMS) * time.Millisecond
}

// BatchDelay is the pause between history pages.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// ErrorBackoff is the pause after a failed history fetch.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMS) * time.Millisecond
}

// Policy returns the archive pacing settings.
func (c *Config) Policy() archiver.Policy {
	p := archiver.DefaultPolicy()
	p.MessageDelay = c.MessageDelay()
	p.BatchDelay = c.BatchDelay()
	p.ErrorBackoff = c.ErrorBackoff()
	p.MaxBatchErrors = c.MaxBatchErrors
	return p
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
