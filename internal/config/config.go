package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultChunkSizeBytes int64 = 25 * 1024 * 1024        // 25MB
	defaultMaxChunkSizeBytes    = 50 * 1024 * 1024        // 50MB
	defaultMaxUploadBytes       = 10 * 1024 * 1024 * 1024 // 10GB
	defaultStorageRoot          = "data/files"
	defaultCacheDir             = "data/thumbs"
	defaultTempDir              = "tmp/uploads"
	defaultThumbWorkers         = 4
	defaultFFmpegBin            = "ffmpeg"
)

// Config captures server runtime configuration.
type Config struct {
	Port                  string
	DatabaseURL           string
	APIKey                string
	StorageRoot           string
	CacheDir              string
	TempDir               string
	DefaultChunkSizeBytes int64
	MaxChunkSizeBytes     int64
	MaxUploadBytes        int64
	SessionTimeout        time.Duration
	SweepInterval         time.Duration
	ThumbWorkers          int
	FFmpegBin             string
	FFmpegTimeout         time.Duration
	DevLogging            bool
}

// Load reads environment variables into a Config structure.
// DATABASE_URL is optional: without it session and file records live in
// process memory, which is enough for a single-box deployment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("NAS_SERVER_PORT", defaultPort),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		APIKey:                os.Getenv("NAS_SERVICE_API_KEY"),
		StorageRoot:           getEnv("NAS_STORAGE_ROOT", defaultStorageRoot),
		CacheDir:              getEnv("NAS_THUMB_CACHE_DIR", defaultCacheDir),
		TempDir:               getEnv("UPLOAD_TEMP_DIR", defaultTempDir),
		DefaultChunkSizeBytes: parseInt64("UPLOAD_CHUNK_SIZE", defaultChunkSizeBytes),
		MaxChunkSizeBytes:     parseInt64("UPLOAD_MAX_CHUNK_SIZE", defaultMaxChunkSizeBytes),
		MaxUploadBytes:        parseInt64("UPLOAD_MAX_SIZE", defaultMaxUploadBytes),
		SessionTimeout:        parseDuration("UPLOAD_SESSION_TIMEOUT", 24*time.Hour),
		SweepInterval:         parseDuration("UPLOAD_SWEEP_INTERVAL", 15*time.Minute),
		ThumbWorkers:          parseInt("THUMB_WORKERS", defaultThumbWorkers),
		FFmpegBin:             getEnv("THUMB_FFMPEG_BIN", defaultFFmpegBin),
		FFmpegTimeout:         parseDuration("THUMB_FFMPEG_TIMEOUT", 30*time.Second),
		DevLogging:            parseBool("NAS_DEV_LOGGING", false),
	}

	if cfg.APIKey == "" {
		return nil, errors.New("NAS_SERVICE_API_KEY is required")
	}

	if cfg.DefaultChunkSizeBytes <= 0 {
		cfg.DefaultChunkSizeBytes = defaultChunkSizeBytes
	}
	if cfg.MaxChunkSizeBytes < cfg.DefaultChunkSizeBytes {
		cfg.MaxChunkSizeBytes = cfg.DefaultChunkSizeBytes
	}
	if cfg.ThumbWorkers <= 0 {
		cfg.ThumbWorkers = defaultThumbWorkers
	}
	if cfg.TempDir == "" {
		cfg.TempDir = defaultTempDir
	}
	if !filepath.IsAbs(cfg.TempDir) {
		cfg.TempDir = filepath.Join(os.TempDir(), cfg.TempDir)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseInt(key string, fallback int) int {
	return int(parseInt64(key, int64(fallback)))
}

func parseInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return dur
}
