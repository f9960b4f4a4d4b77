package config

import (
	"errors"
	"time"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// CacheBackend selects the fetch cache.
type CacheBackend string

const (
	CacheNone   CacheBackend = "none"
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Overlay asset, resolved against AssetRoot when it starts with "/".
	OverlayPath string `mapstructure:"overlay_path"`
	AssetRoot   string `mapstructure:"asset_root"`

	// Origin the compositor acts on behalf of; cross-origin checks compare
	// response headers against it.
	DocumentOrigin string `mapstructure:"document_origin"`
	UserAgent      string `mapstructure:"user_agent"`

	// Per-attempt decode bounds.
	ForegroundTimeout time.Duration `mapstructure:"foreground_timeout"`
	OverlayTimeout    time.Duration `mapstructure:"overlay_timeout"`

	// Streaming / memory limits.
	MaxImageBytes int64 `mapstructure:"max_image_bytes"` // 0 = no limit
	ChunkSize     int   `mapstructure:"chunk_size"`      // streaming chunk size in bytes; default 32 KiB

	// Output.
	ExportFilename string `mapstructure:"export_filename"`
	PreviewQuality int    `mapstructure:"preview_quality"` // 1-100
	Interpolation  string `mapstructure:"interpolation"`   // nearest, approx-bilinear, bilinear, catmull-rom

	// Use libvips for decoding instead of the Go codecs.
	UseVips bool `mapstructure:"use_vips"`

	// Storage for saved exports.
	Storage StorageBackend `mapstructure:"storage"`
	Local   LocalConfig    `mapstructure:"local"`
	S3      S3Config       `mapstructure:"s3"`

	// Fetch cache.
	Cache    CacheBackend  `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Redis    RedisConfig   `mapstructure:"redis"`

	Server ServerConfig `mapstructure:"server"`

	// Logging.
	LogLevel   string `mapstructure:"log_level"`   // "debug", "info", "warn", "error"
	LogBackend string `mapstructure:"log_backend"` // "slog" or "logrus"
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `mapstructure:"root_dir"`
	Permissions uint32 `mapstructure:"permissions"` // default 0644
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"` // optional custom endpoint (MinIO, etc.)
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// RedisConfig configures the redis fetch cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		OverlayPath:       "/wolverine.png",
		AssetRoot:         "./public",
		DocumentOrigin:    "http://localhost:8080",
		UserAgent:         "image-compositor/1.0",
		ForegroundTimeout: 10 * time.Second,
		OverlayTimeout:    10 * time.Second,
		MaxImageBytes:     25 << 20,
		ChunkSize:         32 * 1024,
		ExportFilename:    "wolverine-mlb-meme.png",
		PreviewQuality:    70,
		Interpolation:     "bilinear",
		Storage:           StorageLocal,
		Local:             LocalConfig{RootDir: "./exports", Permissions: 0o644},
		Cache:             CacheMemory,
		CacheTTL:          time.Hour,
		Redis:             RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 25 << 20,
		},
		LogLevel:   "info",
		LogBackend: "slog",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.OverlayPath == "" {
		return errors.New("config: OverlayPath must be set")
	}
	if c.ForegroundTimeout <= 0 {
		return errors.New("config: ForegroundTimeout must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.PreviewQuality < 1 || c.PreviewQuality > 100 {
		return errors.New("config: PreviewQuality must be between 1 and 100")
	}
	if c.ExportFilename == "" {
		return errors.New("config: ExportFilename must be set")
	}
	switch c.Interpolation {
	case "nearest", "approx-bilinear", "bilinear", "catmull-rom":
	default:
		return errors.New("config: Interpolation must be one of nearest, approx-bilinear, bilinear, catmull-rom")
	}
	switch c.Storage {
	case StorageLocal:
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3.Bucket must be set for s3 storage")
		}
	default:
		return errors.New("config: unknown Storage backend")
	}
	switch c.Cache {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: Redis.Addr must be set for redis cache")
		}
	default:
		return errors.New("config: unknown Cache backend")
	}
	switch c.LogBackend {
	case "slog", "logrus":
	default:
		return errors.New("config: LogBackend must be slog or logrus")
	}
	return nil
}
