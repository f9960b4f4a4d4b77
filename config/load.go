package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// COMPOSITOR_OVERLAY_PATH or COMPOSITOR_SERVER_ADDR.
const EnvPrefix = "COMPOSITOR"

// Load reads configuration from the YAML file at path, layered over Default()
// and under environment overrides.  An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("overlay_path", d.OverlayPath)
	v.SetDefault("asset_root", d.AssetRoot)
	v.SetDefault("document_origin", d.DocumentOrigin)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("foreground_timeout", d.ForegroundTimeout)
	v.SetDefault("overlay_timeout", d.OverlayTimeout)
	v.SetDefault("max_image_bytes", d.MaxImageBytes)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("export_filename", d.ExportFilename)
	v.SetDefault("preview_quality", d.PreviewQuality)
	v.SetDefault("interpolation", d.Interpolation)
	v.SetDefault("use_vips", d.UseVips)

	v.SetDefault("storage", string(d.Storage))
	v.SetDefault("local.root_dir", d.Local.RootDir)
	v.SetDefault("local.permissions", d.Local.Permissions)
	v.SetDefault("s3.bucket", d.S3.Bucket)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.use_path_style", d.S3.UsePathStyle)

	v.SetDefault("cache", string(d.Cache))
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_backend", d.LogBackend)
}
