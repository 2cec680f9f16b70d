// Package config loads the service configuration from defaults, an optional
// config file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/zynqcloud/go-upload/internal/store"
)

// Config holds all runtime configuration for the upload service.
type Config struct {
	Port         string
	StoragePath  string
	ServiceToken string
	LogLevel     slog.Level

	// Storage names the backend in the store registry.
	Storage   string
	AssetHost string

	MaxConcurrentUploads int
	QueueTimeout         time.Duration
	MaxRequestSize       int64
	MinFreeDisk          uint64

	CacheTTL        time.Duration
	CleanupInterval time.Duration
	ShutdownTimeout time.Duration

	S3     store.S3Options
	FTP    store.FTPOptions
	GridFS store.GridFSOptions

	Upload Profile
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply. The historical STORAGE_PORT, STORAGE_PATH and
// SERVICE_TOKEN variables are honoured; every other key is read from its
// upper-cased name with dots replaced by underscores (upload.max_size is
// UPLOAD_MAX_SIZE).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

var legacyEnv = map[string]string{
	"port":          "STORAGE_PORT",
	"storage_path":  "STORAGE_PATH",
	"service_token": "SERVICE_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("storage_path", "/data/files")
	v.SetDefault("service_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage", "file")
	v.SetDefault("asset_host", "")
	v.SetDefault("max_concurrent_uploads", 10)
	v.SetDefault("queue_timeout", 2*time.Second)
	v.SetDefault("max_request_size", "5GiB")
	v.SetDefault("min_free_disk", "1GiB")
	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("cleanup_interval", time.Hour)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("s3.acl", "")

	v.SetDefault("ftp.addr", "")
	v.SetDefault("ftp.user", "anonymous")
	v.SetDefault("ftp.password", "")
	v.SetDefault("ftp.dir", "/")
	v.SetDefault("ftp.base_url", "")
	v.SetDefault("ftp.dial_timeout", 30*time.Second)

	v.SetDefault("gridfs.addrs", []string{"localhost:27017"})
	v.SetDefault("gridfs.database", "uploads")
	v.SetDefault("gridfs.username", "")
	v.SetDefault("gridfs.password", "")
	v.SetDefault("gridfs.prefix", "fs")
	v.SetDefault("gridfs.base_url", "")
	v.SetDefault("gridfs.timeout", 10*time.Second)

	v.SetDefault("upload.store_dir", "uploads")
	v.SetDefault("upload.cache_dir", "uploads/tmp")
	v.SetDefault("upload.default_url", "")
	v.SetDefault("upload.deduplicate", true)
	v.SetDefault("upload.move_to_cache", false)
	v.SetDefault("upload.move_to_store", false)
	v.SetDefault("upload.cache_only", false)
	v.SetDefault("upload.delete_tmp_file_after_storage", true)
	v.SetDefault("upload.remove_previously_stored_files_after_update", true)
	v.SetDefault("upload.ensure_multipart_form", false)
	v.SetDefault("upload.extension_allowlist", []string{})
	v.SetDefault("upload.extension_denylist", []string{})
	v.SetDefault("upload.content_type_allowlist", []string{})
	v.SetDefault("upload.content_type_denylist", []string{})
	v.SetDefault("upload.min_size", "")
	v.SetDefault("upload.max_size", "")
	v.SetDefault("upload.min_width", 0)
	v.SetDefault("upload.max_width", 0)
	v.SetDefault("upload.min_height", 0)
	v.SetDefault("upload.max_height", 0)
}

func decode(v *viper.Viper) (*Config, error) {
	var errs []error
	size := func(key string) int64 {
		n, err := parseSize(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}

	c := &Config{
		Port:                 v.GetString("port"),
		StoragePath:          v.GetString("storage_path"),
		ServiceToken:         v.GetString("service_token"),
		Storage:              v.GetString("storage"),
		AssetHost:            v.GetString("asset_host"),
		MaxConcurrentUploads: v.GetInt("max_concurrent_uploads"),
		QueueTimeout:         v.GetDuration("queue_timeout"),
		MaxRequestSize:       size("max_request_size"),
		MinFreeDisk:          uint64(size("min_free_disk")),
		CacheTTL:             v.GetDuration("cache_ttl"),
		CleanupInterval:      v.GetDuration("cleanup_interval"),
		ShutdownTimeout:      v.GetDuration("shutdown_timeout"),
		S3: store.S3Options{
			Bucket:    v.GetString("s3.bucket"),
			Region:    v.GetString("s3.region"),
			Endpoint:  v.GetString("s3.endpoint"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			PathStyle: v.GetBool("s3.path_style"),
			ACL:       v.GetString("s3.acl"),
		},
		FTP: store.FTPOptions{
			Addr:        v.GetString("ftp.addr"),
			User:        v.GetString("ftp.user"),
			Password:    v.GetString("ftp.password"),
			Dir:         v.GetString("ftp.dir"),
			BaseURL:     v.GetString("ftp.base_url"),
			DialTimeout: v.GetDuration("ftp.dial_timeout"),
		},
		GridFS: store.GridFSOptions{
			Addrs:    v.GetStringSlice("gridfs.addrs"),
			Database: v.GetString("gridfs.database"),
			Username: v.GetString("gridfs.username"),
			Password: v.GetString("gridfs.password"),
			Prefix:   v.GetString("gridfs.prefix"),
			BaseURL:  v.GetString("gridfs.base_url"),
			Timeout:  v.GetDuration("gridfs.timeout"),
		},
		Upload: Profile{
			StoreDir:                  v.GetString("upload.store_dir"),
			CacheDir:                  v.GetString("upload.cache_dir"),
			DefaultURL:                v.GetString("upload.default_url"),
			Deduplicate:               v.GetBool("upload.deduplicate"),
			MoveToCache:               v.GetBool("upload.move_to_cache"),
			MoveToStore:               v.GetBool("upload.move_to_store"),
			CacheOnly:                 v.GetBool("upload.cache_only"),
			DeleteTmpFileAfterStorage: v.GetBool("upload.delete_tmp_file_after_storage"),
			RemovePreviouslyStored:    v.GetBool("upload.remove_previously_stored_files_after_update"),
			EnsureMultipartForm:       v.GetBool("upload.ensure_multipart_form"),
			ExtensionAllowlist:        v.GetStringSlice("upload.extension_allowlist"),
			ExtensionDenylist:         v.GetStringSlice("upload.extension_denylist"),
			ContentTypeAllowlist:      v.GetStringSlice("upload.content_type_allowlist"),
			ContentTypeDenylist:       v.GetStringSlice("upload.content_type_denylist"),
			MinSize:                   size("upload.min_size"),
			MaxSize:                   size("upload.max_size"),
			MinWidth:                  v.GetInt("upload.min_width"),
			MaxWidth:                  v.GetInt("upload.max_width"),
			MinHeight:                 v.GetInt("upload.min_height"),
			MaxHeight:                 v.GetInt("upload.max_height"),
		},
	}
	if err := c.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := v.UnmarshalKey("upload.process", &c.Upload.Process); err != nil {
		errs = append(errs, fmt.Errorf("upload.process: %w", err))
	}
	if err := v.UnmarshalKey("upload.versions", &c.Upload.Versions); err != nil {
		errs = append(errs, fmt.Errorf("upload.versions: %w", err))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.MaxConcurrentUploads < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_uploads must be positive, got %d", c.MaxConcurrentUploads))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cleanup_interval must be positive, got %s", c.CleanupInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// parseSize accepts "10MB", "512KiB" or a plain byte count. Empty is zero.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// StoreOptions returns the backend options for the store registry.
func (c *Config) StoreOptions() store.Options {
	s3 := c.S3
	if s3.AssetHost == "" {
		s3.AssetHost = c.AssetHost
	}
	return store.Options{
		Local:  store.LocalOptions{Root: c.StoragePath, BaseURL: c.AssetHost},
		S3:     s3,
		FTP:    c.FTP,
		GridFS: c.GridFS,
	}
}
