package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"offlinecache/internal/domain"
	"offlinecache/internal/interface/repository/logger"
	"offlinecache/internal/interface/repository/partition"
)

const (
	defaultPort        = 10080
	defaultMetricsPort = 10081
	defaultConfigDir   = "./configs"
	defaultLogDir      = "./logs"
	defaultCacheDir    = "./cache"
)

// config はファイル、環境変数、フラグを合わせた設定
type config struct {
	Port                int           `mapstructure:"port"`
	MetricsPort         int           `mapstructure:"metrics-port"`
	Origin              string        `mapstructure:"origin"`
	Version             string        `mapstructure:"version"`
	Mode                string        `mapstructure:"mode"`
	Backend             string        `mapstructure:"backend"`
	CachePath           string        `mapstructure:"cache-path"`
	MaxCacheSize        int64         `mapstructure:"max-cache-size"`
	ConfigDir           string        `mapstructure:"config-dir"`
	LogDir              string        `mapstructure:"log-dir"`
	LogLevel            string        `mapstructure:"log-level"`
	RevalidateTimeout   time.Duration `mapstructure:"revalidate-timeout"`
	ActivationRetry     time.Duration `mapstructure:"activation-retry"`
	MetricsSaveInterval time.Duration `mapstructure:"metrics-save-interval"`
	Verbose             bool          `mapstructure:"verbose"`

	originURL *url.URL
	mode      domain.Mode
	backend   partition.Backend
	level     logger.LogLevel
}

// validate は値を検証し、解析済みの値を埋める
func (c *config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics-port must differ (both %d)", c.Port)
	}

	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("origin must be an absolute http(s) URL: %q", c.Origin)
	}
	c.originURL = u

	if err := c.validateStore(); err != nil {
		return err
	}

	switch domain.Mode(c.Mode) {
	case domain.ModeCaching, domain.ModeCleanup:
		c.mode = domain.Mode(c.Mode)
	default:
		return fmt.Errorf("invalid mode: %s. Must be caching or cleanup", c.Mode)
	}

	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.level = level

	if c.ActivationRetry <= 0 {
		return fmt.Errorf("activation-retry must be positive")
	}
	if c.MetricsSaveInterval <= 0 {
		return fmt.Errorf("metrics-save-interval must be positive")
	}
	return nil
}

// validateStore はストア関連の値だけを検証する
func (c *config) validateStore() error {
	if c.Version == "" {
		return fmt.Errorf("version must not be empty")
	}

	switch partition.Backend(c.Backend) {
	case partition.BackendMemory, partition.BackendSQLite, partition.BackendDisk:
		c.backend = partition.Backend(c.Backend)
	default:
		return fmt.Errorf("invalid backend: %s. Must be memory, sqlite, or disk", c.Backend)
	}

	if c.MaxCacheSize < 0 {
		return fmt.Errorf("max-cache-size must not be negative")
	}
	return nil
}

// storeConfig はパーティションストアの設定を返す
func (c *config) storeConfig() partition.Config {
	path := c.CachePath
	if c.backend == partition.BackendSQLite && filepath.Ext(path) == "" {
		path = filepath.Join(path, "partitions.db")
	}
	return partition.Config{
		Backend: c.backend,
		Path:    path,
		MaxSize: c.MaxCacheSize,
	}
}

func (c *config) routesFile() string {
	return filepath.Join(c.ConfigDir, "routes.yaml")
}

func (c *config) metricsFile() string {
	return filepath.Join(c.LogDir, "metrics.json")
}

func prepareDirectories(cfg *config) error {
	dirs := []string{
		cfg.ConfigDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return prepareStoreDir(cfg)
}

// prepareStoreDir はSQLiteファイルを置くディレクトリを作成する
func prepareStoreDir(cfg *config) error {
	if cfg.backend != partition.BackendSQLite {
		return nil
	}
	dir := filepath.Dir(cfg.storeConfig().Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
