package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/campusync/internal/database"
	"github.com/charlesng35/campusync/internal/queue"
)

// Config represents the runtime configuration for the campusync service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	LogLevel    string   `mapstructure:"log_level"`
	LogEncoding string   `mapstructure:"log_encoding"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig selects the persistent store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mysql or bolt.
	Driver     string       `mapstructure:"driver"`
	Path       string       `mapstructure:"path"`
	DSN        string       `mapstructure:"dsn"`
	QuotaBytes int64        `mapstructure:"quota_bytes"`
	Postgres   DBAuthConfig `mapstructure:"postgres"`
	MySQL      DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig tunes the cache layer.
type CacheConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// MaxAge bounds how long any entry survives the maintenance sweep.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// QueueConfig tunes the mutation queue and its remote endpoint.
type QueueConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	BaseURL         string        `mapstructure:"base_url"`
	AuthToken       string        `mapstructure:"auth_token"`
}

// ConnectivityConfig configures how reachability is detected.
type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	AssumeOnline  bool          `mapstructure:"assume_online"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MaintenanceConfig holds the cron specs of the background jobs.
type MaintenanceConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CacheSweep string `mapstructure:"cache_sweep"`
	QueuePrune string `mapstructure:"queue_prune"`
	QueueFlush string `mapstructure:"queue_flush"`
}

// LoadConfig reads config.yaml from ./config and paths, applies a .env file when
// present and lets CAMPUSYNC_* environment variables override everything.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(paths); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("CAMPUSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv loads the first .env found in the working directory or paths.
// Variables already set in the environment win.
func loadDotEnv(paths []string) error {
	candidates := []string{".env"}
	for _, path := range paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("config: load %s: %w", candidate, err)
		}
		return nil
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/campusync.sqlite")
	v.SetDefault("store.quota_bytes", 50<<20)
	v.SetDefault("store.dsn", "")
	for _, section := range []string{"postgres", "mysql"} {
		v.SetDefault("store."+section+".host", "localhost")
		v.SetDefault("store."+section+".database", "campusync")
		v.SetDefault("store."+section+".username", "")
		v.SetDefault("store."+section+".password", "")
	}
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.mysql.port", 3306)

	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.max_age", "24h")

	v.SetDefault("queue.capacity", 100)
	v.SetDefault("queue.max_age", "24h")
	v.SetDefault("queue.base_delay", "1s")
	v.SetDefault("queue.max_delay", "30s")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.delivery_timeout", "15s")
	v.SetDefault("queue.base_url", "")
	v.SetDefault("queue.auth_token", "")

	v.SetDefault("connectivity.probe_url", "")
	v.SetDefault("connectivity.probe_interval", "30s")
	v.SetDefault("connectivity.probe_timeout", "5s")
	v.SetDefault("connectivity.assume_online", true)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cache_sweep", "@hourly")
	v.SetDefault("maintenance.queue_prune", "@every 15m")
	v.SetDefault("maintenance.queue_flush", "@every 1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "memory", "sqlite", "postgres", "postgresql", "mysql", "bolt":
	default:
		return fmt.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.QuotaBytes < 0 {
		return fmt.Errorf("config: store.quota_bytes must not be negative")
	}
	if c.Queue.Capacity < 0 || c.Queue.MaxRetries < 0 {
		return fmt.Errorf("config: queue capacity and max_retries must not be negative")
	}
	return nil
}

// QueueSettings maps the queue section onto queue.Config.
func (c *Config) QueueSettings() queue.Config {
	return queue.Config{
		Capacity:        c.Queue.Capacity,
		MaxAge:          c.Queue.MaxAge,
		BaseDelay:       c.Queue.BaseDelay,
		MaxDelay:        c.Queue.MaxDelay,
		MaxRetries:      c.Queue.MaxRetries,
		DeliveryTimeout: c.Queue.DeliveryTimeout,
	}
}

// DatabaseSettings maps the store section onto database.Config for the SQL drivers.
func (c *Config) DatabaseSettings() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	cfg := database.Config{
		Driver: driver,
		Path:   c.Store.Path,
		DSN:    c.Store.DSN,
	}

	var auth DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		auth = c.Store.Postgres
	case "mysql":
		auth = c.Store.MySQL
	default:
		return cfg
	}

	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	return cfg
}

// UsesDatabase reports whether the store driver is backed by gorm.
func (c *Config) UsesDatabase() bool {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "sqlite", "postgres", "postgresql", "mysql":
		return true
	}
	return false
}
