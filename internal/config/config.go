// Package config loads application settings from YAML, defaults and
// AUTOREPLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// AUTOREPLY_DATABASE_DSN for database.dsn.
const EnvPrefix = "AUTOREPLY"

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Mail      MailConfig      `mapstructure:"mail"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	Prefix    string        `mapstructure:"prefix"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LedgerConfig controls the bounded activity log. An empty Path keeps the
// ledger in memory only.
type LedgerConfig struct {
	Path     string `mapstructure:"path"`
	Capacity int    `mapstructure:"capacity"`
}

type MailConfig struct {
	IMAPTLS            string        `mapstructure:"imap_tls"`
	SMTPTLS            string        `mapstructure:"smtp_tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	Workers            int           `mapstructure:"workers"`
	Folders            []string      `mapstructure:"folders"`
	DateLocation       string        `mapstructure:"date_location"`
	HeloName           string        `mapstructure:"helo_name"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RunOnStartup bool          `mapstructure:"run_on_startup"`
	Timezone     string        `mapstructure:"timezone"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "autoreply")
	v.SetDefault("app.env", "production")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:data/autoreply.db?_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.prefix", "autoreply")
	v.SetDefault("redis.status_ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("ledger.path", "data/app.log")
	v.SetDefault("ledger.capacity", 1000)

	v.SetDefault("mail.imap_tls", "tls")
	v.SetDefault("mail.smtp_tls", "tls")
	v.SetDefault("mail.insecure_skip_verify", false)
	v.SetDefault("mail.dial_timeout", 30*time.Second)
	v.SetDefault("mail.command_timeout", 60*time.Second)
	v.SetDefault("mail.workers", 4)
	v.SetDefault("mail.folders", []string{"INBOX", "Junk"})
	v.SetDefault("mail.date_location", "")
	v.SetDefault("mail.helo_name", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.schedule", "*/5 * * * *")
	v.SetDefault("scheduler.timeout", 10*time.Minute)
	v.SetDefault("scheduler.run_on_startup", false)
	v.SetDefault("scheduler.timezone", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return v, nil
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", configFile)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads configFile (optional) on top of defaults and environment
// overrides, validates the result and makes it available through Get.
func Load(configFile string) (*Config, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	set(c)
	return c, nil
}

// Watch loads configFile and reloads it on every change. onChange receives
// each valid new configuration; invalid edits are reported to onError and
// leave the current configuration in place.
func Watch(configFile string, onChange func(*Config), onError func(error)) (*Config, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	set(c)
	if configFile == "" {
		return c, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		set(next)
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
	return c, nil
}

func set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
