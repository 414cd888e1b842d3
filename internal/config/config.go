package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Hub        HubConfig        `mapstructure:"hub"`
	Validation ValidationConfig `mapstructure:"validation"`
	Refine     RefineConfig     `mapstructure:"refine"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type StorageConfig struct {
	Driver string         `mapstructure:"driver"`
	SQLite SQLiteConfig   `mapstructure:"sqlite"`
	MySQL  DatabaseConfig `mapstructure:"mysql"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.Charset)
}

// DSN returns the data source for the configured driver.
func (s *StorageConfig) DSN() string {
	switch s.Driver {
	case "mysql":
		return s.MySQL.DSN()
	case "sqlite":
		return s.SQLite.Path
	default:
		return ""
	}
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	EventTTL  time.Duration `mapstructure:"event_ttl"`
	MaxEvents int64         `mapstructure:"max_events"`
}

type HubConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// LogSize bounds the in-process replay log when redis is disabled.
	LogSize int `mapstructure:"log_size"`
}

type ValidationConfig struct {
	PassThreshold float64 `mapstructure:"pass_threshold"`
	Workers       int     `mapstructure:"workers"`
}

type RefineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a text-transform endpoint is configured.
func (r *RefineConfig) Enabled() bool {
	return r.APIKey != "" || r.BaseURL != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.ping_interval", 30*time.Second)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite.path", "reqtrace.db")
	v.SetDefault("storage.mysql.host", "127.0.0.1")
	v.SetDefault("storage.mysql.port", 3306)
	v.SetDefault("storage.mysql.user", "root")
	v.SetDefault("storage.mysql.password", "")
	v.SetDefault("storage.mysql.dbname", "reqtrace")
	v.SetDefault("storage.mysql.charset", "utf8mb4")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.event_ttl", 24*time.Hour)
	v.SetDefault("redis.max_events", 1000)

	v.SetDefault("hub.buffer_size", 256)
	v.SetDefault("hub.write_timeout", 5*time.Second)
	v.SetDefault("hub.log_size", 1000)

	v.SetDefault("validation.pass_threshold", 0.7)
	v.SetDefault("validation.workers", 4)

	v.SetDefault("refine.base_url", "")
	v.SetDefault("refine.api_key", "")
	v.SetDefault("refine.model", "gpt-4o-mini")
	v.SetDefault("refine.timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the YAML file at path (skipped when path is empty), applies
// defaults and overlays REQTRACE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REQTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if t := c.Validation.PassThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: validation.pass_threshold must be in (0,1], got %v", t)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}
