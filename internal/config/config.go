package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Matrix   MatrixConfig   `mapstructure:"matrix"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type MatrixConfig struct {
	Homeserver    string `mapstructure:"homeserver"`
	UserID        string `mapstructure:"user_id"`
	Password      string `mapstructure:"password"`
	AccessToken   string `mapstructure:"access_token"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SyncConfig struct {
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	BackoffSec int    `mapstructure:"backoff_sec"`
	CacheSize  int    `mapstructure:"cache_size"`
	StateFile  string `mapstructure:"state_file"`
}

type BackfillConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	BatchDelayMS int `mapstructure:"batch_delay_ms"`
	RoomDelayMS  int `mapstructure:"room_delay_ms"`
	RoomLimit    int `mapstructure:"room_limit"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("matrix.rate_per_second", 5)
	v.SetDefault("database.path", "data/events.db")
	v.SetDefault("sync.timeout_ms", 30000)
	v.SetDefault("sync.backoff_sec", 5)
	v.SetDefault("sync.cache_size", 10000)
	v.SetDefault("sync.state_file", defaultStateFile())
	v.SetDefault("backfill.batch_size", 100)
	v.SetDefault("backfill.batch_delay_ms", 100)
	v.SetDefault("backfill.room_delay_ms", 500)
	v.SetDefault("backfill.room_limit", 1000)
	v.SetDefault("server.addr", ":8778")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("MATRIX_INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The original deployment exported these names; keep honoring them.
	_ = v.BindEnv("matrix.homeserver", "MATRIX_HOMESERVER")
	_ = v.BindEnv("matrix.user_id", "MATRIX_USER_ID")
	_ = v.BindEnv("matrix.password", "MATRIX_PASSWORD")
	_ = v.BindEnv("matrix.access_token", "MATRIX_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Sync.CacheSize < 1 {
		return fmt.Errorf("sync.cache_size must be >= 1")
	}
	if c.Backfill.BatchSize < 1 {
		return fmt.Errorf("backfill.batch_size must be >= 1")
	}
	return nil
}

// ValidateMatrix checks the fields the network commands need. The read-only
// search commands never talk to a homeserver, so Load does not enforce these.
func (c *Config) ValidateMatrix() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required (set MATRIX_HOMESERVER env var)")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required (set MATRIX_USER_ID env var)")
	}
	return nil
}

// HasCredentials reports whether the ingestion commands can authenticate.
func (c *Config) HasCredentials() bool {
	return c.Matrix.Password != "" || c.Matrix.AccessToken != ""
}

func (c *SyncConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *SyncConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSec) * time.Second
}

func (c *BackfillConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

func (c *BackfillConfig) RoomDelay() time.Duration {
	return time.Duration(c.RoomDelayMS) * time.Millisecond
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".matrix-indexer/state.json"
	}
	return filepath.Join(home, ".matrix-indexer", "state.json")
}
