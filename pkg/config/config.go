package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vyvo/pixelflow/pkg/jobs"
)

// Config captures runtime settings shared by the CLI and the bridge.
type Config struct {
	APIBaseURL       string        `mapstructure:"api_base_url"`
	DataDir          string        `mapstructure:"data_dir"`
	PollMaxAttempts  int           `mapstructure:"poll_max_attempts"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	LogLevel         string        `mapstructure:"log_level"`
	LogPretty        bool          `mapstructure:"log_pretty"`
	CatalogFile      string        `mapstructure:"catalog_file"`
	RedisURL         string        `mapstructure:"redis_url"`
	Tracing          bool          `mapstructure:"tracing"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	BridgeListenAddr string        `mapstructure:"bridge_listen_addr"`
	BridgeToken      string        `mapstructure:"bridge_token"`
}

// KeyFile is where API keys are persisted.
func (c Config) KeyFile() string {
	return filepath.Join(c.DataDir, "keys.json")
}

// PollPolicy converts the polling settings into engine bounds.
func (c Config) PollPolicy() jobs.Policy {
	p := jobs.DefaultPolicy()
	if c.PollMaxAttempts > 0 {
		p.MaxAttempts = c.PollMaxAttempts
	}
	if c.PollInterval > 0 {
		p.Interval = c.PollInterval
	}
	return p
}

// flag name -> config key
var flagKeys = map[string]string{
	"api-base-url": "api_base_url",
	"data-dir":     "data_dir",
	"log-level":    "log_level",
	"log-pretty":   "log_pretty",
	"catalog":      "catalog_file",
	"redis-url":    "redis_url",
	"tracing":      "tracing",
	"trace-sample": "trace_sample_ratio",
	"listen":       "bridge_listen_addr",
	"bridge-token": "bridge_token",
}

// RegisterFlags adds the command-line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default ./configs/pixelflow.yaml)")
	fs.String("api-base-url", "", "prediction API base URL")
	fs.String("data-dir", "", "directory for generations and keys")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Bool("log-pretty", false, "human-readable console logs")
	fs.String("catalog", "", "YAML file with extra or replacement models")
	fs.String("redis-url", "", "mirror generation history into redis")
	fs.Bool("tracing", false, "print OpenTelemetry spans to stderr")
	fs.Float64("trace-sample", 1, "share of generations to trace, between 0 and 1")
	fs.String("listen", "", "bridge listen address")
	fs.String("bridge-token", "", "bearer token required by the bridge API")
}

// Load reads .env, the optional config file, PIXELFLOW_* env vars and any
// flags registered through RegisterFlags, in increasing priority.
func Load(fs *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("pixelflow")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("PIXELFLOW")
	v.AutomaticEnv()

	v.SetDefault("api_base_url", "https://api.replicate.com/v1")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("poll_max_attempts", 60)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("catalog_file", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("tracing", false)
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("bridge_listen_addr", "127.0.0.1:8787")
	v.SetDefault("bridge_token", "")

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.PollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("poll_max_attempts must be positive, got %d", cfg.PollMaxAttempts)
	}
	if cfg.PollInterval < 0 {
		return Config{}, fmt.Errorf("poll_interval must not be negative, got %s", cfg.PollInterval)
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return Config{}, fmt.Errorf("trace_sample_ratio must be between 0 and 1, got %v", cfg.TraceSampleRatio)
	}
	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pixelflow")
	}
	return filepath.Join(os.TempDir(), "pixelflow")
}
