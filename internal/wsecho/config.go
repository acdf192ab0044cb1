package wsecho

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// Config configures the echo server.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string `mapstructure:"addr"`
	// FragmentSize and MaxBufferLength set the process wide
	// connection defaults when non zero.
	FragmentSize    int `mapstructure:"fragment_size"`
	MaxBufferLength int `mapstructure:"max_buffer_length"`
	// MaxConnections bounds the connections served at once.
	MaxConnections int `mapstructure:"max_connections"`
	// RateLimit is the number of messages per second echoed on each
	// connection. Zero disables the limit.
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the number of messages echoed without delay.
	RateBurst int `mapstructure:"rate_burst"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Development switches to human readable console output.
	Development bool `mapstructure:"development"`
	// File additionally writes logs to a rotated file when set.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size in megabytes at which File is rotated.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// setDefaults registers every key. Environment variables are only
// looked up for known keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "localhost:8080")
	v.SetDefault("fragment_size", 0)
	v.SetDefault("max_buffer_length", 0)
	v.SetDefault("max_connections", 0)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_burst", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
}

// LoadConfig reads the configuration file at path, if any, and
// WSECHO_ prefixed environment variables such as WSECHO_ADDR or
// WSECHO_LOG_LEVEL.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("wsecho")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			return Config{}, xerrors.Errorf("failed to read config %q: %w", path, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.RateLimit < 0 {
		return xerrors.Errorf("rate_limit must not be negative: %v", cfg.RateLimit)
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		return xerrors.Errorf("rate_burst must be positive with a rate_limit: %v", cfg.RateBurst)
	}
	return nil
}
