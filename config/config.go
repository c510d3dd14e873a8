// Package config loads the YAML configuration of the httpstream CLI and turns
// it into client options.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/httpstream/client"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config represents an httpstream.yaml file. Every value is optional; CLI
// flags override them.
type Config struct {
	Timeout           Duration        `yaml:"timeout" validate:"gte=0"`
	UserAgent         string          `yaml:"user_agent"`
	NoFollowRedirects bool            `yaml:"no_follow_redirects"`
	ChunkSize         int             `yaml:"chunk_size" validate:"omitempty,gte=512,lte=16777216"`
	Concurrency       int             `yaml:"concurrency" validate:"gte=0,lte=256"`
	LogLevel          string          `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Progress          bool            `yaml:"progress"`
	Throttle          *ThrottleConfig `yaml:"throttle"`
	Cache             CacheConfig     `yaml:"cache"`
}

// ThrottleConfig holds the token bucket settings.
type ThrottleConfig struct {
	RPS   int `yaml:"rps" validate:"required,gt=0"`
	Burst int `yaml:"burst" validate:"required,gt=0"`
}

// CacheConfig selects where downloaded bytes are written.
type CacheConfig struct {
	Backend   string `yaml:"backend" validate:"omitempty,oneof=memory file redis"`
	Dir       string `yaml:"dir" validate:"required_if=Backend file"`
	RedisURL  string `yaml:"redis_url" validate:"required_if=Backend redis"`
	KeyPrefix string `yaml:"key_prefix"`
	Retain    *bool  `yaml:"retain_in_memory"`
}

// Duration is a time.Duration read from strings such as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("decoding duration: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)

	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ClientOptions converts the configuration into options for client.Build.
func (c *Config) ClientOptions(logger *slog.Logger) []client.Option {
	opts := []client.Option{client.WithLogger(logger)}

	if c.Timeout > 0 {
		opts = append(opts, client.WithTimeout(time.Duration(c.Timeout)))
	}
	if c.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(c.UserAgent))
	}
	if c.NoFollowRedirects {
		opts = append(opts, client.WithNoFollowRedirects())
	}
	if c.ChunkSize > 0 {
		opts = append(opts, client.WithChunkSize(c.ChunkSize))
	}
	if c.Throttle != nil {
		opts = append(opts, client.WithThrottle(c.Throttle.RPS, c.Throttle.Burst))
	}
	if c.Progress {
		opts = append(opts, client.WithProgressLogging())
	}

	return opts
}
