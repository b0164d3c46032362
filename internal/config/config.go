// Package config loads image loader settings from a TOML file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the TOML file, then
// IMAGE_LOADER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

const appName = "image-loader"

// Secondary cache backends.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel    string `toml:"log_level"`
	Workers     int    `toml:"workers"`
	ScanNetwork bool   `toml:"scan_network"`

	Memory  MemoryConfig  `toml:"memory"`
	Disk    DiskConfig    `toml:"disk"`
	Redis   RedisConfig   `toml:"redis"`
	Decode  DecodeConfig  `toml:"decode"`
	Network NetworkConfig `toml:"network"`
	HTTP    HTTPConfig    `toml:"http"`
}

type MemoryConfig struct {
	MaxEntries int `toml:"max_entries"`
}

// DiskConfig selects the secondary cache tier.
type DiskConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	Prefix   string        `toml:"prefix"`
	TTL      time.Duration `toml:"ttl"`
}

type DecodeConfig struct {
	// MaxPixels bounds width*height of any decoded image, requested target
	// size and matrix stage output.
	MaxPixels int64 `toml:"max_pixels"`
}

type NetworkConfig struct {
	Timeout   time.Duration `toml:"timeout"`
	MaxBytes  int64         `toml:"max_bytes"`
	Retries   int           `toml:"retries"`
	UserAgent string        `toml:"user_agent"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Workers:  3,
		Memory:   MemoryConfig{MaxEntries: 256},
		Disk:     DiskConfig{Backend: BackendFile, Dir: defaultCacheDir()},
		Redis:    RedisConfig{Addr: "localhost:6379", Prefix: appName + ":", TTL: 24 * time.Hour},
		Decode:   DecodeConfig{MaxPixels: 64 << 20},
		Network: NetworkConfig{
			Timeout:   15 * time.Second,
			MaxBytes:  32 << 20,
			Retries:   2,
			UserAgent: appName,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8089"},
	}
}

// defaultCacheDir follows XDG: $XDG_CACHE_HOME/image-loader or
// ~/.cache/image-loader.
func defaultCacheDir() string {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, ".cache", appName)
}

// Load reads path over the defaults and then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults without consulting the
// environment.
func Parse(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from IMAGE_LOADER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("IMAGE_LOADER_LOG_LEVEL", &c.LogLevel)
	integer("IMAGE_LOADER_WORKERS", &c.Workers)
	boolean("IMAGE_LOADER_SCAN_NETWORK", &c.ScanNetwork)
	integer("IMAGE_LOADER_MEMORY_ENTRIES", &c.Memory.MaxEntries)
	str("IMAGE_LOADER_DISK_BACKEND", &c.Disk.Backend)
	str("IMAGE_LOADER_CACHE_DIR", &c.Disk.Dir)
	str("IMAGE_LOADER_REDIS_ADDR", &c.Redis.Addr)
	str("IMAGE_LOADER_REDIS_PASSWORD", &c.Redis.Password)
	integer("IMAGE_LOADER_REDIS_DB", &c.Redis.DB)
	str("IMAGE_LOADER_USER_AGENT", &c.Network.UserAgent)
	str("IMAGE_LOADER_HTTP_ADDR", &c.HTTP.Addr)

	return errors.Join(errs...)
}

// Validate rejects values the loader cannot run with.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Memory.MaxEntries < 1 {
		return fmt.Errorf("memory.max_entries must be at least 1, got %d", c.Memory.MaxEntries)
	}
	switch strings.ToLower(c.Disk.Backend) {
	case BackendNone:
	case BackendFile:
		if c.Disk.Dir == "" {
			return errors.New("disk.dir is required for the file backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown disk.backend %q", c.Disk.Backend)
	}
	if c.Decode.MaxPixels <= 0 {
		return fmt.Errorf("decode.max_pixels must be positive, got %d", c.Decode.MaxPixels)
	}
	if c.Network.Retries < 0 {
		return fmt.Errorf("network.retries must not be negative, got %d", c.Network.Retries)
	}
	return nil
}

// Level returns the parsed log level. Validate has already rejected bad
// values, so an error here falls back to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
