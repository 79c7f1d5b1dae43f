// Package config holds the server's runtime configuration, layered
// from built-in defaults, an optional YAML file, environment variables
// and command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment overrides:
// RTCWATCH_SERVER__ADDR=:9090 sets server.addr.
const envPrefix = "RTCWATCH_"

// Config is the fully resolved runtime configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Ingest  IngestConfig  `koanf:"ingest"`
	API     APIConfig     `koanf:"api"`
	Quality QualityConfig `koanf:"quality"`
}

// ServerConfig covers the process-level knobs.
type ServerConfig struct {
	Addr     string `koanf:"addr"`
	DataDir  string `koanf:"data_dir"`
	LogLevel string `koanf:"log_level"`
}

// IngestConfig tunes the reconciliation engine.
type IngestConfig struct {
	// MaxBodyBytes caps inbound webhook bodies; oversize requests are
	// rejected with 413.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// DedupMemoSize bounds the in-memory recent-notice set.
	DedupMemoSize int `koanf:"dedup_memo_size"`
	// MaxWriteRetries bounds retries of a busy-locked transaction.
	MaxWriteRetries uint `koanf:"max_write_retries"`
}

// APIConfig tunes the read surface.
type APIConfig struct {
	// SessionListLimit caps sessions returned per epoch.
	SessionListLimit int `koanf:"session_list_limit"`
	// PageSize is the default epoch-list page size.
	PageSize int `koanf:"page_size"`
	// MaxPageSize caps a caller-supplied page size.
	MaxPageSize int `koanf:"max_page_size"`
}

// QualityConfig optionally overrides entries of the pinned quality
// weight table. Zero values keep the defaults.
type QualityConfig struct {
	Table             string  `koanf:"table"`
	AbnormalPenalty   float64 `koanf:"abnormal_penalty"`
	NetworkPenalty    float64 `koanf:"network_penalty"`
	PermissionPenalty float64 `koanf:"permission_penalty"`
	DevicePenalty     float64 `koanf:"device_penalty"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":              ":8080",
		"server.data_dir":          defaultDataDir(),
		"server.log_level":         "info",
		"ingest.max_body_bytes":    int64(1 << 20),
		"ingest.dedup_memo_size":   10,
		"ingest.max_write_retries": uint(5),
		"api.session_list_limit":   1000,
		"api.page_size":            50,
		"api.max_page_size":        200,
	}
}

// Flags carries the command-line values that participate in layering.
type Flags struct {
	ConfigPath string
	Addr       string
	DataDir    string
	LogLevel   string
}

// DefineFlags registers command-line flags on fs. Call fs.Parse
// separately, then Load.
func DefineFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "path to YAML config file")
	fs.StringVar(&f.Addr, "addr", "", "listen address (overrides config)")
	fs.StringVar(&f.DataDir, "data-dir", "", "data directory (overrides config)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	return f
}

// Load resolves the configuration: defaults, then the YAML file when
// given, then RTCWATCH_* environment variables, then explicit flags.
func Load(f *Flags) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if f != nil && f.ConfigPath != "" {
		if err := k.Load(file.Provider(f.ConfigPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", f.ConfigPath, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if f != nil {
		overrides := map[string]any{}
		if f.Addr != "" {
			overrides["server.addr"] = f.Addr
		}
		if f.DataDir != "" {
			overrides["server.data_dir"] = f.DataDir
		}
		if f.LogLevel != "" {
			overrides["server.log_level"] = f.LogLevel
		}
		if len(overrides) > 0 {
			if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
				return nil, fmt.Errorf("load flag overrides: %w", err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values and ensures the data directory exists.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingest.max_body_bytes must be positive")
	}
	if c.Ingest.DedupMemoSize <= 0 {
		return fmt.Errorf("ingest.dedup_memo_size must be positive")
	}
	if c.API.SessionListLimit <= 0 || c.API.PageSize <= 0 || c.API.MaxPageSize < c.API.PageSize {
		return fmt.Errorf("invalid api paging configuration")
	}
	if err := os.MkdirAll(c.Server.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// DBPath returns the path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.Server.DataDir, "rtcwatch.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "rtcwatch")
	}
	return filepath.Join(home, ".config", "rtcwatch")
}
