// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package config loads authd settings from defaults, an optional YAML
// file, the environment and command flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/internal/xdg"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the full authd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format       string   `koanf:"format"`
	Level        string   `koanf:"level"`
	RedactFields []string `koanf:"redact_fields"`
}

// StoreConfig selects the user store.
type StoreConfig struct {
	Backend  string `koanf:"backend"`
	BoltPath string `koanf:"bolt_path"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// AuthConfig configures hashing, the session cookie and public paths.
type AuthConfig struct {
	Hasher        string `koanf:"hasher"`
	BcryptCost    int    `koanf:"bcrypt_cost"`
	SessionCookie string `koanf:"session_cookie"`
	CookieSecure  bool   `koanf:"cookie_secure"`

	// PublicPaths are served without a session; see auth.RequireAuth.
	PublicPaths []string `koanf:"public_paths"`
}

// defaults are loaded before anything else.
var defaults = map[string]any{
	"server.addr":             "127.0.0.1:5000",
	"server.metrics_addr":     "127.0.0.1:9100",
	"server.shutdown_timeout": "10s",

	"log.format":        "json",
	"log.level":         "info",
	"log.redact_fields": []string{"name", "email", "phone", "ssn", "password"},

	"store.backend":   BackendMemory,
	"store.bolt_path": "",

	"database.url":              "",
	"database.max_conns":        0,
	"database.connect_attempts": 5,
	"database.connect_backoff":  "500ms",

	"auth.hasher":         auth.HasherBcrypt,
	"auth.bcrypt_cost":    0,
	"auth.session_cookie": auth.DefaultSessionCookie,
	"auth.cookie_secure":  false,
	"auth.public_paths":   []string{"/", "/users", "/sessions", "/reset_password"},
}

// flagKeys maps command flag names to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.backend",
	"bolt-path":    "store.bolt_path",
	"database-url": "database.url",
	"hasher":       "auth.hasher",
	"bcrypt-cost":  "auth.bcrypt_cost",
}

// RegisterFlags adds the flags Load understands to fs. Their defaults are
// informational; Load only applies flags the user set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "127.0.0.1:5000", "API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health listen address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("store", BackendMemory, "user store backend (memory, bolt, postgres)")
	fs.String("bolt-path", "", "bolt database file (default: XDG_DATA_HOME/authd/users.db)")
	fs.String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	fs.String("hasher", auth.HasherBcrypt, "password hasher (bcrypt or argon2id)")
	fs.Int("bcrypt-cost", 0, "bcrypt cost (0 = library default)")
}

// Load builds the configuration. path names a YAML file; when empty the
// XDG config file is read if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if k.String("database.url") == "" {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			_ = k.Set("database.url", url)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if cfg.Store.Backend == BackendBolt && cfg.Store.BoltPath == "" {
		p, err := xdg.UsersDB()
		if err != nil {
			return nil, err
		}
		cfg.Store.BoltPath = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}
	switch {
	case c.Server.Addr == "":
		return invalid("server.addr", "server.addr is required")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	case !slices.Contains([]string{BackendMemory, BackendBolt, BackendPostgres}, c.Store.Backend):
		return invalid("store.backend", "store.backend must be memory, bolt or postgres, got %q", c.Store.Backend)
	case c.Store.Backend == BackendPostgres && c.Database.URL == "":
		return invalid("database.url", "database.url or DATABASE_URL is required for the postgres store")
	case c.Auth.Hasher != auth.HasherBcrypt && c.Auth.Hasher != auth.HasherArgon2id:
		return invalid("auth.hasher", "auth.hasher must be bcrypt or argon2id, got %q", c.Auth.Hasher)
	case c.Auth.SessionCookie == "":
		return invalid("auth.session_cookie", "auth.session_cookie is required")
	case c.Server.ShutdownTimeout <= 0:
		return invalid("server.shutdown_timeout", "server.shutdown_timeout must be positive")
	}
	return nil
}
