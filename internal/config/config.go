// Package config handles tangram configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tangram.toml, ~/.config/tangram/tangram.toml, /config/tangram.toml,
// /etc/tangram/tangram.toml.
func DefaultSearchPaths() []string {
	paths := []string{"tangram.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tangram", "tangram.toml"))
	}

	paths = append(paths, "/config/tangram.toml") // Container convention
	paths = append(paths, "/etc/tangram/tangram.toml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all tangram configuration, mirroring the `core`,
// `server`, `channel`, `map`, `cache` and `plugins.<name>` TOML
// sections.
type Config struct {
	Core    CoreConfig              `toml:"core"`
	Server  ServerConfig            `toml:"server"`
	Channel ChannelConfig           `toml:"channel"`
	Map     MapConfig               `toml:"map"`
	Cache   CacheConfig             `toml:"cache"`
	Plugins map[string]PluginConfig `toml:"plugins"`
}

// CoreConfig holds process-wide settings.
type CoreConfig struct {
	RedisURL string   `toml:"redis_url"`
	Plugins  []string `toml:"plugins"`
	LogLevel string   `toml:"log_level"`
}

// ServerConfig holds the static-file/HTTP server bind address. The
// core itself only serves /healthz and /metrics on this address; the
// rest of the HTTP surface (frontend, REST routes) is an external
// collaborator.
type ServerConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// ChannelConfig holds the channel multiplexer's listen address and
// admission token parameters.
type ChannelConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	PublicURL          string `toml:"public_url"`
	JWTSecret          string `toml:"jwt_secret"`
	JWTExpirationSecs  int64  `toml:"jwt_expiration_secs"`
	IDLength           int    `toml:"id_length"`
	HeartbeatWindowSec int    `toml:"heartbeat_window_secs"`
}

// MapConfig holds frontend map-rendering defaults. Out of scope for
// the core; retained only so the TOML section round-trips
// without an "unrecognized key" error for deployments that set it.
type MapConfig struct {
	DefaultCenterLat float64 `toml:"default_center_lat"`
	DefaultCenterLon float64 `toml:"default_center_lon"`
	DefaultZoom      int     `toml:"default_zoom"`
}

// CacheConfig holds geospatial/time-series cache tuning shared by the
// live-state pipeline and geo index.
type CacheConfig struct {
	GeosetTTLSecs int `toml:"geoset_ttl_secs"`
}

// PluginConfig is a loosely-typed bag for `plugins.<name>` sections.
// Individual plugins (history, jet1090, ship162, ...) decode the
// fields they recognise out of this map via [PluginConfig.Decode].
type PluginConfig map[string]any

// Decode re-marshals the plugin's TOML fragment into dst via the TOML
// encoder/decoder round trip, so callers can declare a typed struct
// per plugin without the core config package knowing about it.
func (p PluginConfig) Decode(dst any) error {
	var buf []byte
	var err error
	if buf, err = toml.Marshal(map[string]any(p)); err != nil {
		return fmt.Errorf("re-encode plugin config: %w", err)
	}
	if _, err := toml.Decode(string(buf), dst); err != nil {
		return fmt.Errorf("decode plugin config: %w", err)
	}
	return nil
}

// JWTExpiration returns the configured token lifetime, defaulting to
// ten years.
func (c ChannelConfig) JWTExpiration() time.Duration {
	if c.JWTExpirationSecs <= 0 {
		return 10 * 365 * 24 * time.Hour
	}
	return time.Duration(c.JWTExpirationSecs) * time.Second
}

// HeartbeatWindow returns the configured heartbeat window, defaulting
// to 60s.
func (c ChannelConfig) HeartbeatWindow() time.Duration {
	if c.HeartbeatWindowSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.HeartbeatWindowSec) * time.Second
}

// Load reads configuration from a TOML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${REDIS_URL}). Convenience
	// for container deployments; values can also go directly in the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Core.RedisURL == "" {
		c.Core.RedisURL = "redis://127.0.0.1:6379"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Channel.Port == 0 {
		c.Channel.Port = 8000
	}
	if c.Channel.IDLength == 0 {
		c.Channel.IDLength = 12
	}
	if c.Cache.GeosetTTLSecs == 0 {
		c.Cache.GeosetTTLSecs = 60
	}
	if c.Plugins == nil {
		c.Plugins = make(map[string]PluginConfig)
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", c.Server.Port)
	}
	if c.Channel.Port < 1 || c.Channel.Port > 65535 {
		return fmt.Errorf("channel.port %d out of range (1-65535)", c.Channel.Port)
	}
	if c.Channel.JWTSecret == "" {
		return fmt.Errorf("channel.jwt_secret must be set")
	}
	if c.Core.LogLevel != "" {
		if _, err := ParseLogLevel(c.Core.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against a Redis instance on localhost. All defaults are
// already applied except the JWT secret, which callers must set
// before Validate will pass.
func Default() *Config {
	cfg := &Config{
		Plugins: make(map[string]PluginConfig),
	}
	cfg.applyDefaults()
	return cfg
}
