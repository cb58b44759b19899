// Package config loads tlsctl settings from a TOML or YAML file on top of
// built-in defaults.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/cyberinferno/go-tlsbridge/internal/sockopt"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/resolver"
	"github.com/cyberinferno/go-tlsbridge/tlssession"
	"gopkg.in/yaml.v3"
)

// Resolver cache backends.
const (
	CacheOff    = "off"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the complete tlsctl configuration.
type Config struct {
	Log      LogConfig
	Session  SessionConfig
	Resolver ResolverConfig
	Record   RecordConfig
}

// LogConfig configures the logger.
type LogConfig struct {
	ServiceName string
	Level       string
	Format      logger.Format
	Dir         string
}

// SessionConfig holds the defaults applied to every connection.
type SessionConfig struct {
	ConnectTimeout    time.Duration
	ReadBufferSize    int
	MinTLSVersion     uint16
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
}

// ResolverConfig selects the DNS cache.
type ResolverConfig struct {
	Cache         string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RecordConfig enables event capture when Path is set.
type RecordConfig struct {
	Path string
}

// Default returns the built-in configuration.
func Default() Config {
	s := tlssession.DefaultConfig("", "", 0)
	return Config{
		Log: LogConfig{
			ServiceName: "tlsctl",
			Level:       "info",
			Format:      logger.FormatConsole,
		},
		Session: SessionConfig{
			ConnectTimeout:    s.ConnectTimeout,
			ReadBufferSize:    s.ReadBufferSize,
			MinTLSVersion:     s.MinVersion,
			KeepAliveIdle:     s.KeepAlive.Idle,
			KeepAliveInterval: s.KeepAlive.Interval,
			KeepAliveCount:    s.KeepAlive.Count,
		},
		Resolver: ResolverConfig{
			Cache: CacheOff,
			TTL:   resolver.DefaultTTL,
		},
	}
}

// Load reads path over Default and validates the result. The format follows
// the extension: .toml, or .yaml/.yml. Unknown keys are errors.
//
// Parameters:
//   - path: Configuration file
//
// Returns:
//   - The merged Config, or the first read, parse or validation error
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	if c.Session.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("session.connect_timeout must be positive"))
	}
	if c.Session.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("session.read_buffer_size must be positive"))
	}
	if c.Session.KeepAliveCount < 0 {
		errs = append(errs, errors.New("session.keepalive_count must not be negative"))
	}

	switch c.Resolver.Cache {
	case CacheOff, CacheMemory:
	case CacheRedis:
		if c.Resolver.RedisAddr == "" {
			errs = append(errs, errors.New("resolver.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("resolver.cache: unknown backend %q", c.Resolver.Cache))
	}
	if c.Resolver.TTL <= 0 {
		errs = append(errs, errors.New("resolver.ttl must be positive"))
	}

	return errors.Join(errs...)
}

// LoggerOptions converts the log section for logger.New.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{
		ServiceName: c.Log.ServiceName,
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		Dir:         c.Log.Dir,
	}
}

// SessionDefaults converts the session section for bridge.WithSessionDefaults.
func (c Config) SessionDefaults() bridge.SessionDefaults {
	return bridge.SessionDefaults{
		ConnectTimeout: c.Session.ConnectTimeout,
		ReadBufferSize: c.Session.ReadBufferSize,
		MinVersion:     c.Session.MinTLSVersion,
		KeepAlive:      c.keepAlive(),
	}
}

// BaseDialer returns the socket dialer matching the session keepalive
// settings, for wrapping in a resolver.Dialer.
func (c Config) BaseDialer() *net.Dialer {
	return &net.Dialer{KeepAliveConfig: c.keepAlive(), Control: sockopt.Control}
}

func (c Config) keepAlive() net.KeepAliveConfig {
	return net.KeepAliveConfig{
		Enable:   c.Session.KeepAliveCount > 0,
		Idle:     c.Session.KeepAliveIdle,
		Interval: c.Session.KeepAliveInterval,
		Count:    c.Session.KeepAliveCount,
	}
}

func parseTLSVersion(s string) (uint16, error) {
	switch strings.TrimSpace(s) {
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (want 1.2 or 1.3)", s)
	}
}
