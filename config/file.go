package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/go-tlsbridge/logger"
)

// fileConfig mirrors the on-disk layout. Pointer fields tell an absent key
// from an explicit zero.
type fileConfig struct {
	Log struct {
		ServiceName *string `toml:"service_name" yaml:"service_name"`
		Level       *string `toml:"level" yaml:"level"`
		Format      *string `toml:"format" yaml:"format"`
		Dir         *string `toml:"dir" yaml:"dir"`
	} `toml:"log" yaml:"log"`

	Session struct {
		ConnectTimeout    *string `toml:"connect_timeout" yaml:"connect_timeout"`
		ReadBufferSize    *int    `toml:"read_buffer_size" yaml:"read_buffer_size"`
		MinTLSVersion     *string `toml:"min_tls_version" yaml:"min_tls_version"`
		KeepAliveIdle     *string `toml:"keepalive_idle" yaml:"keepalive_idle"`
		KeepAliveInterval *string `toml:"keepalive_interval" yaml:"keepalive_interval"`
		KeepAliveCount    *int    `toml:"keepalive_count" yaml:"keepalive_count"`
	} `toml:"session" yaml:"session"`

	Resolver struct {
		Cache         *string `toml:"cache" yaml:"cache"`
		TTL           *string `toml:"ttl" yaml:"ttl"`
		RedisAddr     *string `toml:"redis_addr" yaml:"redis_addr"`
		RedisPassword *string `toml:"redis_password" yaml:"redis_password"`
		RedisDB       *int    `toml:"redis_db" yaml:"redis_db"`
	} `toml:"resolver" yaml:"resolver"`

	Record struct {
		Path *string `toml:"path" yaml:"path"`
	} `toml:"record" yaml:"record"`
}

func (f fileConfig) apply(cfg *Config) error {
	setString(&cfg.Log.ServiceName, f.Log.ServiceName)
	setString(&cfg.Log.Level, f.Log.Level)
	setString(&cfg.Log.Dir, f.Log.Dir)
	if f.Log.Format != nil {
		cfg.Log.Format = logger.Format(strings.ToLower(strings.TrimSpace(*f.Log.Format)))
	}

	if err := setDuration(&cfg.Session.ConnectTimeout, f.Session.ConnectTimeout, "session.connect_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.KeepAliveIdle, f.Session.KeepAliveIdle, "session.keepalive_idle"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.KeepAliveInterval, f.Session.KeepAliveInterval, "session.keepalive_interval"); err != nil {
		return err
	}
	if f.Session.ReadBufferSize != nil {
		cfg.Session.ReadBufferSize = *f.Session.ReadBufferSize
	}
	if f.Session.KeepAliveCount != nil {
		cfg.Session.KeepAliveCount = *f.Session.KeepAliveCount
	}
	if f.Session.MinTLSVersion != nil {
		v, err := parseTLSVersion(*f.Session.MinTLSVersion)
		if err != nil {
			return fmt.Errorf("session.min_tls_version: %w", err)
		}
		cfg.Session.MinTLSVersion = v
	}

	if f.Resolver.Cache != nil {
		cfg.Resolver.Cache = strings.ToLower(strings.TrimSpace(*f.Resolver.Cache))
	}
	if err := setDuration(&cfg.Resolver.TTL, f.Resolver.TTL, "resolver.ttl"); err != nil {
		return err
	}
	setString(&cfg.Resolver.RedisAddr, f.Resolver.RedisAddr)
	setString(&cfg.Resolver.RedisPassword, f.Resolver.RedisPassword)
	if f.Resolver.RedisDB != nil {
		cfg.Resolver.RedisDB = *f.Resolver.RedisDB
	}

	setString(&cfg.Record.Path, f.Record.Path)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}

	*dst = d
	return nil
}
