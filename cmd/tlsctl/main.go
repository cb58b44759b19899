// Command tlsctl drives TLS client connections from a terminal.
//
// Usage:
//
//	tlsctl [flags] [command] [args]
//
// Commands:
//
//	shell           Interactive shell (default)
//	serve           Run a TLS echo server with a fresh self-signed certificate
//	log <file>      Print a recorded event capture
//
// Flags:
//
//	-config string     Configuration file (.toml, .yaml or .yml)
//	-log-level string  Override the configured log level
//	-record string     Record every event to this CBOR file
//
// Examples:
//
//	# Talk to a device that presents a self-signed certificate
//	tlsctl
//	tlsctl> connect 192.168.4.1 8443 -insecure -sni device.local
//	tlsctl> send <id> 68656c6c6f hex
//
//	# Local echo server for experiments
//	tlsctl serve -addr 127.0.0.1:8443 -alpn echo/1
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/cyberinferno/go-tlsbridge/config"
	"github.com/cyberinferno/go-tlsbridge/eventlog"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/resolver"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (.toml, .yaml or .yml)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	recordPath := flag.String("record", "", "Record every event to this CBOR file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *recordPath != "" {
		cfg.Record.Path = *recordPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()
	cmd := "shell"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "shell":
		err = runShell(ctx, cancel, cfg)
	case "serve":
		err = runServe(ctx, cfg, args)
	case "log":
		err = runLog(os.Stdout, args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the configured logger writing to out.
func newLogger(cfg config.Config, out io.Writer) (logger.Logger, error) {
	opts := cfg.LoggerOptions()
	opts.Output = out
	return logger.New(opts)
}

// newBridge wires the resolver cache and the event recorder around a bridge.
// The returned cleanup closes whatever was opened.
func newBridge(cfg config.Config, log logger.Logger) (*bridge.Bridge, func(), error) {
	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithSessionDefaults(cfg.SessionDefaults()),
	}

	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn("cleanup failed", logger.Err(err))
			}
		}
	}

	var cache resolver.Cache
	switch cfg.Resolver.Cache {
	case config.CacheMemory:
		cache = resolver.NewMemoryCache(cfg.Resolver.TTL)
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Resolver.RedisAddr,
			Password: cfg.Resolver.RedisPassword,
			DB:       cfg.Resolver.RedisDB,
		})
		closers = append(closers, client)
		cache = resolver.NewRedisCache(client)
	}
	if cache != nil {
		opts = append(opts, bridge.WithDialer(resolver.NewDialer(
			cfg.BaseDialer(), cache,
			resolver.WithTTL(cfg.Resolver.TTL),
			resolver.WithLogger(log),
		)))
	}

	b := bridge.New(opts...)

	if cfg.Record.Path != "" {
		rec, err := eventlog.NewRecorder(cfg.Record.Path, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open event capture: %w", err)
		}
		if err := rec.Attach(b); err != nil {
			_ = rec.Close()
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, rec)
		log.Info("recording events", logger.Field{Key: "path", Value: cfg.Record.Path})
	}

	return b, cleanup, nil
}
