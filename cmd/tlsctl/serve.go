package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cyberinferno/go-tlsbridge/config"
	"github.com/cyberinferno/go-tlsbridge/internal/echoserver"
	"github.com/cyberinferno/go-tlsbridge/logger"
)

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:8443", "Listen address")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "Comma-separated certificate names and IPs")
	alpn := fs.String("alpn", "", "Comma-separated ALPN protocols to accept")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer log.Close()

	cert, err := echoserver.NewCertificate(splitList(*hosts)...)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	srvCfg := echoserver.DefaultConfig(cert.TLS)
	srvCfg.Addr = *addr
	srvCfg.NextProtos = splitList(*alpn)

	srv := echoserver.New(srvCfg, log)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	fp := sha256.Sum256(cert.Leaf.Raw)
	log.Info("echo server ready",
		logger.Field{Key: "addr", Value: srv.Addr()},
		logger.Field{Key: "sha256", Value: fmt.Sprintf("%X", fp)},
	)

	<-ctx.Done()
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
