package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/cyberinferno/go-tlsbridge/config"
	"github.com/cyberinferno/go-tlsbridge/eventlog"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectArgs(t *testing.T) {
	opts, err := parseConnectArgs([]string{"192.168.4.1", "8443", "-insecure", "-sni", "device.local", "-alpn", "h2, http/1.1", "-id", "dev", "-timeout", "3s"})
	require.NoError(t, err)

	assert.Equal(t, bridge.ConnectOptions{
		ID:            "dev",
		Host:          "192.168.4.1",
		Port:          8443,
		Insecure:      true,
		SNI:           "device.local",
		Timeout:       3 * time.Second,
		ALPNProtocols: []string{"h2", "http/1.1"},
	}, opts)

	_, err = parseConnectArgs([]string{"host"})
	assert.Error(t, err)
	_, err = parseConnectArgs([]string{"host", "https"})
	assert.Error(t, err)
	_, err = parseConnectArgs([]string{"host", "443", "-bogus"})
	assert.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "[a] connected TLS 1.3 TLS_AES_128_GCM_SHA256 alpn=h2",
		formatEvent(bridge.Event{Type: bridge.EventConnect, ID: "a", TLSVersion: "TLS 1.3", CipherSuite: "TLS_AES_128_GCM_SHA256", Protocol: "h2"}))
	assert.Equal(t, `[a] data 2 bytes: "hi"`,
		formatEvent(bridge.Event{Type: bridge.EventData, ID: "a", Data: bridge.EncodePayload([]byte("hi")), Encoding: bridge.EncodingBase64}))
	assert.Equal(t, "[a] error: boom", formatEvent(bridge.Event{Type: bridge.EventError, ID: "a", Error: "boom"}))
	assert.Equal(t, "[a] closed", formatEvent(bridge.Event{Type: bridge.EventClose, ID: "a"}))
	assert.Equal(t, "[a] closed: boom", formatEvent(bridge.Event{Type: bridge.EventClose, ID: "a", Error: "boom"}))
}

func TestRunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	rec, err := eventlog.NewRecorder(path, nil)
	require.NoError(t, err)
	rec.Record(bridge.Event{Type: bridge.EventConnect, ID: "a", Time: time.Now(), TLSVersion: "TLS 1.3"})
	rec.Record(bridge.Event{Type: bridge.EventData, ID: "a", Time: time.Now(), Data: bridge.EncodePayload([]byte{0xca, 0xfe}), Encoding: bridge.EncodingBase64})
	rec.Record(bridge.Event{Type: bridge.EventClose, ID: "b", Time: time.Now()})
	require.NoError(t, rec.Close())

	var out bytes.Buffer
	require.NoError(t, runLog(&out, []string{"-id", "a", path}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "a connect TLS 1.3")
	assert.Contains(t, lines[1], "data 2 bytes ca fe")

	assert.Error(t, runLog(&out, nil))
}

func TestNewBridge_Recording(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.Cache = config.CacheMemory
	cfg.Record.Path = filepath.Join(t.TempDir(), "events.cbor")

	b, cleanup, err := newBridge(cfg, logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, b)
	cleanup()

	_, err = eventlog.ReadAll(cfg.Record.Path, eventlog.Filter{})
	assert.NoError(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
