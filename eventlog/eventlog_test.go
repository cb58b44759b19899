package eventlog

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEvent(t *testing.T) {
	now := time.Now()

	rec, err := FromEvent(bridge.Event{
		Type:     bridge.EventData,
		ID:       "c1",
		Time:     now,
		Data:     bridge.EncodePayload([]byte("hi")),
		Encoding: bridge.EncodingBase64,
	})
	require.NoError(t, err)
	assert.Equal(t, "data", rec.Type)
	assert.Equal(t, []byte("hi"), rec.Payload)

	_, err = FromEvent(bridge.Event{Type: bridge.EventData, Data: "%%%", Encoding: bridge.EncodingBase64})
	assert.Error(t, err)

	rec, err = FromEvent(bridge.Event{Type: bridge.EventClose, ID: "c1", Error: "Read error: reset"})
	require.NoError(t, err)
	assert.Nil(t, rec.Payload)
	assert.Equal(t, "Read error: reset", rec.Error)
}

func TestMarshalUnmarshal(t *testing.T) {
	in := Record{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "c1",
		Type:         "connect",
		Protocol:     "h2",
		TLSVersion:   "TLS 1.3",
		ConnectTime:  42 * time.Millisecond,
	}

	data, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	out.Timestamp = in.Timestamp
	assert.Equal(t, in, out)
}

func TestRecorderAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	rec, err := NewRecorder(path, nil)
	require.NoError(t, err)

	base := time.Now()
	events := []bridge.Event{
		{Type: bridge.EventConnect, ID: "a", Time: base, Protocol: "h2"},
		{Type: bridge.EventData, ID: "a", Time: base.Add(time.Millisecond), Data: bridge.EncodePayload([]byte{1, 2}), Encoding: bridge.EncodingBase64},
		{Type: bridge.EventError, ID: "b", Time: base.Add(2 * time.Millisecond), Error: "TLS connect error: refused"},
		{Type: bridge.EventClose, ID: "b", Time: base.Add(3 * time.Millisecond), Error: "TLS connect error: refused"},
		{Type: bridge.EventClose, ID: "a", Time: base.Add(4 * time.Millisecond)},
	}
	for _, ev := range events {
		rec.Record(ev)
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	rec.Record(bridge.Event{Type: bridge.EventConnect, ID: "late"})

	all, err := ReadAll(path, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, []byte{1, 2}, all[1].Payload)

	onlyA, err := ReadAll(path, Filter{ConnectionID: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	closes, err := ReadAll(path, Filter{Types: []string{"close"}})
	require.NoError(t, err)
	assert.Len(t, closes, 2)

	window, err := ReadAll(path, Filter{Since: base.Add(time.Millisecond), Until: base.Add(3 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "data", window[0].Type)
	assert.Equal(t, "error", window[1].Type)
}

func TestRecorder_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	for i := 0; i < 2; i++ {
		rec, err := NewRecorder(path, nil)
		require.NoError(t, err)
		rec.Record(bridge.Event{Type: bridge.EventConnect, ID: "a", Time: time.Now()})
		require.NoError(t, rec.Close())
	}

	all, err := ReadAll(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReader_MissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.cbor"), Filter{})
	assert.Error(t, err)
}

func TestRecorder_AttachToBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	b := bridge.New()
	path := filepath.Join(t.TempDir(), "events.cbor")
	rec, err := NewRecorder(path, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Attach(b))

	closed := make(chan struct{})
	_, err = b.AddListener(bridge.EventClose, func(bridge.Event) { close(closed) })
	require.NoError(t, err)

	id, err := b.Connect(bridge.ConnectOptions{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("no close event")
	}
	require.NoError(t, rec.Close())
	require.NoError(t, b.Close(context.Background()))

	all, err := ReadAll(path, Filter{ConnectionID: id})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "error", all[0].Type)
	assert.Equal(t, "close", all[1].Type)
	assert.Equal(t, all[0].Error, all[1].Error)
}
