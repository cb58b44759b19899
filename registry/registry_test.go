package registry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-tlsbridge/idgen"
	"github.com/cyberinferno/go-tlsbridge/internal/echoserver"
	"github.com/cyberinferno/go-tlsbridge/tlssession"
	"github.com/cyberinferno/go-tlsbridge/trustpolicy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeWatcher records whether the registry still held the session when its
// OnClose arrived.
type closeWatcher struct {
	tlssession.NopSink
	reg *Registry

	mu              sync.Mutex
	closes          int
	registeredAtEnd bool
}

func (p *closeWatcher) OnClose(id string, _ error) {
	_, ok := p.reg.sessions.Load(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.registeredAtEnd = ok
}

func (p *closeWatcher) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func newEcho(t *testing.T) (*echoserver.Server, *echoserver.Certificate) {
	t.Helper()

	cert, err := echoserver.NewCertificate("localhost", "127.0.0.1")
	require.NoError(t, err)

	srv := echoserver.New(echoserver.DefaultConfig(cert.TLS), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, cert
}

func echoConfig(id string, srv *echoserver.Server, cert *echoserver.Certificate) tlssession.Config {
	cfg := tlssession.DefaultConfig(id, "localhost", srv.Port())
	cfg.Policy = trustpolicy.Verify{Roots: cert.Pool}
	return cfg
}

func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitDone(t *testing.T, s *tlssession.Session) {
	t.Helper()

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("session %s did not finish", s.ID())
	}
}

func TestRegistry_CreateGeneratesUUID(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })

	s, err := r.Create(echoConfig("", srv, cert), nil)
	require.NoError(t, err)

	_, err = uuid.Parse(s.ID())
	assert.NoError(t, err)

	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, []string{s.ID()}, r.IDs())
}

func TestRegistry_CreateWithIDGenerator(t *testing.T) {
	srv, cert := newEcho(t)
	r := New(WithIDGenerator(idgen.NewSequence("conn-", 0)))
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })

	a, err := r.Create(echoConfig("", srv, cert), nil)
	require.NoError(t, err)
	b, err := r.Create(echoConfig("", srv, cert), nil)
	require.NoError(t, err)

	assert.Equal(t, "conn-1", a.ID())
	assert.Equal(t, "conn-2", b.ID())
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, r.IDs())
}

func TestRegistry_CreateRejectsLiveID(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })

	first, err := r.Create(echoConfig("dup", srv, cert), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.State() == tlssession.Open }, 5*time.Second, 5*time.Millisecond)

	_, err = r.Create(echoConfig("dup", srv, cert), nil)
	assert.ErrorIs(t, err, ErrIDInUse)

	got, ok := r.Get("dup")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, tlssession.Open, first.State())
}

func TestRegistry_ConcurrentCreateSameID(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, inUse := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(echoConfig("race", srv, cert), nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, ErrIDInUse) {
				inUse++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, inUse)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CreateInvalidConfig(t *testing.T) {
	r := New()

	_, err := r.Create(tlssession.DefaultConfig("bad", "", 443), nil)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SelfCloseUnregistersBeforeClose(t *testing.T) {
	r := New()
	watcher := &closeWatcher{reg: r}

	s, err := r.Create(tlssession.DefaultConfig("refused", "127.0.0.1", closedPort(t)), watcher)
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 1, watcher.closeCount())
	assert.False(t, watcher.registeredAtEnd)
	assert.Equal(t, 0, r.Len())

	// The id is free again.
	again, err := r.Create(tlssession.DefaultConfig("refused", "127.0.0.1", closedPort(t)), nil)
	require.NoError(t, err)
	waitDone(t, again)
}

func TestRegistry_Remove(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()
	watcher := &closeWatcher{reg: r}

	s, err := r.Create(echoConfig("rm", srv, cert), watcher)
	require.NoError(t, err)

	removed, ok := r.Remove("rm")
	require.True(t, ok)
	assert.Same(t, s, removed)
	waitDone(t, s)

	assert.Equal(t, tlssession.Closed, s.State())
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove("rm")
	assert.False(t, ok)
	assert.Equal(t, 1, watcher.closeCount())
}

func TestRegistry_StaleHookLeavesNewSession(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()
	t.Cleanup(func() { _ = r.CloseAll(context.Background()) })

	old, err := r.Create(echoConfig("reuse", srv, cert), nil)
	require.NoError(t, err)

	// Unregister without closing, register a replacement, then let the old
	// session's close hook run.
	r.sessions.Delete("reuse")
	fresh, err := r.Create(echoConfig("reuse", srv, cert), nil)
	require.NoError(t, err)

	require.NoError(t, old.Close())
	waitDone(t, old)

	got, ok := r.Get("reuse")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistry_GetSkipsClosedSession(t *testing.T) {
	r := New()

	s, err := tlssession.New(tlssession.DefaultConfig("gone", "example.test", 443), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	r.sessions.Store("gone", s)
	_, ok := r.Get("gone")
	assert.False(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	srv, cert := newEcho(t)
	r := New()

	var sessions []*tlssession.Session
	watchers := make([]*closeWatcher, 0, 5)
	for i := 0; i < 5; i++ {
		p := &closeWatcher{reg: r}
		s, err := r.Create(echoConfig("", srv, cert), p)
		require.NoError(t, err)
		sessions = append(sessions, s)
		watchers = append(watchers, p)
	}
	require.Equal(t, 5, r.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.CloseAll(ctx))

	assert.Equal(t, 0, r.Len())
	for i, s := range sessions {
		assert.Equal(t, tlssession.Closed, s.State())
		assert.Equal(t, 1, watchers[i].closeCount())
	}

	assert.NoError(t, r.CloseAll(ctx))
}
