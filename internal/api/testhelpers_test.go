package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/bngnha/sensu/internal/api"
	"github.com/bngnha/sensu/internal/registry"
	"github.com/bngnha/sensu/internal/settings"
	"github.com/bngnha/sensu/internal/transport"
)

type publishedMessage struct {
	ExchangeType string
	Pipe         string
	Payload      []byte
}

// fakeTransport implements api.Transport, recording published messages and
// serving canned queue statistics.
type fakeTransport struct {
	mu         sync.Mutex
	published  []publishedMessage
	connected  bool
	stats      map[string]transport.QueueStats
	statsErr   error
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		stats:     map[string]transport.QueueStats{},
	}
}

func (f *fakeTransport) Publish(_ context.Context, exchangeType, name string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{
		ExchangeType: exchangeType,
		Pipe:         name,
		Payload:      append([]byte(nil), payload...),
	})
	return nil
}

func (f *fakeTransport) Stats(_ context.Context, queue string) (transport.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return transport.QueueStats{}, f.statsErr
	}
	return f.stats[queue], nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) setStats(queue string, stats transport.QueueStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[queue] = stats
}

func (f *fakeTransport) setStatsError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsErr = err
}

func (f *fakeTransport) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

// disconnectedRegistry wraps a live registry but reports the connection as
// down, for exercising the connectivity gate.
type disconnectedRegistry struct {
	api.Registry
}

func (disconnectedRegistry) Connected() bool { return false }

// blockedRemRegistry wraps a live registry and holds every SRem until
// release is closed, for exercising detached index repair.
type blockedRemRegistry struct {
	api.Registry
	release chan struct{}
}

func (b *blockedRemRegistry) SRem(ctx context.Context, set, member string) error {
	<-b.release
	return b.Registry.SRem(ctx, set, member)
}

// testServer wires a router against miniredis and a fake transport. The
// settings pointer is shared with the router, so tests may adjust auth,
// CORS, and check definitions before issuing requests.
type testServer struct {
	router    http.Handler
	server    *api.Server
	registry  *registry.Store
	transport *fakeTransport
	redis     *miniredis.Miniredis
	settings  *settings.Settings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := registry.Dial(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ft := newFakeTransport()
	cfg := settings.Default()
	srv := &api.Server{Registry: store, Transport: ft, Settings: cfg}

	return &testServer{
		router:    api.NewRouter(srv),
		server:    srv,
		registry:  store,
		transport: ft,
		redis:     mr,
		settings:  cfg,
	}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doAuth(method, target, body, user, password string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.SetBasicAuth(user, password)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedClient(t *testing.T, name, doc string) {
	t.Helper()
	require.NoError(t, ts.redis.Set("client:"+name, doc))
	_, err := ts.redis.SetAdd("clients", name)
	require.NoError(t, err)
}

func (ts *testServer) seedResult(t *testing.T, client, check, doc string) {
	t.Helper()
	require.NoError(t, ts.redis.Set("result:"+client+":"+check, doc))
	_, err := ts.redis.SetAdd("result:"+client, check)
	require.NoError(t, err)
}

func (ts *testServer) seedEvent(t *testing.T, client, check, doc string) {
	t.Helper()
	ts.redis.HSet("events:"+client, check, doc)
}
