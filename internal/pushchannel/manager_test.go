package pushchannel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/adminsync/internal/session"
)

type recordingSink struct {
	mu     sync.Mutex
	topics []Topic
}

func (s *recordingSink) Invalidate(t Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, t)
}

func (s *recordingSink) Topics() []Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Topic(nil), s.topics...)
}

type fakeConn struct {
	frames   chan []byte
	fail     chan error
	requests atomic.Int32
	closed   atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), fail: make(chan error, 1)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.fail:
		return nil, err
	case f := <-c.frames:
		return f, nil
	}
}

func (c *fakeConn) RequestState(context.Context) error {
	c.requests.Add(1)
	return nil
}

func (c *fakeConn) Close(string) error {
	c.closed.Store(true)
	return nil
}

// fakeDialer hands out queued connections, or fails when none is queued.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) push(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func startManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestManager_DispatchesRecognizedTopics(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	sink := &recordingSink{}
	m := NewManager(d, sink, WithRetryDelay(time.Hour))
	startManager(t, m)

	require.Eventually(t, func() bool { s, _ := m.State(); return s == Connected }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), conn.requests.Load(), "one current-state request per connection")

	conn.frames <- []byte(`{"type":"USER_UPDATE","data":{"id":"u1"}}`)
	conn.frames <- []byte(`{"type":"SOMETHING_NEW"}`)
	conn.frames <- []byte(`{"data":{}}`)
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"type":"STATS_UPDATE","timestamp":"2026-01-01T00:00:00Z"}`)

	require.Eventually(t, func() bool { return len(sink.Topics()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []Topic{TopicUsers, TopicStats}, sink.Topics())
}

func TestManager_ReconnectsAfterFailure(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first)
	d.push(second)
	log := &stateLog{}
	m := NewManager(d, &recordingSink{}, WithRetryDelay(5*time.Millisecond))
	m.OnStateChange(log.record)
	startManager(t, m)

	require.Eventually(t, func() bool { return first.requests.Load() == 1 }, time.Second, time.Millisecond)
	first.fail <- errors.New("server closed")

	require.Eventually(t, func() bool { return second.requests.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, first.closed.Load())

	s, err := m.State()
	assert.Equal(t, Connected, s)
	assert.NoError(t, err)
	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected}, log.snapshot())
}

func TestManager_RetriesDialForever(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, &recordingSink{}, WithRetryDelay(time.Millisecond))
	startManager(t, m)

	require.Eventually(t, func() bool { return d.dials.Load() >= 5 }, 2*time.Second, time.Millisecond)
}

func TestManager_StopEndsDisconnected(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	m := NewManager(d, &recordingSink{})

	done := make(chan struct{})
	go func() {
		_ = m.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { s, _ := m.State(); return s == Connected }, time.Second, time.Millisecond)

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	s, err := m.State()
	assert.Equal(t, Disconnected, s)
	assert.NoError(t, err)
	assert.True(t, conn.closed.Load())
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "user update", raw: `{"type":"USER_UPDATE"}`, want: "USER_UPDATE"},
		{name: "unknown type is still a valid frame", raw: `{"type":"X"}`, want: "X"},
		{name: "missing type", raw: `{"data":1}`, wantErr: true},
		{name: "empty type", raw: `{"type":""}`, wantErr: true},
		{name: "numeric type", raw: `{"type":7}`, wantErr: true},
		{name: "array", raw: `[]`, wantErr: true},
		{name: "not json", raw: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
		})
	}
}

func TestWebSocketDialer_EndToEnd(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case headers <- r.Header.Clone():
		default:
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		var req Event
		if err := wsjson.Read(r.Context(), c, &req); err != nil || req.Type != RequestCurrentState {
			return
		}
		_ = wsjson.Write(r.Context(), c, Event{Type: string(TopicStats)})
		_ = wsjson.Write(r.Context(), c, Event{Type: string(TopicUsers)})
		<-r.Context().Done()
	}))
	defer srv.Close()

	sink := &recordingSink{}
	d := &WebSocketDialer{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		Credentials:   session.NewStatic("tok", "svc"),
		ServiceHeader: "X-Admin-Key",
	}
	m := NewManager(d, sink, WithRetryDelay(time.Hour))
	startManager(t, m)

	require.Eventually(t, func() bool { return len(sink.Topics()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Topic{TopicStats, TopicUsers}, sink.Topics())
	h := <-headers
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.Equal(t, "svc", h.Get("X-Admin-Key"))
}

func TestWebSocketDialer_MissingCredentials(t *testing.T) {
	d := &WebSocketDialer{URL: "ws://127.0.0.1:1", Credentials: session.NewStatic("", "")}
	_, err := d.Dial(context.Background())
	assert.ErrorIs(t, err, session.ErrMissingCredential)
}
