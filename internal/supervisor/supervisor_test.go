package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/gtmanfred/slackmgmt/internal/config"
	"github.com/gtmanfred/slackmgmt/internal/dispatch"
	"github.com/gtmanfred/slackmgmt/internal/events"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/plugins"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/internal/rtm"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
)

// countingHandshake hands out the fake RTM URL and counts connect attempts.
type countingHandshake struct {
	url   string
	err   error
	calls atomic.Int32
}

func (h *countingHandshake) Handshake(context.Context) (string, error) {
	h.calls.Add(1)
	return h.url, h.err
}

// recorder is a plugin that remembers the types it saw.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Consume(_ context.Context, _ sdk.Context, ev sdk.Event) error {
	r.mu.Lock()
	r.types = append(r.types, ev.Type())
	r.mu.Unlock()
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

// fakeRTM is a per-test stand-in for the RTM endpoint. serve is fixed at
// construction; cleanup closes any connection still open and waits for its
// handler, since httptest does not track hijacked connections.
type fakeRTM struct {
	srv      *httptest.Server
	pings    atomic.Int32
	sessions atomic.Int32

	mu       sync.Mutex
	closed   bool
	conns    []*websocket.Conn
	handlers sync.WaitGroup
}

func newFakeRTM(t *testing.T, serve func(f *fakeRTM, conn *websocket.Conn)) *fakeRTM {
	f := &fakeRTM{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.handlers.Add(1)
		defer f.handlers.Done()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !f.track(conn) {
			return
		}
		f.sessions.Add(1)
		serve(f, conn)
	}))
	t.Cleanup(f.close)
	return f
}

func (f *fakeRTM) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeRTM) track(conn *websocket.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.conns = append(f.conns, conn)
	return true
}

func (f *fakeRTM) close() {
	f.srv.Close()
	f.mu.Lock()
	f.closed = true
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.mu.Unlock()
	f.handlers.Wait()
}

// answerPings replies to every ping with the matching pong.
func (f *fakeRTM) answerPings(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var p struct {
			Type string `json:"type"`
			ID   int64  `json:"id"`
		}
		if json.Unmarshal(data, &p) != nil || p.Type != "ping" {
			continue
		}
		f.pings.Add(1)
		if err := conn.WriteJSON(map[string]any{"type": "pong", "reply_to": p.ID}); err != nil {
			return
		}
	}
}

type SupervisorSuite struct {
	suite.Suite

	log      *zap.Logger
	metrics  *metrics.Metrics
	pongs    *events.LastPong
	handle   *rtm.Handle
	hs       *countingHandshake
	recorder *recorder
}

func TestSupervisorSuite(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func (s *SupervisorSuite) SetupTest() {
	s.log = zaptest.NewLogger(s.T())
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.pongs = events.NewLastPong()
	s.handle = &rtm.Handle{}
	s.recorder = &recorder{}
	s.hs = &countingHandshake{}
}

// listen starts this test's RTM endpoint and points the handshake at it.
func (s *SupervisorSuite) listen(serve func(f *fakeRTM, conn *websocket.Conn)) *fakeRTM {
	f := newFakeRTM(s.T(), serve)
	s.hs.url = f.url()
	return f
}

func (s *SupervisorSuite) build(interval time.Duration, opts Options) *Supervisor {
	s.T().Setenv(config.EnvToken, "xoxb-test")
	cfg, err := config.Parse(nil)
	s.Require().NoError(err)

	d := dispatch.New(queue.New[sdk.Event](), s.pongs, events.NewBus(), s.log, s.metrics)
	rec := s.recorder
	reg := plugins.NewRegistry()
	reg.MustRegister("recorder", func() sdk.Plugin { return rec })
	pm := plugins.NewManager(cfg, s.log, reg, nil, s.metrics)

	client := rtm.NewClient(s.hs, s.log, s.metrics)
	mon := rtm.NewMonitor(s.handle, s.pongs, interval, 5*time.Millisecond, s.log, s.metrics)
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = 5 * time.Millisecond
		opts.BackoffMax = 20 * time.Millisecond
	}
	return New(d, pm, nil, client, mon, s.handle, opts, s.log, s.metrics)
}

func (s *SupervisorSuite) start(sup *Supervisor) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return cancel, done
}

func (s *SupervisorSuite) stop(cancel context.CancelFunc, done <-chan error) {
	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.FailNow("supervisor did not stop")
	}
	s.False(s.handle.Active(), "handle must be cleared after shutdown")
}

func (s *SupervisorSuite) TestReconnectsAfterClose() {
	s.listen(func(_ *fakeRTM, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	cancel, done := s.start(s.build(time.Hour, Options{}))

	s.Require().Eventually(func() bool { return s.hs.calls.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	s.Require().Eventually(func() bool { return len(s.recorder.seen()) >= 3 }, 3*time.Second, 5*time.Millisecond)
	for _, typ := range s.recorder.seen() {
		s.Equal("hello", typ)
	}
	s.GreaterOrEqual(testutil.ToFloat64(s.metrics.Reconnects), 2.0)

	s.stop(cancel, done)
}

func (s *SupervisorSuite) TestHeartbeatKeepsSessionAlive() {
	f := s.listen(func(f *fakeRTM, conn *websocket.Conn) { f.answerPings(conn) })
	cancel, done := s.start(s.build(20*time.Millisecond, Options{}))

	s.Require().Eventually(func() bool { return f.pings.Load() >= 5 }, 3*time.Second, 5*time.Millisecond)
	s.Equal(int32(1), s.hs.calls.Load(), "answered pings must not trigger a reconnect")
	s.Equal(int32(1), f.sessions.Load())
	s.Empty(s.recorder.seen(), "pongs never reach plugins")

	s.stop(cancel, done)
}

func (s *SupervisorSuite) TestMissingPongTriggersReconnect() {
	s.listen(func(f *fakeRTM, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			f.pings.Add(1)
		}
	})
	cancel, done := s.start(s.build(20*time.Millisecond, Options{}))

	s.Require().Eventually(func() bool { return s.hs.calls.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
	s.GreaterOrEqual(testutil.ToFloat64(s.metrics.HeartbeatFailures), 1.0)

	s.stop(cancel, done)
}

func (s *SupervisorSuite) TestSessionStopsHeartbeatWithReader() {
	f := s.listen(func(f *fakeRTM, conn *websocket.Conn) {
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		time.AfterFunc(100*time.Millisecond, func() {
			_ = conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(time.Second))
		})
		f.answerPings(conn)
	})
	sup := s.build(20*time.Millisecond, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	sup.plugins.Start(ctx, sup.dispatcher)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		_ = sup.dispatcher.Run(ctx)
	}()
	defer func() {
		cancel()
		<-dispatched
		sup.plugins.Wait()
	}()

	connected, err := sup.session(ctx)
	s.True(connected)
	s.Error(err)
	s.False(s.handle.Active())
	s.GreaterOrEqual(f.pings.Load(), int32(2), "heartbeat ran while the session was up")

	time.Sleep(20 * time.Millisecond) // let frames already on the wire land
	after := f.pings.Load()
	time.Sleep(50 * time.Millisecond)
	s.Equal(after, f.pings.Load(), "no probes after the session ended")
}

func (s *SupervisorSuite) TestFailFastOnFirstHandshake() {
	s.hs.err = errors.New("invalid_auth")
	_, done := s.start(s.build(time.Hour, Options{FailFast: true}))

	select {
	case err := <-done:
		var ce *rtm.ConnectionError
		s.True(errors.As(err, &ce))
	case <-time.After(3 * time.Second):
		s.FailNow("fail_fast did not stop the supervisor")
	}
	s.Equal(int32(1), s.hs.calls.Load())
}

func (s *SupervisorSuite) TestRetriesRejectedHandshake() {
	s.hs.err = errors.New("invalid_auth")
	cancel, done := s.start(s.build(time.Hour, Options{}))

	s.Require().Eventually(func() bool { return s.hs.calls.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)

	s.stop(cancel, done)
}

func TestWebhookMode(t *testing.T) {
	t.Setenv(config.EnvToken, "xoxb-test")
	cfg, err := config.Parse([]byte("events_api: true\n"))
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())
	d := dispatch.New(queue.New[sdk.Event](), events.NewLastPong(), nil, log, m)
	rec := &recorder{}
	reg := plugins.NewRegistry()
	reg.MustRegister("recorder", func() sdk.Plugin { return rec })
	pm := plugins.NewManager(cfg, log, reg, nil, m)
	httpSrv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	sup := New(d, pm, httpSrv, nil, nil, nil, Options{}, log, m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	d.Inbound().Push(sdk.Event{"type": "member_joined_channel", "user": "U1", "channel": "C1"})
	d.Inbound().Push(sdk.Event{"type": "pong", "reply_to": float64(1)})
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"member_joined_channel"}, rec.seen())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
