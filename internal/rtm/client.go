// Package rtm is the streaming transport: it opens a Slack RTM websocket,
// turns text frames into events and keeps the session honest with an
// application-level ping/pong heartbeat.
package rtm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

// Handshaker obtains the websocket URL for a new session.
type Handshaker interface {
	Handshake(ctx context.Context) (string, error)
}

// ConnectionError is returned by Connect when the handshake is rejected.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "rtm handshake: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

type Client struct {
	hs      Handshaker
	dialer  *websocket.Dialer
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(hs Handshaker, log *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		hs:      hs,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:     log.With(zap.String("component", "rtm")),
		metrics: m,
	}
}

// Connect performs the handshake and dials the returned URL.
func (c *Client) Connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := c.hs.Handshake(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	conn, _, err := c.dialer.DialContext(ctx, u, http.Header{"User-Agent": {"slackmgmt"}})
	if err != nil {
		return nil, fmt.Errorf("dial rtm: %w", err)
	}
	c.log.Info("RTM connected")
	return conn, nil
}

// Run reads frames until the session ends and pushes each decoded text
// frame onto into. A close, a non-text frame or a read error is the normal
// end of a session and yields nil. Cancelling ctx closes conn.
func (c *Client) Run(ctx context.Context, conn *websocket.Conn, into *queue.Queue[sdk.Event]) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.log.Debug("listening to Slack")
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("RTM read", zap.Error(err))
			}
			return nil
		}
		if mt != websocket.TextMessage {
			c.log.Info("RTM non-text frame, ending session", zap.Int("message_type", mt))
			return nil
		}
		c.log.Debug("RTM frame", zap.ByteString("data", data))

		ev, err := sdk.DecodeEvent(data)
		if err != nil {
			c.log.Warn("RTM frame is not a JSON object", zap.Error(err))
			continue
		}
		into.Push(ev)
		if c.metrics != nil {
			c.metrics.EventsReceived.WithLabelValues("rtm").Inc()
		}
	}
}
