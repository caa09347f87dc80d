package rtm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gtmanfred/slackmgmt/internal/events"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"go.uber.org/zap"
)

// ErrPongMismatch ends a session whose last ping went unanswered.
var ErrPongMismatch = errors.New("rtm: pong did not match last ping")

// maxPingID bounds probe ids. Collisions are harmless; the id is a liveness
// marker only.
const maxPingID = 10000

type ping struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Monitor pings the active connection and fails when the matching pong has
// not been recorded by the time the next check is due.
type Monitor struct {
	handle   *Handle
	pongs    *events.LastPong
	interval time.Duration
	poll     time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
	nextID   func() int64
}

func NewMonitor(handle *Handle, pongs *events.LastPong, interval, poll time.Duration, log *zap.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		handle:   handle,
		pongs:    pongs,
		interval: interval,
		poll:     poll,
		log:      log.With(zap.String("component", "heartbeat")),
		metrics:  m,
		nextID:   func() int64 { return rand.Int64N(maxPingID) },
	}
}

// Run returns nil when ctx is cancelled and an error when the session must
// be torn down.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.handle.Wait(ctx, m.poll); err != nil {
		return nil
	}

	t := time.NewTimer(m.interval)
	defer t.Stop()
	for {
		id := m.nextID()
		m.log.Debug("sending ping", zap.Int64("id", id))
		if err := m.handle.WriteJSON(ping{Type: "ping", ID: id}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send ping: %w", err)
		}

		t.Reset(m.interval)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		if got := m.pongs.Load(); got != id {
			if m.metrics != nil {
				m.metrics.HeartbeatFailures.Inc()
			}
			m.log.Warn("heartbeat failed", zap.Int64("sent", id), zap.Int64("last_pong", got))
			return ErrPongMismatch
		}
	}
}
