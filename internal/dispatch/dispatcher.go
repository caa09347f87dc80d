// Package dispatch classifies inbound events and fans them out to the
// plugin consumers. Both transports feed the same inbound queue, so the
// classification below is the only path an event takes to a plugin.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/gtmanfred/slackmgmt/internal/events"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

// TypePong is the event type that acknowledges a heartbeat ping.
const TypePong = "pong"

// Sink receives fanned-out events. Enqueue must not block.
type Sink interface {
	Name() string
	Enqueue(ev sdk.Event)
}

type Dispatcher struct {
	in      *queue.Queue[sdk.Event]
	pongs   *events.LastPong
	bus     *events.Bus
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	sinks []Sink
}

func New(in *queue.Queue[sdk.Event], pongs *events.LastPong, bus *events.Bus, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		in:      in,
		pongs:   pongs,
		bus:     bus,
		log:     log.With(zap.String("component", "dispatch")),
		metrics: m,
	}
}

// Inbound is the queue transports push decoded events onto.
func (d *Dispatcher) Inbound() *queue.Queue[sdk.Event] { return d.in }

// Register adds a sink. Sinks receive events in registration order.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
	d.log.Debug("sink registered", zap.String("sink", s.Name()))
}

// Run pops events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatch loop started")
	defer d.log.Info("dispatch loop stopped")

	for {
		ev, err := d.in.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		d.Dispatch(ev)
	}
}

// Dispatch classifies one event. Pongs update the heartbeat state and stop
// here; everything else is copied onto every sink before returning.
func (d *Dispatcher) Dispatch(ev sdk.Event) {
	if d.metrics != nil {
		d.metrics.InboundDepth.Set(float64(d.in.Len()))
	}

	if ev.Type() == TypePong {
		id, ok := ev.Int("reply_to")
		if !ok {
			d.log.Warn("pong without reply_to", zap.Any("event", ev))
			return
		}
		d.log.Debug("pong received", zap.Int64("reply_to", id))
		d.pongs.Record(id)
		if d.metrics != nil {
			d.metrics.Pongs.Inc()
		}
		return
	}

	d.log.Debug("dispatching event", zap.String("type", ev.Type()))

	d.mu.RLock()
	for _, s := range d.sinks {
		s.Enqueue(ev.Clone())
	}
	d.mu.RUnlock()

	if d.bus != nil {
		d.bus.Publish(ev)
	}
	if d.metrics != nil {
		d.metrics.EventsDispatched.Inc()
	}
}
