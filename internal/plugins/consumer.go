package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

// Consumer runs one plugin against its own queue. Nothing the plugin does
// escapes the loop: errors and panics are logged and the next event is
// processed.
type Consumer struct {
	plugin  sdk.Plugin
	pctx    *pluginContext
	queue   *queue.Queue[sdk.Event]
	metrics *metrics.Metrics

	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewConsumer(name string, p sdk.Plugin, cfg map[string]interface{}, actions sdk.Actions, log *zap.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		plugin:  p,
		pctx:    newPluginContext(name, log.With(zap.String("plugin", name)), actions, cfg),
		queue:   queue.New[sdk.Event](),
		metrics: m,
	}
}

func (c *Consumer) Name() string { return c.pctx.name }

// Enqueue never blocks.
func (c *Consumer) Enqueue(ev sdk.Event) {
	c.queue.Push(ev)
	if c.metrics != nil {
		c.metrics.ConsumerDepth.WithLabelValues(c.Name()).Set(float64(c.queue.Len()))
	}
}

func (c *Consumer) Run(ctx context.Context) {
	log := c.pctx.log
	log.Debug("consumer started")
	defer log.Debug("consumer stopped")

	for {
		ev, err := c.queue.Pop(ctx)
		if err != nil {
			return
		}
		if c.metrics != nil {
			c.metrics.ConsumerDepth.WithLabelValues(c.Name()).Set(float64(c.queue.Len()))
		}
		log.Debug("consuming event", zap.String("type", ev.Type()))

		if err := c.consume(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			c.failed.Add(1)
			if c.metrics != nil {
				c.metrics.ConsumerFailures.WithLabelValues(c.Name()).Inc()
			}
			log.Error("plugin failed to consume event",
				zap.String("type", ev.Type()),
				zap.Error(err))
		}
		c.processed.Add(1)
		if c.metrics != nil {
			c.metrics.ConsumerEvents.WithLabelValues(c.Name()).Inc()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, ev sdk.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return c.plugin.Consume(ctx, c.pctx, ev)
}

// Stats is a point-in-time view of a consumer.
type Stats struct {
	Name      string `json:"name"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

func (c *Consumer) Stats() Stats {
	return Stats{
		Name:      c.Name(),
		Queued:    c.queue.Len(),
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *Consumer) SetConfig(cfg map[string]interface{}) { c.pctx.setConfig(cfg) }
