package plugins

import (
	"context"
	"sync"

	"github.com/gtmanfred/slackmgmt/internal/config"
	"github.com/gtmanfred/slackmgmt/internal/dispatch"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

// Manager owns one Consumer per registered plugin.
type Manager struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *Registry
	actions  sdk.Actions
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	consumers []*Consumer
	wg        sync.WaitGroup
}

func NewManager(cfg *config.Config, log *zap.Logger, registry *Registry, actions sdk.Actions, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.With(zap.String("component", "plugins")),
		registry: registry,
		actions:  actions,
		metrics:  m,
	}
}

// Start builds a consumer for every registered plugin, registers it with
// the dispatcher and runs it until ctx is cancelled.
func (m *Manager) Start(ctx context.Context, d *dispatch.Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.registry.Names() {
		p, _ := m.registry.New(name)
		c := NewConsumer(name, p, m.cfg.PluginConfig(name), m.actions, m.log, m.metrics)
		m.consumers = append(m.consumers, c)
		d.Register(c)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.Run(ctx)
		}()

		m.log.Info("plugin started", zap.String("name", name))
	}
}

// Reload hands each running consumer its slice of the new configuration.
func (m *Manager) Reload(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	for _, c := range m.consumers {
		c.SetConfig(cfg.PluginConfig(c.Name()))
	}
	m.log.Info("plugin config reloaded", zap.Int("plugins", len(m.consumers)))
}

func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.consumers))
	for _, c := range m.consumers {
		out = append(out, c.Stats())
	}
	return out
}

// Wait blocks until every consumer has returned. Consumers stop when the
// context given to Start is cancelled.
func (m *Manager) Wait() {
	m.wg.Wait()
	m.log.Info("plugins stopped")
}
