package plugins

import (
	"sync"

	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

type pluginContext struct {
	name    string
	log     *zap.Logger
	actions sdk.Actions

	mu     sync.RWMutex
	config map[string]interface{}
}

func newPluginContext(name string, log *zap.Logger, actions sdk.Actions, cfg map[string]interface{}) *pluginContext {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return &pluginContext{name: name, log: log, actions: actions, config: cfg}
}

func (c *pluginContext) Name() string         { return c.name }
func (c *pluginContext) Log() *zap.Logger     { return c.log }
func (c *pluginContext) Actions() sdk.Actions { return c.actions }

func (c *pluginContext) Config() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *pluginContext) setConfig(cfg map[string]interface{}) {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
}
