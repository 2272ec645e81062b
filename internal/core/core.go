package core

import (
	"sync"

	"github.com/endarthur/holocene-sub000/internal/bus"
	"github.com/endarthur/holocene-sub000/internal/config"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/runner"
	"github.com/endarthur/holocene-sub000/internal/store"
)

// Registry is the subset of the plugin registry the core exposes to plugins
// so they can enumerate peers without importing the registry package.
type Registry interface {
	PluginNames() []string
	PluginState(name string) (string, bool)
}

// Core is the composition root: it owns the immutable config, the store, the
// event bus and the background runner. The registry back-reference is set
// immediately after the registry is constructed.
type Core struct {
	Config config.Config
	Store  *store.Store
	Bus    *bus.Bus
	Runner *runner.Runner

	mu       sync.Mutex
	registry Registry
	shutdown sync.Once
	logger   logging.Logger
}

// New wires a Core from its parts.
func New(cfg config.Config, st *store.Store, eventBus *bus.Bus, bg *runner.Runner, logger logging.Logger) *Core {
	return &Core{
		Config: cfg,
		Store:  st,
		Bus:    eventBus,
		Runner: bg,
		logger: logging.OrNop(logger),
	}
}

// SetRegistry installs the plugin registry back-reference.
func (c *Core) SetRegistry(r Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry = r
}

// Registry returns the plugin registry, or nil before registration.
func (c *Core) Registry() Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// Shutdown stops the runner and closes the store. Idempotent.
func (c *Core) Shutdown() {
	c.shutdown.Do(func() {
		c.logger.Info("Core shutting down")
		c.Runner.Shutdown()
		if err := c.Store.Close(); err != nil {
			c.logger.Error("Failed to close store: %v", err)
		}
	})
}
