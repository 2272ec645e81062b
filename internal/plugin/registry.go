package plugin

import (
	"fmt"
	"sync"

	"github.com/endarthur/holocene-sub000/internal/core"
	"github.com/endarthur/holocene-sub000/internal/logging"
)

// entry tracks one discovered plugin and its lifecycle state.
type entry struct {
	plugin Plugin
	info   Info
	state  State
	host   *Host
}

// Registry discovers, loads, enables and disables plugins. Plugins are a
// closed set enumerated at build time; the runs_on device filter is applied
// during discovery.
type Registry struct {
	device string
	core   *core.Core
	logger logging.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

// NewRegistry creates a registry for the given device and installs itself as
// the core's registry back-reference.
func NewRegistry(device string, c *core.Core, logger logging.Logger) *Registry {
	r := &Registry{
		device:  device,
		core:    c,
		logger:  logging.OrNop(logger),
		entries: make(map[string]*entry),
	}
	c.SetRegistry(r)
	return r
}

// Discover instantiates each factory, reads its metadata, and keeps the
// plugins whose runs_on matches this device (or the wildcard). Declaration
// order is preserved for load ordering.
func (r *Registry) Discover(factories []Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, factory := range factories {
		p := factory()
		info := p.Info()
		if info.Name == "" {
			r.logger.Warn("Skipping plugin with empty name")
			continue
		}
		if !runsOn(info.RunsOn, r.device) {
			r.logger.Info("Plugin %q does not run on device %q, skipping", info.Name, r.device)
			continue
		}
		if _, dup := r.entries[info.Name]; dup {
			r.logger.Warn("Duplicate plugin %q, keeping first", info.Name)
			continue
		}
		r.entries[info.Name] = &entry{plugin: p, info: info, state: StateDeclared}
		r.order = append(r.order, info.Name)
		r.logger.Info("Discovered plugin %q v%s", info.Name, info.Version)
	}
}

func runsOn(devices []string, device string) bool {
	for _, d := range devices {
		if d == "*" || d == device {
			return true
		}
	}
	return false
}

// LoadAll runs OnLoad on every discovered plugin in declaration order,
// verifying requirements first. A plugin that fails to load is skipped; the
// registry continues with the rest.
func (r *Registry) LoadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := map[string]bool{}
	for _, name := range r.order {
		e := r.entries[name]
		if missing := missingRequires(e.info.Requires, loaded); missing != "" {
			r.logger.Warn("Plugin %q requires %q which is not loaded, skipping", name, missing)
			continue
		}
		e.host = newHost(name, r.core)
		if err := safeLoad(e.plugin, e.host); err != nil {
			r.logger.Error("Plugin %q failed to load: %v", name, err)
			e.host = nil
			continue
		}
		e.state = StateLoaded
		loaded[name] = true
		r.logger.Info("Loaded plugin %q", name)
	}
}

func missingRequires(requires []string, loaded map[string]bool) string {
	for _, req := range requires {
		if !loaded[req] {
			return req
		}
	}
	return ""
}

// EnableAll enables every loaded plugin in load order.
func (r *Registry) EnableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		r.enableLocked(name)
	}
}

// DisableAll disables every enabled plugin in reverse load order. Errors are
// logged and ignored; shutdown is never blocked.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		r.disableLocked(r.order[i])
	}
}

// Enable enables one plugin by name.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("plugin %q not found", name)
	}
	if e.state == StateEnabled {
		return nil
	}
	if e.state != StateLoaded && e.state != StateDisabled {
		return fmt.Errorf("plugin %q is %s, cannot enable", name, e.state)
	}
	r.enableLocked(name)
	if e.state != StateEnabled {
		return fmt.Errorf("plugin %q failed to enable", name)
	}
	return nil
}

// Disable disables one plugin by name.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("plugin %q not found", name)
	}
	if e.state != StateEnabled {
		return nil
	}
	r.disableLocked(name)
	return nil
}

// enableLocked runs OnEnable for a loaded or disabled plugin. A plugin that
// fails to enable is marked Disabled.
func (r *Registry) enableLocked(name string) {
	e := r.entries[name]
	if e == nil || (e.state != StateLoaded && e.state != StateDisabled) {
		return
	}
	if err := safeEnable(e.plugin, e.host); err != nil {
		r.logger.Error("Plugin %q failed to enable: %v", name, err)
		e.host.teardown()
		e.state = StateDisabled
		return
	}
	e.state = StateEnabled
	r.logger.Info("Enabled plugin %q", name)
}

func (r *Registry) disableLocked(name string) {
	e := r.entries[name]
	if e == nil || e.state != StateEnabled {
		return
	}
	if err := safeDisable(e.plugin, e.host); err != nil {
		r.logger.Warn("Plugin %q OnDisable error (ignored): %v", name, err)
	}
	e.host.teardown()
	e.state = StateDisabled
	r.logger.Info("Disabled plugin %q", name)
}

// PluginNames lists discovered plugins in declaration order.
func (r *Registry) PluginNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// PluginState reports a plugin's lifecycle state.
func (r *Registry) PluginState(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return string(e.state), true
}

// PluginInfo returns the metadata for one plugin.
func (r *Registry) PluginInfo(name string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// Lifecycle hook wrappers: a panicking plugin must not take down the daemon.

func safeLoad(p Plugin, h *Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnLoad: %v", r)
		}
	}()
	return p.OnLoad(h)
}

func safeEnable(p Plugin, h *Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnEnable: %v", r)
		}
	}()
	return p.OnEnable(h)
}

func safeDisable(p Plugin, h *Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnDisable: %v", r)
		}
	}()
	return p.OnDisable(h)
}
