package plugin

import (
	"sync"
	"time"

	"github.com/endarthur/holocene-sub000/internal/async"
	"github.com/endarthur/holocene-sub000/internal/bus"
	"github.com/endarthur/holocene-sub000/internal/core"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/runner"
)

const workerJoinBudget = 5 * time.Second

// Host is the plugin's view of the daemon: the core handle, a plugin-scoped
// logger, and wrappers around the bus and runner that record everything the
// plugin registers so Disable can tear it down even if the plugin forgets.
type Host struct {
	Core   *core.Core
	Logger logging.Logger

	pluginName string

	mu      sync.Mutex
	subs    []*bus.Subscription
	workers []*pluginWorker
}

type pluginWorker struct {
	name string
	stop chan struct{}
	done chan struct{}
}

func newHost(name string, c *core.Core) *Host {
	return &Host{
		Core:       c,
		Logger:     logging.NewComponentLogger("plugin:" + name),
		pluginName: name,
	}
}

// Subscribe registers a bus handler and records the subscription for forced
// cleanup on disable.
func (h *Host) Subscribe(channel string, fn bus.Handler) *bus.Subscription {
	sub := h.Core.Bus.Subscribe(channel, fn)
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub
}

// Publish emits a message on the bus with the plugin as sender.
func (h *Host) Publish(channel string, data map[string]any) {
	h.Core.Bus.Publish(channel, data, h.pluginName)
}

// SubmitTask hands a short task to the background runner.
func (h *Host) SubmitTask(name string, task runner.Task, onSuccess func(any), onError func(error)) (*runner.Handle, error) {
	return h.Core.Runner.Submit(h.pluginName+":"+name, task, onSuccess, onError)
}

// GoWorker starts a long-lived worker goroutine owned by the plugin. The
// worker must return promptly once stop closes; Disable joins it with a
// bounded wait.
func (h *Host) GoWorker(name string, fn func(stop <-chan struct{})) {
	w := &pluginWorker{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.workers = append(h.workers, w)
	h.mu.Unlock()

	async.Go(h.Logger, h.pluginName+":"+name, func() {
		defer close(w.done)
		fn(w.stop)
	})
}

// teardown force-unsubscribes every recorded handler and joins every worker.
func (h *Host) teardown() {
	h.mu.Lock()
	subs := h.subs
	workers := h.workers
	h.subs = nil
	h.workers = nil
	h.mu.Unlock()

	for _, sub := range subs {
		h.Core.Bus.Unsubscribe(sub)
	}
	for _, w := range workers {
		close(w.stop)
	}
	for _, w := range workers {
		if !async.JoinTimeout(w.done, workerJoinBudget) {
			h.Logger.Warn("Worker %q did not stop within %s, abandoning", w.name, workerJoinBudget)
		}
	}
}
