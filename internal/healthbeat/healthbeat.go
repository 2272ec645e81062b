// Package healthbeat publishes a periodic daemon heartbeat so other plugins
// and the channel history have a liveness trace to inspect.
package healthbeat

import (
	"context"
	"time"

	"github.com/endarthur/holocene-sub000/internal/plugin"
)

// Channel carries one message per beat.
const Channel = "daemon.heartbeat"

const defaultInterval = 5 * time.Minute

// Plugin emits uptime and store counts on a fixed period.
type Plugin struct {
	interval time.Duration
	started  time.Time
}

// NewPlugin builds the heartbeat plugin. interval <= 0 uses the default.
func NewPlugin(interval time.Duration) *Plugin {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Plugin{interval: interval}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "healthbeat",
		Version:     "1.0.0",
		Description: "Periodic daemon liveness heartbeat on the event bus",
		RunsOn:      []string{"*"},
	}
}

func (p *Plugin) OnLoad(h *plugin.Host) error {
	p.started = time.Now()
	return nil
}

func (p *Plugin) OnEnable(h *plugin.Host) error {
	h.GoWorker("beat", func(stop <-chan struct{}) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.beat(h)
			}
		}
	})
	return nil
}

func (p *Plugin) OnDisable(h *plugin.Host) error {
	return nil
}

func (p *Plugin) beat(h *plugin.Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := map[string]any{
		"uptime_seconds": int(time.Since(p.started).Seconds()),
		"device":         h.Core.Config.Device,
	}
	if n, err := h.Core.Store.CountLinks(ctx); err == nil {
		data["links"] = n
	}
	h.Publish(Channel, data)
}
