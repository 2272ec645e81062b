package linkcheck

import (
	"context"
	"time"

	"github.com/endarthur/holocene-sub000/internal/archive"
	"github.com/endarthur/holocene-sub000/internal/plugin"
	"github.com/endarthur/holocene-sub000/internal/store"
)

// HealthChannel carries one message per completed batch with aggregate stats.
const HealthChannel = "links.health"

// Plugin hosts the link health worker: a single long-lived goroutine that
// wakes on a fixed period, probes a batch, and pushes aggregate stats to the
// external healthcheck endpoint when one is configured.
type Plugin struct {
	checker  *Checker
	pinger   archive.HealthPinger
	interval time.Duration
}

// NewPlugin builds the linkhealth plugin.
func NewPlugin(checker *Checker, pinger archive.HealthPinger, interval time.Duration) *Plugin {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Plugin{checker: checker, pinger: pinger, interval: interval}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "linkhealth",
		Version:     "1.0.0",
		Description: "Periodic batch health probing of stored links",
		RunsOn:      []string{"*"},
	}
}

func (p *Plugin) OnLoad(h *plugin.Host) error {
	return nil
}

func (p *Plugin) OnEnable(h *plugin.Host) error {
	h.GoWorker("checker", func(stop <-chan struct{}) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			p.runOnce(h, stop)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	})
	return nil
}

func (p *Plugin) OnDisable(h *plugin.Host) error {
	return nil
}

func (p *Plugin) runOnce(h *plugin.Host, stop <-chan struct{}) {
	ctx := context.Background()
	stats, err := p.checker.RunBatch(ctx, stop)
	if err != nil {
		h.Logger.Error("Link health batch failed: %v", err)
		return
	}

	h.Publish(HealthChannel, map[string]any{
		"total":     stats.Total,
		"alive":     stats.Alive,
		"dead":      stats.Dead,
		"unchecked": stats.Unchecked,
	})

	if p.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.pinger.Ping(pctx, healthPayload(stats)); err != nil {
			h.Logger.Warn("Healthcheck push failed: %v", err)
		}
		cancel()
	}
}

func healthPayload(stats store.HealthStats) map[string]any {
	return map[string]any{
		"total":     stats.Total,
		"alive":     stats.Alive,
		"dead":      stats.Dead,
		"unchecked": stats.Unchecked,
	}
}
