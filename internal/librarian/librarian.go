// Package librarian reacts to new collection entries. Fresh links are handed
// to the archiving pipeline so every saved URL gets a snapshot without the
// caller asking for one.
package librarian

import (
	"context"
	"fmt"

	"github.com/endarthur/holocene-sub000/internal/archive"
	"github.com/endarthur/holocene-sub000/internal/bus"
	"github.com/endarthur/holocene-sub000/internal/plugin"
)

// Channels the librarian watches.
const (
	LinksChannel  = "links.added"
	BooksChannel  = "books.added"
	PapersChannel = "papers.added"
)

// Plugin schedules archiving for newly added links and logs catalog growth.
type Plugin struct {
	archiver *archive.Service
}

// NewPlugin builds the librarian around the archiving service.
func NewPlugin(archiver *archive.Service) *Plugin {
	return &Plugin{archiver: archiver}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "librarian",
		Version:     "1.0.0",
		Description: "Archives newly added links and tracks catalog growth",
		RunsOn:      []string{"*"},
	}
}

func (p *Plugin) OnLoad(h *plugin.Host) error {
	return nil
}

func (p *Plugin) OnEnable(h *plugin.Host) error {
	h.Subscribe(LinksChannel, func(msg bus.Message) {
		p.onLinkAdded(h, msg)
	})
	h.Subscribe(BooksChannel, func(msg bus.Message) {
		h.Logger.Info("Catalog: book added: %v", msg.Data["title"])
	})
	h.Subscribe(PapersChannel, func(msg bus.Message) {
		h.Logger.Info("Catalog: paper added: %v", msg.Data["title"])
	})
	return nil
}

func (p *Plugin) OnDisable(h *plugin.Host) error {
	return nil
}

// onLinkAdded queues an archive run for a link seen for the first time.
// Re-seen links already have snapshot history and are left alone.
func (p *Plugin) onLinkAdded(h *plugin.Host, msg bus.Message) {
	created, _ := msg.Data["created"].(bool)
	if !created {
		return
	}
	linkID, ok := messageLinkID(msg)
	if !ok {
		h.Logger.Warn("links.added message without usable link_id: %v", msg.Data)
		return
	}
	url, _ := msg.Data["url"].(string)
	if url == "" {
		return
	}

	name := fmt.Sprintf("archive-link-%d", linkID)
	_, err := h.SubmitTask(name, func(ctx context.Context) (any, error) {
		return p.archiver.ArchiveURL(ctx, linkID, url, p.archiver.DefaultOptions()), nil
	}, nil, nil)
	if err != nil {
		h.Logger.Warn("Could not schedule archive for link %d: %v", linkID, err)
	}
}

// messageLinkID tolerates the numeric types a bus payload may carry after
// in-process publishing or JSON round-trips.
func messageLinkID(msg bus.Message) (int64, bool) {
	switch v := msg.Data["link_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
