package bus

import (
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/metrics"
)

const defaultMaxHistory = 100

// Message is one event delivered on a channel.
type Message struct {
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Sender    string         `json:"sender,omitempty"`
}

// Handler receives messages for a subscribed channel. Handlers run on the
// publisher's goroutine; anything slow belongs on the background runner.
type Handler func(Message)

// Subscription identifies one registered handler so it can be removed later.
type Subscription struct {
	channel string
	id      uint64
	fn      Handler
}

// Channel returns the channel this subscription listens on.
func (s *Subscription) Channel() string {
	if s == nil {
		return ""
	}
	return s.channel
}

// Bus is an in-process publish/subscribe hub with bounded per-channel
// history. Delivery within a channel follows subscription order; a panicking
// subscriber is logged and skipped without disturbing the rest.
type Bus struct {
	mu         sync.RWMutex
	nextID     uint64
	subs       map[string][]*Subscription
	history    map[string][]Message
	maxHistory int
	logger     logging.Logger
}

// New creates a Bus with the default history retention.
func New(logger logging.Logger) *Bus {
	return &Bus{
		subs:       make(map[string][]*Subscription),
		history:    make(map[string][]Message),
		maxHistory: defaultMaxHistory,
		logger:     logging.OrNop(logger),
	}
}

// Subscribe registers fn on channel and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(channel string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{channel: channel, id: b.nextID, fn: fn}
	b.subs[channel] = append(b.subs[channel], sub)
	b.logger.Debug("Subscribed to channel %q (subscribers: %d)", channel, len(b.subs[channel]))
	return sub
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.channel]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
}

// Publish records the message in the channel history and delivers it to every
// subscriber in subscription order, on the caller's goroutine. The subscriber
// list is snapshotted under the lock and the lock released before any handler
// runs, so slow handlers never block publishers on other channels.
func (b *Bus) Publish(channel string, data map[string]any, sender string) Message {
	msg := Message{
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Sender:    sender,
	}

	b.mu.Lock()
	hist := append(b.history[channel], msg)
	if len(hist) > b.maxHistory {
		hist = hist[len(hist)-b.maxHistory:]
	}
	b.history[channel] = hist
	snapshot := make([]*Subscription, len(b.subs[channel]))
	copy(snapshot, b.subs[channel])
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(channel).Inc()

	for _, sub := range snapshot {
		b.deliver(sub, msg)
	}
	return msg
}

func (b *Bus) deliver(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.WithLabelValues(msg.Channel).Inc()
			b.logger.Error("Subscriber panic on channel %q: %v, stack: %s", msg.Channel, r, debug.Stack())
		}
	}()
	sub.fn(msg)
}

// History returns up to limit recent messages for a channel, oldest first.
// limit <= 0 returns the full retained window.
func (b *Bus) History(channel string, limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hist := b.history[channel]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]Message, len(hist))
	copy(out, hist)
	return out
}

// Channels lists every channel that has subscribers or retained history.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := map[string]bool{}
	for ch := range b.subs {
		seen[ch] = true
	}
	for ch := range b.history {
		seen[ch] = true
	}
	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// SubscriberCount returns the number of handlers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
