// Package monitor converts router activity into a push feed for external
// subscribers: a hub goroutine fans events out over WebSocket, and a status
// page exposes current stats and recent activity over HTTP.
//
// The feed is best-effort by design. Events are handed off to the hub
// through a buffered channel so chat sessions never block on monitoring,
// and a subscriber that cannot keep up is dropped rather than allowed to
// stall publication for others.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mkaancelik/chatwire/internal/metrics"
)

// Event kinds published on the monitoring feed.
const (
	EventMessageBroadcast = "message_broadcast"
	EventPrivateMessage   = "private_message"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventStatsSnapshot    = "stats_snapshot"
)

// Stats is a point-in-time activity snapshot.
type Stats struct {
	ActiveUsers     int   `json:"active_users"`
	TotalMessages   int64 `json:"total_messages"`
	PrivateMessages int64 `json:"private_messages"`
}

// Event is one structured push message on the monitoring feed.
type Event struct {
	Kind      string `json:"kind"`
	Nickname  string `json:"nickname,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Body      string `json:"body,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
	Stats     *Stats `json:"stats,omitempty"`
}

const (
	publishBuffer    = 256
	subscriberBuffer = 32
)

type subscriber struct {
	ch chan Event
}

// Subscription is a live feed handle. Events arrive on C; the channel is
// closed when the subscription ends, whether by Close, by the bridge
// shutting down, or by the subscriber falling too far behind.
type Subscription struct {
	C <-chan Event

	bridge *Bridge
	sub    *subscriber
	once   sync.Once
}

// Close detaches the subscription. Safe to call more than once and after
// the bridge has already dropped the subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.bridge.unsubscribe <- s.sub:
		case <-s.bridge.done:
		}
	})
}

// Bridge is the fan-out hub between the router's execution contexts and
// monitoring subscribers. Publish is safe from any goroutine; the fan-out
// itself runs on the single Run loop.
type Bridge struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	events      chan Event
	subscribe   chan *subscriber
	unsubscribe chan *subscriber
	done        chan struct{}

	activeUsers     atomic.Int64
	totalMessages   atomic.Int64
	privateMessages atomic.Int64
}

// NewBridge creates a Bridge. Run must be started for subscriptions and
// fan-out to make progress; Publish works (updating stats, buffering
// events) regardless.
func NewBridge(logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:      logger,
		metrics:     m,
		events:      make(chan Event, publishBuffer),
		subscribe:   make(chan *subscriber),
		unsubscribe: make(chan *subscriber),
		done:        make(chan struct{}),
	}
}

// Publish hands an event to the hub. It never blocks: if the hub buffer is
// full the event is dropped and counted. Stats counters are updated here so
// snapshots stay accurate even when events are dropped.
func (b *Bridge) Publish(ev Event) {
	switch ev.Kind {
	case EventUserConnected:
		b.activeUsers.Add(1)
	case EventUserDisconnected:
		b.activeUsers.Add(-1)
	case EventMessageBroadcast:
		b.totalMessages.Add(1)
	case EventPrivateMessage:
		b.privateMessages.Add(1)
	}

	select {
	case b.events <- ev:
	case <-b.done:
	default:
		b.metrics.EventDropped()
		b.logger.Debug("monitor event dropped, hub buffer full", "kind", ev.Kind)
	}
}

// Snapshot returns the current stats.
func (b *Bridge) Snapshot() Stats {
	return Stats{
		ActiveUsers:     int(b.activeUsers.Load()),
		TotalMessages:   b.totalMessages.Load(),
		PrivateMessages: b.privateMessages.Load(),
	}
}

// Subscribe attaches a new subscriber. The first event delivered is a
// stats snapshot; only events published after that point follow (there is
// no replay of missed events).
func (b *Bridge) Subscribe() *Subscription {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	select {
	case b.subscribe <- sub:
	case <-b.done:
		close(sub.ch)
	}
	return &Subscription{C: sub.ch, bridge: b, sub: sub}
}

// Run is the hub's single event loop. It blocks until ctx is cancelled,
// then closes every subscriber channel.
func (b *Bridge) Run(ctx context.Context) {
	subs := make(map[*subscriber]struct{})

	defer func() {
		close(b.done)
		for sub := range subs {
			close(sub.ch)
			b.metrics.SubscriberConnected(-1)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-b.subscribe:
			subs[sub] = struct{}{}
			b.metrics.SubscriberConnected(1)
			snap := b.Snapshot()
			sub.ch <- Event{Kind: EventStatsSnapshot, Stats: &snap}

		case sub := <-b.unsubscribe:
			if _, ok := subs[sub]; ok {
				delete(subs, sub)
				close(sub.ch)
				b.metrics.SubscriberConnected(-1)
			}

		case ev := <-b.events:
			for sub := range subs {
				select {
				case sub.ch <- ev:
				default:
					// Slow subscriber: drop it rather than block the feed.
					delete(subs, sub)
					close(sub.ch)
					b.metrics.SubscriberConnected(-1)
					b.metrics.SubscriberDropped()
					b.logger.Warn("monitor subscriber dropped, too slow")
				}
			}
		}
	}
}
