// Package router dispatches chat traffic: public broadcast, private
// delivery with offline queueing, rate limiting, activity logging, and
// monitoring events. Sessions own their transports; the router only ever
// sees them through the registry's Peer interface.
package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mkaancelik/chatwire/internal/chatlog"
	"github.com/mkaancelik/chatwire/internal/mailbox"
	"github.com/mkaancelik/chatwire/internal/metrics"
	"github.com/mkaancelik/chatwire/internal/monitor"
	"github.com/mkaancelik/chatwire/internal/protocol"
	"github.com/mkaancelik/chatwire/internal/ratelimit"
	"github.com/mkaancelik/chatwire/internal/registry"
)

// userListPrefix marks the system envelope carrying the current user list.
const userListPrefix = "users:"

// Config holds the router's collaborators. Registry, Limiter, and Mailbox
// are required; everything else is optional.
type Config struct {
	Registry *registry.Registry
	Limiter  *ratelimit.Limiter
	Mailbox  *mailbox.Mailbox
	Log      *chatlog.Log
	Bridge   *monitor.Bridge
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time // defaults to time.Now; tests override
}

// Router routes envelopes between registered sessions. Safe for concurrent
// use from every session goroutine.
type Router struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	mailbox  *mailbox.Mailbox
	log      *chatlog.Log
	bridge   *monitor.Bridge
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// lastStamp clamps per-sender timestamps non-decreasing even if the
	// wall clock steps backwards.
	mu        sync.Mutex
	lastStamp map[string]int64
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		registry:  cfg.Registry,
		limiter:   cfg.Limiter,
		mailbox:   cfg.Mailbox,
		log:       cfg.Log,
		bridge:    cfg.Bridge,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       now,
		lastStamp: make(map[string]int64),
	}
}

// Route handles one client-originated envelope from a session. senderNick
// is the session's registered nickname, or empty if negotiation has not
// completed. Nickname negotiation frames never reach Route; sessions take
// those straight to the registry.
func (r *Router) Route(senderNick string, sender registry.Peer, env protocol.Envelope) {
	if senderNick == "" {
		r.reply(sender, protocol.KindError, "not registered: send a nickname request first")
		return
	}

	switch env.Kind {
	case protocol.KindPublic, protocol.KindPrivate:
	default:
		r.reply(sender, protocol.KindError, fmt.Sprintf("cannot route %q envelopes", env.Kind))
		return
	}

	if !r.limiter.Admit(senderNick, r.now()) {
		r.metrics.Throttled()
		r.log.Appendf("rate limit triggered for %s", senderNick)
		r.reply(sender, protocol.KindSystem, "rate limit exceeded: message dropped, slow down")
		return
	}

	env.Sender = senderNick
	env.Timestamp = r.stamp(senderNick)

	switch env.Kind {
	case protocol.KindPublic:
		r.routePublic(env)
	case protocol.KindPrivate:
		r.routePrivate(sender, env)
	}
}

func (r *Router) routePublic(env protocol.Envelope) {
	r.metrics.MessageRouted(protocol.KindPublic)
	r.log.Appendf("%s: %s", env.Sender, env.Body)

	// Sender included: every session sees the message, self-echo included.
	r.broadcast(env, "")

	r.publish(monitor.Event{
		Kind:      monitor.EventMessageBroadcast,
		Sender:    env.Sender,
		Body:      env.Body,
		Timestamp: env.Timestamp,
	})
}

func (r *Router) routePrivate(sender registry.Peer, env protocol.Envelope) {
	if env.Recipient == "" {
		r.reply(sender, protocol.KindError, "private message requires a recipient")
		return
	}

	r.metrics.MessageRouted(protocol.KindPrivate)

	peer, online := r.registry.Lookup(env.Recipient)
	if online {
		if err := peer.Deliver(env); err != nil {
			// The recipient's session is dying; close it and fall back to
			// the mailbox so the accepted message is not lost.
			r.logger.Warn("private delivery failed", "recipient", env.Recipient, "error", err)
			r.metrics.DeliveryFailure()
			_ = peer.Close()
			online = false
		}
	}

	if online {
		r.log.Appendf("private [%s -> %s]: %s", env.Sender, env.Recipient, env.Body)
		// Echo a copy back so the sender's view includes their own message.
		if err := sender.Deliver(env); err != nil {
			r.metrics.DeliveryFailure()
			_ = sender.Close()
		}
		r.publish(monitor.Event{
			Kind:      monitor.EventPrivateMessage,
			Sender:    env.Sender,
			Recipient: env.Recipient,
			Timestamp: env.Timestamp,
		})
		return
	}

	r.mailbox.Enqueue(env.Recipient, env)
	r.metrics.MailboxEnqueued()
	r.log.Appendf("offline message [%s -> %s]: %s", env.Sender, env.Recipient, env.Body)
	r.reply(sender, protocol.KindSystem,
		fmt.Sprintf("%s is offline, message queued for delivery", env.Recipient))
}

// UserJoined records a completed registration: activity log, monitoring
// event, a join announcement to everyone else, and a user-list refresh to
// all sessions.
func (r *Router) UserJoined(nickname string) {
	r.metrics.SessionOpened()
	r.log.Appendf("%s joined (total clients: %d)", nickname, r.registry.Len())
	r.publish(monitor.Event{
		Kind:      monitor.EventUserConnected,
		Nickname:  nickname,
		Timestamp: r.now().UnixMilli(),
	})
	r.broadcast(r.system(fmt.Sprintf("%s joined", nickname)), nickname)
	r.pushUserList()
}

// UserLeft records a disconnect after the registry entry is gone.
func (r *Router) UserLeft(nickname string, connected time.Duration) {
	r.metrics.SessionClosed(connected.Seconds())
	r.limiter.Forget(nickname)
	r.forgetStamp(nickname)
	r.log.Appendf("%s left (total clients: %d)", nickname, r.registry.Len())
	r.publish(monitor.Event{
		Kind:      monitor.EventUserDisconnected,
		Nickname:  nickname,
		Timestamp: r.now().UnixMilli(),
	})
	r.broadcast(r.system(fmt.Sprintf("%s left", nickname)), nickname)
	r.pushUserList()
}

// DrainMailbox delivers all queued messages for nickname to p in original
// order. Called by the session during registration, before any new traffic.
func (r *Router) DrainMailbox(nickname string, p registry.Peer) {
	queued := r.mailbox.Drain(nickname)
	if len(queued) == 0 {
		return
	}
	delivered := 0
	for _, env := range queued {
		if err := p.Deliver(env); err != nil {
			// Reconnect died mid-drain; requeue the rest for next time.
			r.logger.Warn("mailbox delivery interrupted", "nickname", nickname, "error", err)
			r.mailbox.Enqueue(nickname, env)
			continue
		}
		delivered++
		r.metrics.MailboxDelivered(1)
	}
	r.log.Appendf("delivered %d offline messages to %s", delivered, nickname)
}

// broadcast delivers env to every registered session except skipNick (empty
// means no exclusion). A failed delivery never aborts the rest: the dead
// session is logged, counted, and closed so its own loop runs cleanup.
func (r *Router) broadcast(env protocol.Envelope, skipNick string) {
	for nick, p := range r.registry.Snapshot() {
		if nick == skipNick {
			continue
		}
		if err := p.Deliver(env); err != nil {
			r.logger.Warn("broadcast delivery failed", "nickname", nick, "error", err)
			r.metrics.DeliveryFailure()
			_ = p.Close()
		}
	}
}

func (r *Router) pushUserList() {
	list := r.system(userListPrefix + strings.Join(r.registry.Nicknames(), ","))
	r.broadcast(list, "")
}

func (r *Router) reply(p registry.Peer, kind, body string) {
	env := protocol.Envelope{Kind: kind, Body: body, Timestamp: r.now().UnixMilli()}
	if err := p.Deliver(env); err != nil {
		r.metrics.DeliveryFailure()
		_ = p.Close()
	}
}

func (r *Router) system(body string) protocol.Envelope {
	return protocol.Envelope{
		Kind:      protocol.KindSystem,
		Body:      body,
		Timestamp: r.now().UnixMilli(),
	}
}

func (r *Router) publish(ev monitor.Event) {
	if r.bridge == nil {
		return
	}
	r.bridge.Publish(ev)
}

func (r *Router) stamp(senderNick string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixMilli()
	if last := r.lastStamp[senderNick]; ts < last {
		ts = last
	}
	r.lastStamp[senderNick] = ts
	return ts
}

func (r *Router) forgetStamp(senderNick string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastStamp, senderNick)
}
