//go:build e2e

// Package e2e runs the whole chatwire topology in-process: chat server,
// relay proxy, and monitoring feed on loopback listeners, with real
// clients speaking the wire protocol over TCP.
//
// Run: go test -tags=e2e -timeout=2m ./e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mkaancelik/chatwire/internal/monitor"
	"github.com/mkaancelik/chatwire/internal/protocol"
)

// TestDirectChat covers the basic flows against the chat server itself:
// nickname collision suffixes, broadcast with self-echo, and private
// delivery.
func TestDirectChat(t *testing.T) {
	s := startStack(t)

	bob := connect(t, s.chatAddr, "Bob")
	if bob.nick != "Bob" {
		t.Fatalf("assigned %q, want Bob", bob.nick)
	}
	bob2 := connect(t, s.chatAddr, "Bob")
	if bob2.nick != "Bob2" {
		t.Fatalf("assigned %q, want Bob2", bob2.nick)
	}

	bob.recvBody("Bob2 joined")

	bob.send(protocol.Envelope{Kind: protocol.KindPublic, Body: "hello room"})
	for _, c := range []*chatClient{bob, bob2} {
		env := c.recvKind(protocol.KindPublic)
		if env.Sender != "Bob" || env.Body != "hello room" {
			t.Errorf("%s saw %+v", c.nick, env)
		}
	}

	bob2.send(protocol.Envelope{Kind: protocol.KindPrivate, Recipient: "Bob", Body: "psst"})
	env := bob.recvKind(protocol.KindPrivate)
	if env.Sender != "Bob2" || env.Body != "psst" {
		t.Fatalf("private delivery: %+v", env)
	}
}

// TestRelayedChat verifies the relay's identity tagging end to end: the
// server registers the tagged nickname, direct clients see it, and the
// relayed client sees plain identities.
func TestRelayedChat(t *testing.T) {
	s := startStack(t)

	bob := connect(t, s.chatAddr, "Bob")
	alice := connect(t, s.relayAddr, "Alice")
	if alice.nick != "Alice" {
		t.Fatalf("relayed client saw assigned nickname %q, want Alice", alice.nick)
	}

	bob.recvBody("*Alice joined")

	alice.send(protocol.Envelope{Kind: protocol.KindPublic, Body: "hi from beyond"})

	// Bob sees the relayed identity as the server knows it.
	env := bob.recvKind(protocol.KindPublic)
	if env.Sender != "*Alice" || env.Body != "hi from beyond" {
		t.Fatalf("Bob saw %+v", env)
	}
	// Alice's self-echo comes back with the marker stripped.
	env = alice.recvKind(protocol.KindPublic)
	if env.Sender != "Alice" || env.Body != "hi from beyond" {
		t.Fatalf("Alice saw %+v", env)
	}

	// Bob replies privately to the tagged nickname; Alice reads it plain.
	bob.send(protocol.Envelope{Kind: protocol.KindPrivate, Recipient: "*Alice", Body: "welcome"})
	env = alice.recvKind(protocol.KindPrivate)
	if env.Sender != "Bob" || env.Recipient != "Alice" || env.Body != "welcome" {
		t.Fatalf("Alice's private view: %+v", env)
	}
}

// TestOfflineMailboxAcrossReconnect verifies queued private messages
// survive a disconnect and arrive before live traffic on reconnect.
func TestOfflineMailboxAcrossReconnect(t *testing.T) {
	s := startStack(t)

	alice := connect(t, s.chatAddr, "Alice")
	bob := connect(t, s.chatAddr, "Bob")
	bob.quit()
	alice.recvBody("Bob left")

	alice.send(protocol.Envelope{Kind: protocol.KindPrivate, Recipient: "Bob", Body: "while you were out"})
	alice.recvBody("queued")

	bob = connect(t, s.chatAddr, "Bob")
	if bob.nick != "Bob" {
		t.Fatalf("reconnect assigned %q, want Bob", bob.nick)
	}
	env := bob.recv()
	if env.Kind != protocol.KindPrivate || env.Body != "while you were out" {
		t.Fatalf("first post-ack frame: %+v", env)
	}
}

// TestMonitorFeedObservesTraffic subscribes to the WebSocket feed and
// verifies the snapshot-then-events contract while real chat happens.
func TestMonitorFeedObservesTraffic(t *testing.T) {
	s := startStack(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+s.feedAddr+"/", nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	readEvent := func() monitor.Event {
		t.Helper()
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read feed: %v", err)
		}
		var ev monitor.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		return ev
	}

	if ev := readEvent(); ev.Kind != monitor.EventStatsSnapshot {
		t.Fatalf("first event = %q, want stats snapshot", ev.Kind)
	}

	alice := connect(t, s.chatAddr, "Alice")

	ev := readEvent()
	if ev.Kind != monitor.EventUserConnected || ev.Nickname != "Alice" {
		t.Fatalf("connect event: %+v", ev)
	}

	alice.send(protocol.Envelope{Kind: protocol.KindPublic, Body: "observable"})
	ev = readEvent()
	if ev.Kind != monitor.EventMessageBroadcast || ev.Sender != "Alice" {
		t.Fatalf("broadcast event: %+v", ev)
	}
	if !strings.Contains(ev.Body, "observable") {
		t.Fatalf("broadcast event body: %q", ev.Body)
	}
}
