//go:build e2e

package e2e

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkaancelik/chatwire/internal/chatlog"
	"github.com/mkaancelik/chatwire/internal/mailbox"
	"github.com/mkaancelik/chatwire/internal/monitor"
	"github.com/mkaancelik/chatwire/internal/protocol"
	"github.com/mkaancelik/chatwire/internal/ratelimit"
	"github.com/mkaancelik/chatwire/internal/registry"
	"github.com/mkaancelik/chatwire/internal/relay"
	"github.com/mkaancelik/chatwire/internal/router"
	"github.com/mkaancelik/chatwire/internal/server"
)

const stackTimeout = 3 * time.Second

// stack is a full in-process deployment: chat server, relay proxy, and
// monitoring feed, wired the same way the serve and relay commands wire
// them.
type stack struct {
	chatAddr  string
	relayAddr string
	feedAddr  string
	bridge    *monitor.Bridge
}

// startStack brings up the whole topology on loopback listeners and tears
// it down through t.Cleanup.
func startStack(t *testing.T) *stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	log, err := chatlog.Open(filepath.Join(t.TempDir(), "chat_log.txt"))
	if err != nil {
		t.Fatalf("open chat log: %v", err)
	}

	bridge := monitor.NewBridge(logger, nil)
	go bridge.Run(ctx)

	reg := registry.New()
	r := router.New(router.Config{
		Registry: reg,
		Limiter:  ratelimit.New(100, time.Minute),
		Mailbox:  mailbox.New(),
		Log:      log,
		Bridge:   bridge,
		Logger:   logger,
	})

	chatLn := listen(t)
	relayLn := listen(t)
	feedLn := listen(t)

	done := make(chan struct{}, 3)
	go func() {
		defer func() { done <- struct{}{} }()
		if err := server.Serve(ctx, chatLn, server.Config{
			Registry: reg,
			Router:   r,
			Logger:   logger,
		}); err != nil {
			t.Errorf("chat server: %v", err)
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if err := relay.Serve(ctx, relayLn, relay.Config{
			Upstream: chatLn.Addr().String(),
			Logger:   logger,
		}); err != nil {
			t.Errorf("relay: %v", err)
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if err := monitor.ServeFeed(ctx, feedLn, bridge, logger); err != nil {
			t.Errorf("monitor feed: %v", err)
		}
	}()

	t.Cleanup(func() {
		cancel()
		log.Close()
		for i := 0; i < 3; i++ {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("stack did not shut down")
				return
			}
		}
	})

	return &stack{
		chatAddr:  chatLn.Addr().String(),
		relayAddr: relayLn.Addr().String(),
		feedAddr:  feedLn.Addr().String(),
		bridge:    bridge,
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

// chatClient is a minimal chat protocol client for tests.
type chatClient struct {
	t    *testing.T
	conn net.Conn
	nick string // assigned nickname
}

// connect dials addr and completes the nickname handshake.
func connect(t *testing.T, addr, requested string) *chatClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, stackTimeout)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &chatClient{t: t, conn: conn}
	c.send(protocol.Envelope{Kind: protocol.KindNickRequest, Sender: requested})
	ack := c.recv()
	if ack.Kind != protocol.KindNickAck {
		t.Fatalf("expected nick_ack, got %+v", ack)
	}
	c.nick = ack.Recipient
	return c
}

func (c *chatClient) send(env protocol.Envelope) {
	c.t.Helper()
	if err := c.conn.SetWriteDeadline(time.Now().Add(stackTimeout)); err != nil {
		c.t.Fatal(err)
	}
	if err := protocol.Write(c.conn, env); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *chatClient) recv() protocol.Envelope {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(stackTimeout)); err != nil {
		c.t.Fatal(err)
	}
	env, err := protocol.Read(c.conn)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return env
}

// recvKind reads frames until one of the wanted kind arrives.
func (c *chatClient) recvKind(kind string) protocol.Envelope {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		env := c.recv()
		if env.Kind == kind {
			return env
		}
	}
	c.t.Fatalf("no %q envelope within 20 frames", kind)
	return protocol.Envelope{}
}

// recvBody reads frames until one whose body contains substr arrives.
func (c *chatClient) recvBody(substr string) protocol.Envelope {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		env := c.recv()
		if strings.Contains(env.Body, substr) {
			return env
		}
	}
	c.t.Fatalf("no envelope containing %q within 20 frames", substr)
	return protocol.Envelope{}
}

func (c *chatClient) quit() {
	c.t.Helper()
	c.send(protocol.Envelope{Kind: protocol.KindSystem, Body: "quit"})
	// Drain until the server closes the connection.
	_ = c.conn.SetReadDeadline(time.Now().Add(stackTimeout))
	for {
		if _, err := protocol.Read(c.conn); err != nil {
			return
		}
	}
}
