// Package relay implements the chat relay proxy. It accepts client
// connections, opens one upstream chat connection per client, and forwards
// envelopes both ways while tagging relayed identities with a leading '*'.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mkaancelik/chatwire/internal/chatlog"
	"github.com/mkaancelik/chatwire/internal/metrics"
	"github.com/mkaancelik/chatwire/internal/protocol"
)

const defaultDialTimeout = 10 * time.Second

// Marker is prepended to the sender identity of every frame forwarded
// upstream, and stripped once from identities on the way back down.
const Marker = "*"

// Config holds relay configuration. Upstream is required.
type Config struct {
	Addr        string
	Upstream    string        // chat server address to dial per client
	DialTimeout time.Duration // upstream dial timeout
	Logger      *slog.Logger
	Metrics     *metrics.Metrics // optional; nil disables metrics
	Log         *chatlog.Log     // optional relay activity log
}

// ListenAndServe listens on cfg.Addr and relays chat traffic until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return Serve(ctx, ln, cfg)
}

// Serve accepts relay clients from ln until ctx is cancelled, then waits
// for active links to tear down.
func Serve(ctx context.Context, ln net.Listener, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	cfg.Logger.Info("relay listening", "addr", ln.Addr().String(), "upstream", cfg.Upstream)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close() //nolint:errcheck // best-effort cleanup

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleLink(ctx, conn, cfg)
		}()
	}

	wg.Wait()
	cfg.Logger.Info("relay stopped")
	return nil
}

// handleLink dials the upstream for one client and pumps frames both ways
// until either side closes.
func handleLink(ctx context.Context, client net.Conn, cfg Config) {
	defer client.Close() //nolint:errcheck // best-effort cleanup

	logger := cfg.Logger.With("client", client.RemoteAddr().String())

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	upstream, err := dialer.DialContext(dialCtx, "tcp", cfg.Upstream)
	if err != nil {
		logger.Warn("upstream dial failed", "upstream", cfg.Upstream, "error", err)
		return
	}
	defer upstream.Close() //nolint:errcheck // best-effort cleanup

	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
		_ = upstream.Close()
	})
	defer stop()

	cfg.Metrics.LinkOpened()
	defer cfg.Metrics.LinkClosed()
	cfg.Log.Appendf("link opened %s -> %s", client.RemoteAddr(), cfg.Upstream)
	logger.Info("link opened", "upstream", cfg.Upstream)

	errc := make(chan error, 2)

	// client → upstream: tag the sender identity.
	go func() {
		errc <- pump(client, upstream, func(env protocol.Envelope) protocol.Envelope {
			cfg.Metrics.FrameRelayed(metrics.DirectionClientToServer)
			return TagOutbound(env)
		})
	}()

	// upstream → client: strip the tag from identities.
	go func() {
		errc <- pump(upstream, client, func(env protocol.Envelope) protocol.Envelope {
			cfg.Metrics.FrameRelayed(metrics.DirectionServerToClient)
			return UntagInbound(env)
		})
	}()

	// First direction to finish tears down both connections, which
	// unblocks the other.
	err = <-errc
	_ = client.Close()
	_ = upstream.Close()
	<-errc

	if err != nil && !protocol.IsDecodeError(err) {
		logger.Debug("link ended", "error", err)
	}
	if protocol.IsDecodeError(err) {
		cfg.Metrics.DecodeError()
		logger.Warn("malformed frame on link", "error", err)
	}
	cfg.Log.Appendf("link closed %s", client.RemoteAddr())
	logger.Info("link closed")
}

func pump(src io.Reader, dst io.Writer, rewrite func(protocol.Envelope) protocol.Envelope) error {
	for {
		env, err := protocol.Read(src)
		if err != nil {
			return ignoreEOF(err)
		}
		if err := protocol.Write(dst, rewrite(env)); err != nil {
			return err
		}
	}
}

// TagOutbound marks a client-originated envelope as relayed by prepending
// Marker to a non-empty sender. The body is never touched.
func TagOutbound(env protocol.Envelope) protocol.Envelope {
	if env.Sender != "" {
		env.Sender = Marker + env.Sender
	}
	return env
}

// UntagInbound strips exactly one leading Marker from the sender and
// recipient of a server-originated envelope, so relayed clients see their
// own plain identity.
func UntagInbound(env protocol.Envelope) protocol.Envelope {
	env.Sender = stripMarker(env.Sender)
	env.Recipient = stripMarker(env.Recipient)
	return env
}

func stripMarker(identity string) string {
	if len(identity) > 0 && identity[0] == Marker[0] {
		return identity[1:]
	}
	return identity
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return nil
	}
	return err
}
