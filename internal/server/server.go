// Package server implements the TCP chat server: it accepts connections,
// negotiates nicknames, and hands decoded envelopes to the router.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mkaancelik/chatwire/internal/metrics"
	"github.com/mkaancelik/chatwire/internal/registry"
	"github.com/mkaancelik/chatwire/internal/router"
)

const (
	defaultNegotiateTimeout = 30 * time.Second
	defaultIdleTimeout      = 5 * time.Minute
	writeTimeout            = 10 * time.Second
)

// Config holds chat server configuration. Registry and Router are required.
type Config struct {
	Addr             string
	Registry         *registry.Registry
	Router           *router.Router
	NegotiateTimeout time.Duration // time allowed for the nickname handshake
	IdleTimeout      time.Duration // read deadline between frames
	Logger           *slog.Logger
	Metrics          *metrics.Metrics // optional; nil disables metrics
}

// ListenAndServe listens on cfg.Addr and serves chat sessions until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return Serve(ctx, ln, cfg)
}

// Serve accepts chat sessions from ln until ctx is cancelled, then waits
// for active sessions to finish. The listener is closed on return.
func Serve(ctx context.Context, ln net.Listener, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NegotiateTimeout == 0 {
		cfg.NegotiateTimeout = defaultNegotiateTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	cfg.Logger.Info("chat server listening", "addr", ln.Addr().String())

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
		s := newSession(conn, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx)
		}()
	}

	wg.Wait()
	cfg.Logger.Info("chat server stopped")
	return nil
}
