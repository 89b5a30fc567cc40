package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/mkaancelik/chatwire/internal/chatlog"
	"github.com/mkaancelik/chatwire/internal/config"
	"github.com/mkaancelik/chatwire/internal/mailbox"
	"github.com/mkaancelik/chatwire/internal/monitor"
	"github.com/mkaancelik/chatwire/internal/ratelimit"
	"github.com/mkaancelik/chatwire/internal/registry"
	"github.com/mkaancelik/chatwire/internal/router"
	"github.com/mkaancelik/chatwire/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server, status page, and monitoring feed",
		Long: `Start the TCP chat server together with the HTTP status page and the
WebSocket monitoring feed. Configuration comes from CHATWIRE_* environment
variables, with an optional .env file.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := resolveMetrics(ctx, cmd, logger)
	if err != nil {
		return err
	}

	log, err := chatlog.Open(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer log.Close() //nolint:errcheck // best-effort cleanup

	// Bind all listeners up front so address conflicts fail fast.
	chatLn, err := net.Listen("tcp", cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ChatAddr, err)
	}
	feedLn, err := net.Listen("tcp", cfg.FeedAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.FeedAddr, err)
	}
	statusLn, err := net.Listen("tcp", cfg.StatusAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.StatusAddr, err)
	}

	bridge := monitor.NewBridge(logger, m)
	go bridge.Run(ctx)

	reg := registry.New()
	r := router.New(router.Config{
		Registry: reg,
		Limiter:  ratelimit.New(cfg.RateLimit, cfg.RateWindow),
		Mailbox:  mailbox.New(),
		Log:      log,
		Bridge:   bridge,
		Metrics:  m,
		Logger:   logger,
	})

	errc := make(chan error, 3)
	go func() {
		errc <- server.Serve(ctx, chatLn, server.Config{
			Registry:         reg,
			Router:           r,
			NegotiateTimeout: cfg.NegotiateTimeout,
			IdleTimeout:      cfg.IdleTimeout,
			Logger:           logger,
			Metrics:          m,
		})
	}()
	go func() {
		errc <- monitor.ServeFeed(ctx, feedLn, bridge, logger)
	}()
	go func() {
		errc <- monitor.ServeStatus(ctx, statusLn, monitor.StatusConfig{
			Bridge:   bridge,
			Log:      log,
			FeedPort: cfg.FeedPort(),
			Logger:   logger,
		})
	}()

	// One component failing takes the rest down.
	var firstErr error
	for i := 0; i < 3; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}
