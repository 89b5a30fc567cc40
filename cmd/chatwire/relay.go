package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/mkaancelik/chatwire/internal/chatlog"
	"github.com/mkaancelik/chatwire/internal/config"
	"github.com/mkaancelik/chatwire/internal/relay"
	"github.com/spf13/cobra"
)

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the relay proxy in front of a chat server",
		Long: `Start a relay proxy that forwards chat traffic to an upstream server,
tagging relayed identities with a leading '*'. Configuration comes from
CHATWIRE_* environment variables, with an optional .env file.`,
		Args: cobra.NoArgs,
		RunE: runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := resolveMetrics(ctx, cmd, logger)
	if err != nil {
		return err
	}

	log, err := chatlog.Open(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open relay log: %w", err)
	}
	defer log.Close() //nolint:errcheck // best-effort cleanup

	return relay.ListenAndServe(ctx, relay.Config{
		Addr:        cfg.Addr,
		Upstream:    cfg.Upstream,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger,
		Metrics:     m,
		Log:         log,
	})
}
