package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		input   string
		wantLvl slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},  // case-insensitive
		{"WARN", slog.LevelWarn},    // case-insensitive
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // empty defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			logger := newLogger(tt.input)
			if logger == nil {
				t.Fatal("newLogger returned nil")
			}

			if !logger.Enabled(context.Background(), tt.wantLvl) {
				t.Errorf("newLogger(%q): expected level %v to be enabled", tt.input, tt.wantLvl)
			}

			if tt.wantLvl > slog.LevelDebug {
				if logger.Enabled(context.Background(), slog.LevelDebug) {
					t.Errorf("newLogger(%q): Debug should be disabled for level %v", tt.input, tt.wantLvl)
				}
			}
		})
	}
}

func TestNewLoggerWritesToStderr(t *testing.T) {
	// Redirect stderr before creating the logger so the handler
	// writes to our pipe.
	old := os.Stderr
	defer func() { os.Stderr = old }()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w

	logger := newLogger("info")
	logger.Info("test message", "key", "value")

	w.Close()
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	r.Close()

	output := string(buf[:n])
	if !strings.Contains(output, "test message") {
		t.Errorf("expected logger output to contain %q, got %q", "test message", output)
	}
}

func TestVersion(t *testing.T) {
	// Verify the version variable is set (compile-time default is "dev").
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestResolveMetricsDisabledByDefault(t *testing.T) {
	t.Setenv("CHATWIRE_METRICS_ADDR", "")

	cmd := serveCmd()
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("log-level", "info", "")

	m, err := resolveMetrics(context.Background(), cmd, newLogger("info"))
	if err != nil {
		t.Fatalf("resolveMetrics: %v", err)
	}
	if m != nil {
		t.Fatal("metrics should be disabled when no address is configured")
	}
}

func TestResolveMetricsFromEnv(t *testing.T) {
	t.Setenv("CHATWIRE_METRICS_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := serveCmd()
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("log-level", "info", "")

	m, err := resolveMetrics(ctx, cmd, newLogger("info"))
	if err != nil {
		t.Fatalf("resolveMetrics: %v", err)
	}
	if m == nil {
		t.Fatal("metrics should be enabled when CHATWIRE_METRICS_ADDR is set")
	}
}
