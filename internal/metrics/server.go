package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	scrapeTimeout   = 10 * time.Second
	shutdownCeiling = 10 * time.Second
)

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes the chat counters for Prometheus scraping at /metrics on
// ln. It blocks until ctx is cancelled and any in-flight scrape has
// drained.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: scrapeTimeout,
		ReadTimeout:       scrapeTimeout,
		WriteTimeout:      scrapeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownCeiling)
		defer cancel()
		_ = srv.Shutdown(stopCtx)
	}()

	logger.Info("metrics exporter listening", "addr", ln.Addr())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Wait out the shutdown only when ctx triggered it; a listener error
	// means the drain goroutine may never fire.
	if ctx.Err() != nil {
		<-drained
	}
	return nil
}
