package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const feedWriteTimeout = 10 * time.Second

// ServeFeed runs the WebSocket push feed on ln. Each connection becomes a
// bridge subscription: a stats snapshot first, then every event published
// while connected, as one JSON text message each. It blocks until ctx is
// cancelled, then shuts down gracefully.
func ServeFeed(ctx context.Context, ln net.Listener, bridge *Bridge, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// The status page is served from a different port.
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warn("feed accept failed", "error", err)
			return
		}
		defer ws.CloseNow()

		sub := bridge.Subscribe()
		defer sub.Close()

		logger.Debug("monitor subscriber connected", "remote", r.RemoteAddr)
		feedLoop(r.Context(), ws, sub)
		logger.Debug("monitor subscriber disconnected", "remote", r.RemoteAddr)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	logger.Info("monitoring feed listening", "addr", ln.Addr())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if ctx.Err() != nil {
		<-shutdownDone
	}
	return nil
}

func feedLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Dropped by the bridge or bridge shut down.
				_ = ws.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err = ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
