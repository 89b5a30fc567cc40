package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mkaancelik/chatwire/internal/chatlog"
)

// StatusConfig holds status page configuration.
type StatusConfig struct {
	Bridge *Bridge
	Log    *chatlog.Log // optional; nil serves an empty message list

	// FeedPort is the monitoring feed port the page's script connects to.
	FeedPort string

	Logger *slog.Logger
}

// ServeStatus runs the HTTP status page on ln: "/" renders the live view,
// /api/stats and /api/messages serve JSON for external consumers. It
// blocks until ctx is cancelled, then shuts down gracefully.
func ServeStatus(ctx context.Context, ln net.Listener, cfg StatusConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct {
			Stats    Stats
			FeedPort string
		}{cfg.Bridge.Snapshot(), cfg.FeedPort}
		if err := statusTemplate.Execute(w, data); err != nil {
			logger.Warn("status page render failed", "error", err)
		}
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cfg.Bridge.Snapshot())
	})

	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		messages := cfg.Log.Recent()
		if messages == nil {
			messages = []string{}
		}
		writeJSON(w, map[string][]string{"messages": messages})
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	logger.Info("status page listening", "addr", ln.Addr())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if ctx.Err() != nil {
		<-shutdownDone
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// The page is a thin consumer of the feed; its markup is deliberately
// minimal and carries no logic beyond subscribing and appending lines.
var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>chatwire monitor</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
h1 { font-size: 1.2em; }
#stats span { margin-right: 2em; }
#events { border: 1px solid #444; padding: 1em; height: 28em; overflow-y: scroll; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>chatwire monitor</h1>
<div id="stats">
<span>users: <b id="users">{{.Stats.ActiveUsers}}</b></span>
<span>public messages: <b id="total">{{.Stats.TotalMessages}}</b></span>
<span>private messages: <b id="private">{{.Stats.PrivateMessages}}</b></span>
</div>
<div id="events"></div>
<script>
const out = document.getElementById("events");
const ws = new WebSocket("ws://" + window.location.hostname + ":{{.FeedPort}}/");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  if (ev.kind === "stats_snapshot" && ev.stats) {
    document.getElementById("users").textContent = ev.stats.active_users;
    document.getElementById("total").textContent = ev.stats.total_messages;
    document.getElementById("private").textContent = ev.stats.private_messages;
    return;
  }
  out.textContent += msg.data + "\n";
  out.scrollTop = out.scrollHeight;
};
ws.onclose = () => { out.textContent += "[feed disconnected]\n"; };
</script>
</body>
</html>
`))
