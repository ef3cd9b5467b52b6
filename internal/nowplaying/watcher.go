// Package nowplaying pushes ICY title changes to browsers over a websocket,
// polling the stream server-side so clients do not have to.
package nowplaying

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	defaultInterval = 15 * time.Second
	pingEvery       = 30 * time.Second
	readDeadline    = 60 * time.Second
	writeWait       = 5 * time.Second
)

type metadataReader interface {
	ReadNowPlaying(ctx context.Context, streamURL string) domain.StreamMetadata
}

type Watcher struct {
	reader   metadataReader
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWatcher(reader metadataReader, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{
		reader:   reader,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 10,
			WriteBufferSize: 1 << 10,
			// The UI is served from wherever the user runs it on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP sends the current metadata right away, then again whenever it
// changes, until the client goes away.
func (w *Watcher) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	streamURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if streamURL == "" {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(map[string]string{"error": "Missing 'url' parameter"})
		return
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("nowplaying_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends anything useful; reading only tracks liveness.
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := w.logger.With(slog.String("url", streamURL))
	logger.Debug("nowplaying_watch_start")
	defer logger.Debug("nowplaying_watch_end")

	poll := time.NewTicker(w.interval)
	defer poll.Stop()
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	var last domain.StreamMetadata
	sent := false
	for {
		meta := w.reader.ReadNowPlaying(ctx, streamURL)
		if ctx.Err() != nil {
			return
		}
		if !sent || meta != last {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(meta); err != nil {
				return
			}
			last, sent = meta, true
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-poll.C:
				break wait
			}
		}
	}
}
