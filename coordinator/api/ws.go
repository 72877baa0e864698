package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
)

const (
	wsBufferSize   = 16
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHub pushes one snapshot per completed round to every connected
// websocket. A slow consumer drops events rather than blocking the round
// loop.
type StreamHub struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan metrics.Snapshot
}

func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		logger: logger,
		subs:   make(map[uint64]chan metrics.Snapshot),
	}
}

// RoundCompleted fans the snapshot out to all subscribers.
func (h *StreamHub) RoundCompleted(snapshot metrics.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (h *StreamHub) subscribe() (uint64, chan metrics.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan metrics.Snapshot, wsBufferSize)
	h.subs[h.nextID] = ch

	return h.nextID, ch
}

func (h *StreamHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, id)
}

func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)

		return
	}
	defer conn.Close()

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	// Reads are discarded; they only surface close frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot := <-ch:
			payload, err := json.Marshal(snapshot)
			if err != nil {
				h.logger.Warn("failed to encode snapshot", "error", err)

				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
