package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/logging"
)

var upgrader = websocket.Upgrader{
	// The server only binds locally; cross-origin browser pages on the
	// same machine are allowed in.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandsHandler broadcasts live hand detections over websockets. Frames
// are only captured and detected while at least one client is connected.
type HandsHandler struct {
	live    FrameDetector
	source  capture.Source
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewHandsHandler creates a HandsHandler and starts its broadcast loop.
func NewHandsHandler(live FrameDetector, source capture.Source) *HandsHandler {
	h := &HandsHandler{
		live:    live,
		source:  source,
		clients: make(map[*websocket.Conn]bool),
	}
	go h.broadcast()
	return h
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (h *HandsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().WithFields(logging.Fields{"error": err.Error()}).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast runs detection on live frames and fans results out to every
// connected client.
func (h *HandsHandler) broadcast() {
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		idle := len(h.clients) == 0
		h.mu.RUnlock()
		if idle {
			continue
		}

		frame, err := h.source.Read()
		if err != nil {
			continue
		}
		hands, err := h.live.DetectMat(frame)
		frame.Close()
		if err != nil {
			continue
		}

		msg, err := json.Marshal(map[string]any{
			"hands":     hands,
			"timestamp": time.Now().UnixMilli(),
		})
		if err != nil {
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.WriteMessage(websocket.TextMessage, msg)
		}
		h.mu.RUnlock()
	}
}
