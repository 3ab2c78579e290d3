package main

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ProgressHub streams cosmetic submission progress to subscribed clients
// over websocket, one subscription set per subject.
type ProgressHub struct {
	mu          sync.RWMutex
	connections map[string]map[string]*progressConn // subject -> conn id -> conn
	upgrader    websocket.Upgrader
}

type progressConn struct {
	id   string
	conn *websocket.Conn
	send chan ProgressUpdate
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		connections: make(map[string]map[string]*progressConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades the request and subscribes it to the subject's
// progress updates until the peer disconnects.
func (h *ProgressHub) HandleConnection(subjectID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade progress connection", "subject", subjectID, "error", err)
		return
	}

	pc := &progressConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan ProgressUpdate, 32),
	}

	h.mu.Lock()
	if h.connections[subjectID] == nil {
		h.connections[subjectID] = make(map[string]*progressConn)
	}
	h.connections[subjectID][pc.id] = pc
	h.mu.Unlock()

	slog.Debug("Progress subscriber connected", "subject", subjectID, "conn_id", pc.id)

	go h.writeLoop(subjectID, pc)
	h.readLoop(subjectID, pc)
}

// writeLoop forwards queued updates to the peer.
func (h *ProgressHub) writeLoop(subjectID string, pc *progressConn) {
	for update := range pc.send {
		if err := pc.conn.WriteJSON(update); err != nil {
			slog.Debug("Progress write failed, dropping subscriber", "subject", subjectID, "conn_id", pc.id, "error", err)
			h.unregister(subjectID, pc)
			return
		}
	}
}

// readLoop drains the peer until it closes, then unsubscribes.
func (h *ProgressHub) readLoop(subjectID string, pc *progressConn) {
	defer h.unregister(subjectID, pc)
	for {
		if _, _, err := pc.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHub) unregister(subjectID string, pc *progressConn) {
	h.mu.Lock()
	conns, ok := h.connections[subjectID]
	if ok {
		if _, present := conns[pc.id]; present {
			delete(conns, pc.id)
			close(pc.send)
		}
		if len(conns) == 0 {
			delete(h.connections, subjectID)
		}
	}
	h.mu.Unlock()
	_ = pc.conn.Close()
}

// PublishProgress implements ProgressSink. Slow subscribers are skipped
// rather than blocking the ticker.
func (h *ProgressHub) PublishProgress(subjectID string, update ProgressUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, pc := range h.connections[subjectID] {
		select {
		case pc.send <- update:
		default:
		}
	}
}
