package ws

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ewradio/internal/protocol"
)

// SendTimeout bounds how long a write to one subscriber may block.
const SendTimeout = 50 * time.Millisecond

// Session represents one connected websocket session.
type Session struct {
	ID   string
	Send chan protocol.Message
}

// Hub is the set of connected control clients. Engine state and warnings
// are fanned out to every session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]chan protocol.Message
	nextID   atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]chan protocol.Message)}
}

// Add registers a new session.
func (h *Hub) Add(sendBuf int) *Session {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	id := fmt.Sprintf("c%d", h.nextID.Add(1))
	send := make(chan protocol.Message, sendBuf)

	h.mu.Lock()
	h.sessions[id] = send
	count := len(h.sessions)
	h.mu.Unlock()

	slog.Info("control client added", "client_id", id, "total_clients", count)
	return &Session{ID: id, Send: send}
}

// Remove unregisters a session and closes its send channel.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	send, ok := h.sessions[id]
	if !ok {
		return false
	}
	delete(h.sessions, id)
	close(send)
	slog.Info("control client removed", "client_id", id, "remaining_clients", len(h.sessions))
	return true
}

// ClientCount returns active websocket session count.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends msg to every session except exceptID.
func (h *Hub) Broadcast(msg protocol.Message, exceptID string) {
	h.mu.RLock()
	targets := make([]chan protocol.Message, 0, len(h.sessions))
	for id, ch := range h.sessions {
		if exceptID != "" && id == exceptID {
			continue
		}
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, msg) {
			sent++
		}
	}
	slog.Debug("broadcast", "type", msg.Type, "recipients", sent, "total", len(targets))
}

// SendTo sends msg to one session.
func (h *Hub) SendTo(id string, msg protocol.Message) bool {
	h.mu.RLock()
	ch, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(ch, msg)
}

// trySend delivers msg unless the channel stays full for SendTimeout. A
// send racing with Remove hits a closed channel and reports false.
func trySend(ch chan protocol.Message, msg protocol.Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("trySend timeout", "type", msg.Type)
		return false
	}
}
