// Package ws serves the realtime control channel. Clients drive the radio
// with tuning and catalog updates and receive the engine state after every
// accepted command.
package ws

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ewradio/internal/assets"
	"ewradio/internal/engine"
	"ewradio/internal/protocol"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the control surface.
type Handler struct {
	radio    *engine.Engine
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to radio. Engine warnings and
// mix changes from finished loads are pushed to every client.
func NewHandler(radio *engine.Engine, hub *Hub) *Handler {
	if hub == nil {
		hub = NewHub()
	}
	h := &Handler{
		radio: radio,
		hub:   hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	radio.SetOnWarning(h.Warn)
	radio.SetOnReconciled(h.BroadcastState)
	return h
}

// Hub returns the handler's session registry.
func (h *Handler) Hub() *Hub { return h.hub }

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

// BroadcastState sends the current engine snapshot to every client.
func (h *Handler) BroadcastState() {
	h.hub.Broadcast(h.stateMessage(), "")
}

// Warn forwards a non-fatal engine problem to every client.
func (h *Handler) Warn(err error) {
	msg := protocol.Message{Type: protocol.TypeWarning, Error: err.Error(), TS: time.Now().UnixMilli()}
	var le *assets.LoadError
	if errors.As(err, &le) {
		msg.Path = le.Path
	}
	h.hub.Broadcast(msg, "")
}

func (h *Handler) stateMessage() protocol.Message {
	snap := h.radio.Snapshot()
	return protocol.Message{Type: protocol.TypeState, State: &snap, TS: time.Now().UnixMilli()}
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	session := h.hub.Add(64)
	defer h.hub.Remove(session.ID)

	go func() {
		for out := range session.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}()

	h.hub.SendTo(session.ID, h.stateMessage())

	for {
		var in protocol.Message
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		h.handleInbound(session.ID, in)
	}
}

func (h *Handler) handleInbound(clientID string, in protocol.Message) {
	var err error
	switch in.Type {
	case protocol.TypePing:
		h.hub.SendTo(clientID, protocol.Message{Type: protocol.TypePong, TS: in.TS})
		return

	case protocol.TypeUpdateState:
		if in.Tuning == nil {
			h.sendError(clientID, "tuning is required")
			return
		}
		err = h.radio.UpdateState(*in.Tuning, in.Signals)

	case protocol.TypeTuning:
		if in.Tuning == nil {
			h.sendError(clientID, "tuning is required")
			return
		}
		err = h.radio.Retune(*in.Tuning)

	case protocol.TypeCatalog:
		err = h.radio.ReplaceCatalog(in.Signals)

	case protocol.TypeVolume:
		if in.Volume == nil || !ValidVolume(*in.Volume) {
			h.sendError(clientID, "volume must be within [0, 1]")
			return
		}
		h.radio.SetMasterVolume(*in.Volume)

	case protocol.TypeMute:
		h.radio.Mute()

	case protocol.TypeUnmute:
		h.radio.Unmute()

	case protocol.TypeStop:
		h.radio.StopAll()

	default:
		h.sendError(clientID, "unsupported message type")
		return
	}

	if err != nil {
		h.sendError(clientID, err.Error())
		return
	}
	h.BroadcastState()
}

// ValidVolume reports whether v is a usable master volume.
func ValidVolume(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (h *Handler) sendError(clientID, errMsg string) {
	h.hub.SendTo(clientID, protocol.Message{Type: protocol.TypeError, Error: errMsg})
}
