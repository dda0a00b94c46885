package protocol

import (
	"ewradio/internal/engine"
	"ewradio/internal/tuning"
)

// Message types used by the websocket protocol.
const (
	TypeUpdateState = "update_state"
	TypeTuning      = "tuning"
	TypeCatalog     = "catalog"
	TypeVolume      = "volume"
	TypeMute        = "mute"
	TypeUnmute      = "unmute"
	TypeStop        = "stop"
	TypePing        = "ping"

	TypeState   = "state"
	TypeWarning = "warning"
	TypePong    = "pong"
	TypeError   = "error"
)

// Message is the JSON control envelope exchanged over websocket.
type Message struct {
	Type    string           `json:"type"`
	Tuning  *tuning.Config   `json:"tuning,omitempty"`
	Signals []tuning.Signal  `json:"signals,omitempty"`
	Volume  *float64         `json:"volume,omitempty"`
	State   *engine.Snapshot `json:"state,omitempty"`
	Path    string           `json:"path,omitempty"`
	TS      int64            `json:"ts,omitempty"`
	Error   string           `json:"error,omitempty"`
}
