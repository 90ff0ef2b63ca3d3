package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeControl = "control"
)

// Control actions
const (
	ActionPing    = "ping"
	ActionEndTurn = "end_turn"
)

// ClientMessage represents a text frame sent by the client on the call socket
type ClientMessage struct {
	Type    string          `json:"type"` // "control"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn"
}

// NewControlMessage creates a control message
func NewControlMessage(action string) (*ClientMessage, error) {
	return newClientMessage(TypeControl, ControlPayload{Action: action})
}

func newClientMessage(typ string, payload any) (*ClientMessage, error) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ClientMessage{Type: typ, Payload: raw}, nil
}
