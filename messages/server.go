package messages

import (
	"encoding/json"
	"fmt"
)

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// Message types
const (
	TypeText   = "text"
	TypeStatus = "status"
	TypeError  = "error"
)

// Status values
const (
	StatusConnected    = "connected"
	StatusTurnComplete = "turn_complete"
	StatusDisconnected = "disconnected"
)

// ServerMessage represents a text frame sent by the voice-call endpoint
type ServerMessage struct {
	Type      string `json:"type"` // "text", "status", "error"
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// InboundMessage is a ServerMessage as received, payload still encoded
type InboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// TextResponsePayload contains text response
type TextResponsePayload struct {
	Text string `json:"text"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "turn_complete", "disconnected"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Text: text,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// Summary renders the message for logs and the terminal.
func (m *InboundMessage) Summary() string {
	switch m.Type {
	case TypeText:
		var p TextResponsePayload
		if Unmarshal(m.Payload, &p) == nil {
			return p.Text
		}
	case TypeStatus:
		var p StatusPayload
		if Unmarshal(m.Payload, &p) == nil {
			if p.Message != "" {
				return fmt.Sprintf("%s: %s", p.Status, p.Message)
			}
			return p.Status
		}
	case TypeError:
		var p ErrorPayload
		if Unmarshal(m.Payload, &p) == nil {
			return fmt.Sprintf("%s: %s", p.Code, p.Message)
		}
	}
	return string(m.Payload)
}
