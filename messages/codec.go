package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Marshal encodes any envelope or payload.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal decodes into v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DecodeServer parses one text frame from the voice-call endpoint.
func DecodeServer(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode server message: missing type")
	}
	return &msg, nil
}

// DecodeClient parses one text frame sent by a client.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	return &msg, nil
}
