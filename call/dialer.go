package call

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/vox/apperr"
)

// Conn is the subset of a websocket connection a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens call transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// TokenSource supplies an optional bearer credential for the handshake.
type TokenSource interface {
	Token() string
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Tokens TokenSource
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if d.Tokens != nil {
		if tok := d.Tokens.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &apperr.Error{
				Kind:    apperr.KindServer,
				Op:      "open call",
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("handshake rejected: %s", resp.Status),
				Err:     err,
			}
		}
		return nil, &apperr.Error{Kind: apperr.KindNetwork, Op: "open call", Message: "voice call endpoint unreachable", Err: err}
	}
	return conn, nil
}
