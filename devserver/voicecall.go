package devserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/messages"
)

const writeTimeout = 10 * time.Second

// loopback answers a voice call by echoing the caller's audio.
type loopback struct {
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
	once   sync.Once
	frames int
	log    zerolog.Logger
}

func (l *loopback) write(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(messageType, data)
}

func (l *loopback) send(msg *messages.ServerMessage) error {
	raw, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	return l.write(websocket.TextMessage, raw)
}

// close tells the caller the call is over and closes the socket.
func (l *loopback) close() {
	l.once.Do(func() {
		_ = l.send(messages.NewStatusMessage("", messages.StatusDisconnected, "server shutting down"))
		_ = l.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = l.conn.Close()
	})
}

func (s *Server) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("persona")
	if _, ok := s.persona(personaID); !ok {
		http.Error(w, "unknown role", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	lb := &loopback{conn: conn}
	id, err := s.calls.add(r.Context(), personaID, lb)
	if err != nil {
		s.log.Warn().Err(err).Str("persona", personaID).Msg("Call refused")
		_ = lb.send(messages.NewErrorMessage("", messages.ErrCodeRateLimited, err.Error()))
		_ = lb.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many calls"))
		_ = conn.Close()
		return
	}
	lb.log = s.log.With().Str("call", id[:8]).Str("persona", personaID).Logger()
	lb.log.Info().Msg("Call opened")

	defer func() {
		s.calls.remove(r.Context(), id)
		lb.close()
		lb.log.Info().Int("frames", lb.frames).Msg("Call closed")
	}()

	_ = lb.send(messages.NewStatusMessage(id, messages.StatusConnected, "loopback ready"))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lb.log.Warn().Err(err).Msg("Caller dropped")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			lb.frames++
			if err := lb.write(websocket.BinaryMessage, data); err != nil {
				return
			}
		case websocket.TextMessage:
			if err := s.handleCallControl(lb, id, data); err != nil {
				lb.log.Warn().Err(err).Msg("Control message rejected")
				_ = lb.send(messages.NewErrorMessage(id, messages.ErrCodeInvalidMessage, err.Error()))
			}
		}
	}
}

func (s *Server) handleCallControl(lb *loopback, id string, data []byte) error {
	msg, err := messages.DecodeClient(data)
	if err != nil {
		return err
	}
	if msg.Type != messages.TypeControl {
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}

	var ctrl messages.ControlPayload
	if err := messages.Unmarshal(msg.Payload, &ctrl); err != nil {
		return fmt.Errorf("invalid control payload: %w", err)
	}

	switch ctrl.Action {
	case messages.ActionPing:
		return lb.send(messages.NewStatusMessage(id, "pong", ""))
	case messages.ActionEndTurn:
		if err := lb.send(messages.NewTextMessage(id, fmt.Sprintf("heard %d frames", lb.frames))); err != nil {
			return err
		}
		return lb.send(messages.NewStatusMessage(id, messages.StatusTurnComplete, ""))
	default:
		return fmt.Errorf("unknown action: %s", ctrl.Action)
	}
}
