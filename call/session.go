package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/messages"
	"github.com/room4-2/vox/playback"
	"github.com/room4-2/vox/resource"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

type outbound struct {
	messageType int
	data        []byte
}

// Session is one call. It is never reused: a new call gets a new session.
type Session struct {
	ID        string
	PersonaID string
	CreatedAt time.Time

	mic     Microphone
	speaker Speaker
	conn    Conn
	live    *playback.LiveStream

	writeChan chan outbound
	writeDone chan struct{}
	keepAlive time.Duration

	// processing gates the capture callback into the transport.
	processing atomic.Bool
	started    atomic.Bool
	muted      atomic.Bool
	sentFrames atomic.Int64
	recvFrames atomic.Int64

	mu        sync.RWMutex
	state     State
	closed    bool
	CloseChan chan struct{}

	onState   func(*Session, State)
	onMessage func(*Session, *messages.InboundMessage)
	log       zerolog.Logger
}

func newSession(id, personaID string, mic Microphone, speaker Speaker, keepAlive time.Duration, log zerolog.Logger) *Session {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return &Session{
		ID:        id,
		PersonaID: personaID,
		CreatedAt: time.Now(),
		mic:       mic,
		speaker:   speaker,
		writeChan: make(chan outbound, writeBufferSize),
		writeDone: make(chan struct{}),
		keepAlive: keepAlive,
		state:     StateIdle,
		CloseChan: make(chan struct{}),
		log:       log.With().Str("call", short).Str("persona", personaID).Logger(),
	}
}

// State returns the session's state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats reports frames sent and received.
func (s *Session) Stats() (sent, received int64) {
	return s.sentFrames.Load(), s.recvFrames.Load()
}

func (s *Session) setState(next State) bool {
	s.mu.Lock()
	prev := s.state
	if !canTransition(prev, next) {
		s.mu.Unlock()
		s.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("Ignoring state change")
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("Call state")
	if s.onState != nil {
		s.onState(s, next)
	}
	return true
}

// onFrame is the capture callback. Frames are forwarded in capture order,
// only while connected and unmuted.
func (s *Session) onFrame(frame []float32) {
	if !s.processing.Load() || s.muted.Load() || s.State() != StateConnected {
		return
	}
	s.queue(outbound{messageType: websocket.BinaryMessage, data: audio.FloatToPCM16(frame)})
}

// queue adds a frame to the write queue without blocking.
func (s *Session) queue(msg outbound) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.writeChan <- msg:
		return true
	default:
		s.log.Warn().Msg("Write queue full, dropping frame")
		return false
	}
}

// attach binds the open transport. It fails if the session was released
// while the transport was being opened.
func (s *Session) attach(conn Conn, live *playback.LiveStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	s.live = live
	return true
}

// run connects the processing graph and starts the pumps.
func (s *Session) run() {
	s.processing.Store(true)
	s.started.Store(true)
	go s.writePump()
	go s.readPump()
}

// writePump handles all outgoing frames in a single goroutine
func (s *Session) writePump() {
	defer close(s.writeDone)
	defer func() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	var ping <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.CloseChan:
			return
		case msg := <-s.writeChan:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				s.log.Warn().Err(err).Msg("Write failed")
				return
			}
			if msg.messageType == websocket.BinaryMessage {
				s.sentFrames.Add(1)
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.log.Warn().Err(err).Msg("Keepalive failed")
				return
			}
		}
	}
}

// readPump routes inbound frames: audio to playback in arrival order, JSON
// to the message observer.
func (s *Session) readPump() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.transportLost(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.recvFrames.Add(1)
			if s.live != nil {
				if _, err := s.live.Write(data); err != nil {
					s.log.Debug().Err(err).Msg("Dropping inbound audio, playback closed")
				}
			}
		case websocket.TextMessage:
			msg, err := messages.DecodeServer(data)
			if err != nil {
				s.log.Warn().Err(err).Msg("Ignoring malformed server message")
				continue
			}
			if s.onMessage != nil {
				s.onMessage(s, msg)
			}
		}
	}
}

func (s *Session) transportLost(err error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	s.processing.Store(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Info().Msg("Call closed by server")
		s.setState(StateDisconnected)
		return
	}
	s.log.Error().Err(err).Msg("Call transport failed")
	s.setState(StateError)
}

// Release tears the session down: media stream, playback, transport, then
// the processing graph. Every step runs even if an earlier one fails.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return resource.Teardown(
		resource.Step{Name: "stop media stream", Run: func() error {
			s.mic.StopStream()
			return nil
		}},
		resource.Step{Name: "stop playback", Run: func() error {
			s.speaker.Stop()
			return nil
		}},
		resource.Step{Name: "close transport", Run: s.closeTransport},
		resource.Step{Name: "disconnect processing graph", Run: func() error {
			s.processing.Store(false)
			return nil
		}},
	)
}

func (s *Session) closeTransport() error {
	close(s.CloseChan)

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil
	}
	if !s.started.Load() {
		return conn.Close()
	}

	select {
	case <-s.writeDone:
	case <-time.After(writeTimeout):
		return errors.Join(errors.New("write pump did not stop"), conn.Close())
	}
	return conn.Close()
}

// IsClosed returns whether the session has been released
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) sendControl(ctx context.Context, action string) error {
	msg, err := messages.NewControlMessage(action)
	if err != nil {
		return err
	}
	raw, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.queue(outbound{messageType: websocket.TextMessage, data: raw}) {
		return errors.New("call is closing or write queue is full")
	}
	return nil
}
