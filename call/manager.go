// Package call runs realtime voice calls: microphone PCM streamed to the
// backend over a websocket, synthesized PCM played back as it arrives.
package call

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/media"
	"github.com/room4-2/vox/messages"
	"github.com/room4-2/vox/playback"
	"github.com/room4-2/vox/resource"
)

// Microphone is the capture side of a call.
type Microphone interface {
	StartStream(ctx context.Context, onFrame media.FrameHandler) error
	StopStream()
}

// Speaker is the playback side of a call.
type Speaker interface {
	PlayLive(inRate int) (*playback.LiveStream, error)
	Stop()
	SetVolume(v float64)
	SetMuted(muted bool)
}

// Config configures a Manager.
type Config struct {
	WSBaseURL         string        // ws:// or wss:// origin of the backend
	InboundSampleRate int           // rate of PCM frames the backend sends
	KeepAlivePeriod   time.Duration // zero disables pings
}

// ErrNoCall is returned by operations that need a connected call.
var ErrNoCall = errors.New("no active call")

// Manager owns at most one call at a time.
type Manager struct {
	cfg     Config
	dialer  Dialer
	mic     Microphone
	speaker Speaker

	calls resource.Slot[*Session]

	// setup serializes call start and teardown.
	setup sync.Mutex

	mu          sync.Mutex
	abort       context.CancelFunc
	muted       bool
	volume      float64
	listeners   []func(State)
	msgHandlers []func(*messages.InboundMessage)

	log zerolog.Logger
}

// NewManager creates an idle manager.
func NewManager(cfg Config, dialer Dialer, mic Microphone, speaker Speaker, log zerolog.Logger) *Manager {
	if cfg.InboundSampleRate <= 0 {
		cfg.InboundSampleRate = 16000
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		mic:     mic,
		speaker: speaker,
		volume:  1,
		log:     log.With().Str("component", "call").Logger(),
	}
}

// OnStateChange registers fn to observe the state of the current call.
// fn runs synchronously and must not call StartCall or EndCall.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnMessage registers fn to receive JSON frames from the backend.
func (m *Manager) OnMessage(fn func(*messages.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgHandlers = append(m.msgHandlers, fn)
}

// State returns the current call's state, or idle when there is none.
func (m *Manager) State() State {
	s, ok := m.calls.Current()
	if !ok {
		return StateIdle
	}
	return s.State()
}

// Current returns the active session.
func (m *Manager) Current() (*Session, bool) {
	return m.calls.Current()
}

// Endpoint returns the voice-call URL for a persona.
func (m *Manager) Endpoint(personaID string) string {
	return strings.TrimRight(m.cfg.WSBaseURL, "/") + "/ws/voice-call/" + url.PathEscape(personaID)
}

// StartCall ends any call in progress and starts a new one with personaID.
// On failure the call is left in the error state until EndCall.
func (m *Manager) StartCall(ctx context.Context, personaID string) error {
	if personaID == "" {
		return apperr.New(apperr.KindInvalid, "start call", "persona id is required")
	}
	m.abortSetup()
	m.setup.Lock()
	defer m.setup.Unlock()
	m.endLocked()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.abort = cancel
	muted := m.muted
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.abort = nil
		m.mu.Unlock()
	}()

	s := newSession(uuid.New().String(), personaID, m.mic, m.speaker, m.cfg.KeepAlivePeriod, m.log)
	s.muted.Store(muted)
	s.onState = m.sessionState
	s.onMessage = m.sessionMessage
	if err := m.calls.Acquire(s); err != nil {
		m.log.Warn().Err(err).Msg("Previous call teardown incomplete")
	}

	s.setState(StateConnecting)

	if err := m.mic.StartStream(ctx, s.onFrame); err != nil {
		return m.fail(s, err)
	}
	if err := ctx.Err(); err != nil {
		return m.fail(s, err)
	}

	live, err := m.speaker.PlayLive(m.cfg.InboundSampleRate)
	if err != nil {
		return m.fail(s, err)
	}

	endpoint := m.Endpoint(personaID)
	s.log.Info().Str("url", endpoint).Msg("Dialing")
	conn, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		_ = live.Close()
		return m.fail(s, err)
	}

	if !s.attach(conn, live) {
		_ = conn.Close()
		_ = live.Close()
		return m.fail(s, context.Canceled)
	}
	s.setState(StateConnected)
	s.run()
	return nil
}

func (m *Manager) fail(s *Session, err error) error {
	if errors.Is(err, context.Canceled) {
		s.log.Info().Msg("Call setup cancelled")
	} else {
		s.log.Error().Err(err).Msg("Call failed to start")
	}
	s.setState(StateError)
	if rerr := s.Release(); rerr != nil {
		s.log.Warn().Err(rerr).Msg("Teardown after failed start")
	}
	return err
}

// abortSetup cancels a StartCall that is still acquiring devices or dialing.
func (m *Manager) abortSetup() {
	m.mu.Lock()
	cancel := m.abort
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// EndCall tears down the current call and returns to idle. It is safe to
// call at any time. A call still being set up is cancelled and torn down
// before EndCall returns.
func (m *Manager) EndCall() {
	m.abortSetup()
	m.setup.Lock()
	defer m.setup.Unlock()
	m.endLocked()
}

func (m *Manager) endLocked() {
	s, ok := m.calls.Current()
	if !ok {
		return
	}
	if err := m.calls.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Call teardown incomplete")
	}
	sent, received := s.Stats()
	s.log.Info().Int64("sent", sent).Int64("received", received).Msg("Call ended")
	m.emit(StateIdle)
}

// SetMuted gates outbound audio and silences playback.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
	if s, ok := m.calls.Current(); ok {
		s.muted.Store(muted)
	}
	m.speaker.SetMuted(muted)
}

// ToggleMute flips the mute flag and returns the new value.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	muted := !m.muted
	m.mu.Unlock()
	m.SetMuted(muted)
	return muted
}

// Muted reports the mute flag.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// SetVolume sets the playback gain, clamped to [0, 1].
func (m *Manager) SetVolume(v float64) {
	v = min(max(v, 0), 1)
	m.mu.Lock()
	m.volume = v
	m.mu.Unlock()
	m.speaker.SetVolume(v)
}

// Volume returns the playback gain.
func (m *Manager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// SendControl sends a control action such as messages.ActionEndTurn.
func (m *Manager) SendControl(ctx context.Context, action string) error {
	s, ok := m.calls.Current()
	if !ok || s.State() != StateConnected {
		return ErrNoCall
	}
	return s.sendControl(ctx, action)
}

func (m *Manager) sessionState(s *Session, st State) {
	if cur, ok := m.calls.Current(); !ok || cur != s {
		return
	}
	m.emit(st)
}

func (m *Manager) sessionMessage(s *Session, msg *messages.InboundMessage) {
	if cur, ok := m.calls.Current(); !ok || cur != s {
		return
	}
	m.mu.Lock()
	handlers := append([]func(*messages.InboundMessage){}, m.msgHandlers...)
	m.mu.Unlock()
	s.log.Debug().Str("type", msg.Type).Msg(msg.Summary())
	for _, fn := range handlers {
		fn(msg)
	}
}

func (m *Manager) emit(st State) {
	m.mu.Lock()
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}
