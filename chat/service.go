// Package chat turns user input into conversation entries: text goes to the
// chat endpoint, recordings go through the voice round trip.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/conversation"
	"github.com/room4-2/vox/model"
	"github.com/room4-2/vox/voice"
)

// VoicePlaceholder stands in for a recording whose words are unknown.
const VoicePlaceholder = "[voice message]"

// Backend is the subset of the API client the service calls.
type Backend interface {
	Chat(ctx context.Context, personaID, text string) (api.ChatReply, error)
	Transcribe(ctx context.Context, personaID, filename string, audio []byte) (api.ChatReply, error)
	History(ctx context.Context, personaID string) ([]model.Message, error)
}

// VoiceExchanger runs the staged voice round trip.
type VoiceExchanger interface {
	ProcessVoiceMessage(ctx context.Context, b audio.Blob, personaID, voiceID string) (voice.Result, error)
}

// Player plays reply audio.
type Player interface {
	Play(clip audio.Blob) error
}

// Exchange is one user turn and the reply it produced.
type Exchange struct {
	User      model.Message
	Assistant model.Message
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service records every exchange in the conversation store.
type Service struct {
	backend Backend
	store   *conversation.Store
	voice   VoiceExchanger
	player  Player
	now     func() time.Time
	log     zerolog.Logger
}

// NewService wires the service. player may be nil, in which case replies
// are recorded but not played.
func NewService(backend Backend, store *conversation.Store, vx VoiceExchanger, player Player, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		store:   store,
		voice:   vx,
		player:  player,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "chat").Logger()
	return s
}

func (s *Service) message(speaker model.Speaker, text, audioURL, sessionID string) model.Message {
	return model.Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		AudioURL:  audioURL,
		Timestamp: s.now().UnixMilli(),
		SessionID: sessionID,
	}
}

// SendText sends text to the persona. The user message is recorded before
// the request and stays recorded if the request fails.
func (s *Service) SendText(ctx context.Context, personaID, text string) (Exchange, error) {
	if personaID == "" {
		return Exchange{}, apperr.New(apperr.KindInvalid, "send text", "no persona selected")
	}
	if text == "" {
		return Exchange{}, apperr.New(apperr.KindInvalid, "send text", "message is empty")
	}

	user := s.store.AddMessage(ctx, personaID,
		s.message(model.SpeakerUser, text, "", s.store.SessionID(personaID)))

	reply, err := s.backend.Chat(ctx, personaID, text)
	if err != nil {
		return Exchange{User: user}, fmt.Errorf("send text: %w", err)
	}

	sessionID := s.store.SetSessionID(ctx, personaID, reply.SessionID)
	assistant := s.store.AddMessage(ctx, personaID,
		s.message(model.SpeakerAssistant, reply.Text, reply.AudioURL, sessionID))

	s.log.Debug().Str("persona", personaID).Str("session", sessionID).Msg("Text exchange recorded")
	return Exchange{User: user, Assistant: assistant}, nil
}

// SendVoice runs the voice round trip for a recording and plays the reply.
// Nothing is recorded unless the whole round trip succeeds.
func (s *Service) SendVoice(ctx context.Context, personaID string, b audio.Blob, voiceID string) (Exchange, error) {
	res, err := s.voice.ProcessVoiceMessage(ctx, b, personaID, voiceID)
	if err != nil {
		return Exchange{}, err
	}

	said := res.TranscribedText
	if said == "" {
		said = VoicePlaceholder
	}
	sessionID := s.store.SessionID(personaID)
	user := s.store.AddMessage(ctx, personaID, s.message(model.SpeakerUser, said, res.AudioURL, sessionID))
	assistant := s.store.AddMessage(ctx, personaID, s.message(model.SpeakerAssistant, res.ReplyText, "", sessionID))

	s.play(res)
	return Exchange{User: user, Assistant: assistant}, nil
}

func (s *Service) play(res voice.Result) {
	if s.player == nil || res.AudioBase64 == "" {
		return
	}
	clip, err := res.Audio()
	if err != nil {
		s.log.Warn().Err(err).Msg("Reply audio unusable")
		return
	}
	if err := s.player.Play(clip); err != nil {
		s.log.Warn().Err(err).Msg("Reply playback failed")
	}
}

// Transcribe posts a recording straight to the transcription endpoint, the
// older path that skips object storage.
func (s *Service) Transcribe(ctx context.Context, personaID string, b audio.Blob) (Exchange, error) {
	if personaID == "" {
		return Exchange{}, apperr.New(apperr.KindInvalid, "transcribe", "no persona selected")
	}
	reply, err := s.backend.Transcribe(ctx, personaID, b.Name, b.Data)
	if err != nil {
		return Exchange{}, fmt.Errorf("transcribe: %w", err)
	}

	said := reply.TranscribedText
	if said == "" {
		said = VoicePlaceholder
	}
	sessionID := s.store.SetSessionID(ctx, personaID, reply.SessionID)
	user := s.store.AddMessage(ctx, personaID, s.message(model.SpeakerUser, said, "", sessionID))
	assistant := s.store.AddMessage(ctx, personaID,
		s.message(model.SpeakerAssistant, reply.Text, reply.AudioURL, sessionID))
	return Exchange{User: user, Assistant: assistant}, nil
}

// History fetches the server-side history. The latest message's session
// becomes the persona's session if none is established.
func (s *Service) History(ctx context.Context, personaID string) ([]model.Message, error) {
	msgs, err := s.backend.History(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if n := len(msgs); n > 0 && msgs[n-1].SessionID != "" {
		s.store.SetSessionID(ctx, personaID, msgs[n-1].SessionID)
	}
	return msgs, nil
}

// Conversation returns the locally recorded conversation.
func (s *Service) Conversation(personaID string) conversation.Record {
	return s.store.Get(personaID)
}

// Clear forgets the local conversation and its session.
func (s *Service) Clear(ctx context.Context, personaID string) {
	s.store.Clear(ctx, personaID)
}
