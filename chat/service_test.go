package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/conversation"
	"github.com/room4-2/vox/localstore"
	"github.com/room4-2/vox/model"
	"github.com/room4-2/vox/voice"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newStore(t *testing.T) *conversation.Store {
	t.Helper()
	s, err := conversation.NewStore(context.Background(), localstore.NewMemory())
	require.NoError(t, err)
	return s
}

type fakeVoice struct {
	res voice.Result
	err error
}

func (f *fakeVoice) ProcessVoiceMessage(context.Context, audio.Blob, string, string) (voice.Result, error) {
	return f.res, f.err
}

type fakePlayer struct {
	played []audio.Blob
	err    error
}

func (p *fakePlayer) Play(clip audio.Blob) error {
	p.played = append(p.played, clip)
	return p.err
}

type fakeBackend struct {
	transcribe api.ChatReply
	history    []model.Message
	gotFile    string
}

func (b *fakeBackend) Chat(context.Context, string, string) (api.ChatReply, error) {
	return api.ChatReply{}, errors.New("unused")
}

func (b *fakeBackend) Transcribe(_ context.Context, _ string, filename string, _ []byte) (api.ChatReply, error) {
	b.gotFile = filename
	return b.transcribe, nil
}

func (b *fakeBackend) History(context.Context, string) ([]model.Message, error) {
	return b.history, nil
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat", r.URL.Path)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendTextRecordsBothMessages(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"response":"hi there","session_id":"s1"}`)
	store := newStore(t)
	svc := NewService(api.New(srv.URL), store, nil, nil, WithClock(func() time.Time { return fixedNow }))

	ex, err := svc.SendText(context.Background(), "P", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", ex.Assistant.Text)

	rec := store.Get("P")
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, model.SpeakerUser, rec.Messages[0].Speaker)
	assert.Equal(t, "hello", rec.Messages[0].Text)
	assert.Empty(t, rec.Messages[0].SessionID)
	assert.Equal(t, model.SpeakerAssistant, rec.Messages[1].Speaker)
	assert.Equal(t, "hi there", rec.Messages[1].Text)
	assert.Equal(t, "s1", rec.Messages[1].SessionID)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, fixedNow.UnixMilli(), rec.Messages[1].Timestamp)
}

func TestSendTextKeepsEstablishedSession(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"ai_response_text":"again","session_id":"s2"}`)
	store := newStore(t)
	store.SetSessionID(context.Background(), "P", "s1")
	svc := NewService(api.New(srv.URL), store, nil, nil)

	ex, err := svc.SendText(context.Background(), "P", "one more")
	require.NoError(t, err)
	assert.Equal(t, "s1", ex.User.SessionID)
	assert.Equal(t, "s1", ex.Assistant.SessionID)
	assert.Equal(t, "again", ex.Assistant.Text)
	assert.Equal(t, "s1", store.SessionID("P"))
}

func TestSendTextServerError(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, `{"message":"model offline"}`)
	store := newStore(t)
	svc := NewService(api.New(srv.URL), store, nil, nil)

	_, err := svc.SendText(context.Background(), "P", "hello")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Contains(t, err.Error(), "model offline")

	rec := store.Get("P")
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, model.SpeakerUser, rec.Messages[0].Speaker)
}

func TestSendTextRejectsEmptyInput(t *testing.T) {
	svc := NewService(&fakeBackend{}, newStore(t), nil, nil)

	_, err := svc.SendText(context.Background(), "", "hello")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
	_, err = svc.SendText(context.Background(), "P", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestSendVoiceRecordsAndPlays(t *testing.T) {
	store := newStore(t)
	store.SetSessionID(context.Background(), "P", "s9")
	vx := &fakeVoice{res: voice.Result{
		TranscribedText: "what time is it",
		ReplyText:       "almost noon",
		AudioBase64:     base64.StdEncoding.EncodeToString([]byte("ID3-fake-mp3")),
		AudioURL:        "https://cdn.example.com/voice/1_ab.wav",
		Format:          audio.FormatWAV,
	}}
	player := &fakePlayer{}
	svc := NewService(&fakeBackend{}, store, vx, player)

	ex, err := svc.SendVoice(context.Background(), "P", audio.Blob{Name: "rec.webm", Data: []byte{1}}, "")
	require.NoError(t, err)
	assert.Equal(t, "what time is it", ex.User.Text)
	assert.Equal(t, "https://cdn.example.com/voice/1_ab.wav", ex.User.AudioURL)
	assert.Equal(t, "almost noon", ex.Assistant.Text)
	assert.Equal(t, "s9", ex.Assistant.SessionID)

	require.Len(t, player.played, 1)
	assert.Equal(t, []byte("ID3-fake-mp3"), player.played[0].Data)
	assert.Len(t, store.Get("P").Messages, 2)
}

func TestSendVoicePlaybackFailureIsNotFatal(t *testing.T) {
	vx := &fakeVoice{res: voice.Result{ReplyText: "ok", AudioBase64: "AAAA"}}
	player := &fakePlayer{err: apperr.New(apperr.KindDecode, "play", "bad clip")}
	svc := NewService(&fakeBackend{}, newStore(t), vx, player)

	ex, err := svc.SendVoice(context.Background(), "P", audio.Blob{Data: []byte{1}}, "v")
	require.NoError(t, err)
	assert.Equal(t, VoicePlaceholder, ex.User.Text)
	assert.Len(t, player.played, 1)
}

func TestSendVoiceFailureRecordsNothing(t *testing.T) {
	store := newStore(t)
	vx := &fakeVoice{err: apperr.New(apperr.KindUnauthenticated, "upload token", "not logged in")}
	player := &fakePlayer{}
	svc := NewService(&fakeBackend{}, store, vx, player)

	_, err := svc.SendVoice(context.Background(), "P", audio.Blob{Data: []byte{1}}, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Empty(t, store.Get("P").Messages)
	assert.Empty(t, player.played)
}

func TestTranscribe(t *testing.T) {
	store := newStore(t)
	backend := &fakeBackend{transcribe: api.ChatReply{
		Text:            "sure",
		SessionID:       "s5",
		AudioURL:        "/static/reply.mp3",
		TranscribedText: "can you help",
	}}
	svc := NewService(backend, store, nil, nil)

	ex, err := svc.Transcribe(context.Background(), "P", audio.Blob{Name: "clip.webm", Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "clip.webm", backend.gotFile)
	assert.Equal(t, "can you help", ex.User.Text)
	assert.Equal(t, "s5", ex.User.SessionID)
	assert.Equal(t, "/static/reply.mp3", ex.Assistant.AudioURL)
	assert.Equal(t, "s5", store.SessionID("P"))
}

func TestHistoryAdoptsLatestSession(t *testing.T) {
	store := newStore(t)
	backend := &fakeBackend{history: []model.Message{
		{ID: "1", Speaker: model.SpeakerUser, Text: "hi", SessionID: "old"},
		{ID: "2", Speaker: model.SpeakerAssistant, Text: "hello", SessionID: "latest"},
	}}
	svc := NewService(backend, store, nil, nil)

	msgs, err := svc.History(context.Background(), "P")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "latest", store.SessionID("P"))

	svc.Clear(context.Background(), "P")
	assert.Empty(t, svc.Conversation("P").SessionID)
}
