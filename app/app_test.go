package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/call"
	"github.com/room4-2/vox/config"
	"github.com/room4-2/vox/devserver"
	"github.com/room4-2/vox/localstore"
	"github.com/room4-2/vox/media"
	"github.com/room4-2/vox/model"
	"github.com/room4-2/vox/playback"
)

func testDevices() (Devices, *playback.MemoryDevice) {
	tone := make([]float32, 1600)
	for i := range tone {
		tone[i] = 0.25
	}
	out := playback.NewMemoryDevice(16000, 1)
	return Devices{
		Microphone: &media.ReplayDevice{PCM: audio.PCM{SampleRate: 16000, Channels: 1, Samples: tone}, Loop: true},
		Speaker:    out,
	}, out
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		APIBaseURL:            baseURL,
		WSBaseURL:             config.WebsocketBase(baseURL),
		RequestTimeout:        5 * time.Second,
		StoreBackend:          config.StoreMemory,
		MicSampleRate:         16000,
		MicFrameSamples:       320,
		PlaybackSampleRate:    16000,
		CallInboundSampleRate: 16000,
		MaxRecordingBytes:     1 << 20,
		DefaultVoiceID:        config.DefaultVoiceID,
	}
}

func newTestApp(t *testing.T) (*App, *playback.MemoryDevice) {
	t.Helper()
	srv := devserver.NewServer(devserver.Config{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	devs, out := testDevices()
	a, err := New(context.Background(), testConfig(ts.URL), devs, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, out
}

func TestTextChatPersistsConversation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	personas, err := a.API.ListCharacters(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, personas)

	ex, err := a.Chat.SendText(ctx, personas[0].ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Harry Potter heard: hello", ex.Assistant.Text)

	raw, ok, err := a.Store.Get(ctx, "vox_conversations")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "Harry Potter heard: hello")
}

func TestVoiceMessageRequiresSignIn(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Chat.SendVoice(ctx, "1", audio.Blob{Name: "a.wav", Data: []byte("RIFF")}, "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestRecordAndSendVoice(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	_, err := a.Auth.Register(ctx, a.API, "bob", "secret")
	require.NoError(t, err)
	user, ok := a.Auth.User()
	require.True(t, ok)
	assert.Equal(t, "bob", user.Username)
	assert.NotZero(t, user.ID)

	rec, err := a.StartRecording(ctx)
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	blob, err := rec.Stop()
	require.NoError(t, err)

	ex, err := a.Chat.SendVoice(ctx, "1", blob, "")
	require.NoError(t, err)
	assert.Equal(t, model.SpeakerUser, ex.User.Speaker)
	assert.True(t, strings.HasPrefix(ex.User.AudioURL, a.Config.APIBaseURL+"/storage/voice/"))
	assert.Len(t, a.Conversations.Get("1").Messages, 2)

	require.Eventually(t, func() bool { return len(out.Bytes()) > 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestAuthExpiryEndsCall(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Auth.Register(ctx, a.API, "carol", "pw")
	require.NoError(t, err)
	require.NoError(t, a.Calls.StartCall(ctx, "1"))
	require.Equal(t, call.StateConnected, a.Calls.State())

	a.Auth.HandleAuthExpired()

	assert.Equal(t, call.StateIdle, a.Calls.State())
	assert.Empty(t, a.Auth.Token())
	assert.False(t, a.Capture.Streaming())
	assert.Equal(t, playback.StateIdle, a.Playback.State())
}

func TestOpenStoreFallsBackToBolt(t *testing.T) {
	cfg := &config.Config{
		StoreBackend: config.StoreRedis,
		RedisURL:     "127.0.0.1:1",
		DataDir:      filepath.Join(t.TempDir(), "data"),
	}
	kv, err := OpenStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer kv.Close()

	_, isBolt := kv.(*localstore.Bolt)
	assert.True(t, isBolt)
}

func TestRecordingRefusedDuringCall(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Calls.StartCall(ctx, "1"))
	require.Equal(t, call.StateConnected, a.Calls.State())

	_, err := a.StartRecording(ctx)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
	assert.Equal(t, call.StateConnected, a.Calls.State())
	assert.True(t, a.Capture.Streaming())

	a.Calls.EndCall()
	rec, err := a.StartRecording(ctx)
	require.NoError(t, err)
	_, _ = rec.Stop()
}
