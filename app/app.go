// Package app wires the vox components into one client.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/auth"
	"github.com/room4-2/vox/call"
	"github.com/room4-2/vox/chat"
	"github.com/room4-2/vox/config"
	"github.com/room4-2/vox/conversation"
	"github.com/room4-2/vox/localstore"
	"github.com/room4-2/vox/media"
	"github.com/room4-2/vox/playback"
	"github.com/room4-2/vox/resource"
	"github.com/room4-2/vox/upload"
	"github.com/room4-2/vox/voice"
)

// Devices are the audio endpoints the client drives.
type Devices struct {
	Microphone media.Device
	Speaker    playback.Device
}

// DefaultDevices opens the system microphone and speaker.
func DefaultDevices(cfg *config.Config, log zerolog.Logger) Devices {
	return Devices{
		Microphone: media.NewMalgoDevice(log),
		Speaker:    playback.NewOtoDevice(cfg.PlaybackSampleRate, 1),
	}
}

// App is a fully wired client.
type App struct {
	Config        *config.Config
	Log           zerolog.Logger
	Store         localstore.KV
	Auth          *auth.Session
	API           *api.Client
	Conversations *conversation.Store
	Capture       *media.Capture
	Playback      *playback.Engine
	Stager        *upload.Stager
	Voice         *voice.RoundTrip
	Chat          *chat.Service
	Calls         *call.Manager

	devices Devices
}

// New builds the client. The store is opened from cfg.StoreBackend.
func New(ctx context.Context, cfg *config.Config, devs Devices, log zerolog.Logger) (*App, error) {
	kv, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := NewWithStore(ctx, cfg, kv, devs, log)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore builds the client on an already opened store.
func NewWithStore(ctx context.Context, cfg *config.Config, kv localstore.KV, devs Devices, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Store: kv, devices: devs}

	session, err := auth.NewSession(ctx, kv, log)
	if err != nil {
		return nil, fmt.Errorf("restore credential: %w", err)
	}
	a.Auth = session

	a.API = api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithTokenSource(session),
		api.WithAuthExpiredHook(session.HandleAuthExpired),
		api.WithLogger(log),
	)

	a.Conversations, err = conversation.NewStore(ctx, kv, conversation.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	constraints := media.DefaultConstraints()
	constraints.SampleRate = cfg.MicSampleRate
	constraints.FrameSamples = cfg.MicFrameSamples
	a.Capture = media.NewCapture(devs.Microphone, constraints, log)
	a.Playback = playback.NewEngine(devs.Speaker, log)

	a.Stager = upload.NewStager(a.API, audio.NewTranscoder(log),
		upload.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		upload.WithLogger(log),
	)
	a.Voice = voice.NewRoundTrip(a.Stager, a.API, cfg.DefaultVoiceID, log)
	a.Chat = chat.NewService(a.API, a.Conversations, a.Voice, a.Playback, chat.WithLogger(log))

	a.Calls = call.NewManager(call.Config{
		WSBaseURL:         cfg.WSBaseURL,
		InboundSampleRate: cfg.CallInboundSampleRate,
		KeepAlivePeriod:   cfg.KeepAlivePeriod,
	}, call.WebsocketDialer{Tokens: session}, a.Capture, a.Playback, log)

	// An expired credential drops the user back to a signed-out client.
	session.OnReset(func() {
		a.Calls.EndCall()
		a.Playback.Stop()
	})
	return a, nil
}

// StartRecording starts recording one voice message from the microphone.
// It refuses while a call is using the microphone.
func (a *App) StartRecording(ctx context.Context) (*media.Recorder, error) {
	if a.Calls.State().Active() {
		return nil, apperr.New(apperr.KindInvalid, "start recording", "a voice call is using the microphone, end it first")
	}
	rec := media.NewRecorder(a.Capture, a.Config.MaxRecordingBytes)
	if err := rec.Start(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Close releases devices and the store.
func (a *App) Close() error {
	steps := []resource.Step{
		{Name: "end call", Run: func() error { a.Calls.EndCall(); return nil }},
		{Name: "stop playback", Run: func() error { a.Playback.Stop(); return nil }},
		{Name: "stop capture", Run: func() error { a.Capture.StopStream(); return nil }},
	}
	if c, ok := a.devices.Microphone.(io.Closer); ok {
		steps = append(steps, resource.Step{Name: "close microphone", Run: c.Close})
	}
	steps = append(steps, resource.Step{Name: "close store", Run: a.Store.Close})
	return resource.Teardown(steps...)
}

// OpenStore opens the configured local storage. An unreachable Redis falls
// back to the bolt file.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (localstore.KV, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return localstore.NewMemory(), nil
	case config.StoreRedis:
		kv, err := localstore.OpenRedis(ctx, cfg.RedisURL, cfg.RedisPassword, "vox:")
		if err == nil {
			return kv, nil
		}
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("Redis unavailable, using local file")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	kv, err := localstore.OpenBolt(cfg.BoltPath())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.BoltPath(), err)
	}
	return kv, nil
}
