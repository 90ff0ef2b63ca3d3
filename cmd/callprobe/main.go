// Command callprobe streams an audio file through a voice call and saves
// what the persona sends back.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/call"
	"github.com/room4-2/vox/config"
	"github.com/room4-2/vox/media"
	"github.com/room4-2/vox/messages"
	"github.com/room4-2/vox/playback"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

func main() {
	server := flag.String("server", "http://localhost:8000", "backend base URL")
	file := flag.String("file", "examples/user.wav", "audio file to send (WAV, MP3 or raw 16 kHz PCM)")
	persona := flag.String("persona", "1", "persona to call")
	out := flag.String("out", "reply.wav", "where to write the received audio")
	user := flag.String("user", "", "sign in as this user first")
	password := flag.String("password", "", "password for -user")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the reply")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pcm, err := loadAudioFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to load audio")
	}
	log.Info().Str("file", *file).Int("frames", pcm.Frames()).Int("rate", pcm.SampleRate).Msg("📁 Loaded audio")

	var token staticToken
	if *user != "" {
		tok, err := api.New(*server).Login(ctx, *user, *password)
		if err != nil {
			log.Fatal().Err(err).Msg("Login failed")
		}
		token = staticToken(tok)
	}

	const inboundRate = 16000
	mic := media.NewCapture(media.NewReplayDevice(pcm), media.Constraints{
		SampleRate:   16000,
		ChannelCount: 1,
		FrameSamples: 1600, // 100ms
	}, log)
	speakerDev := playback.NewMemoryDevice(inboundRate, 1)
	speaker := playback.NewEngine(speakerDev, log)

	calls := call.NewManager(call.Config{
		WSBaseURL:         config.WebsocketBase(*server),
		InboundSampleRate: inboundRate,
	}, call.WebsocketDialer{Tokens: token}, mic, speaker, log)

	turnDone := make(chan struct{}, 1)
	calls.OnMessage(func(m *messages.InboundMessage) {
		log.Info().Str("type", m.Type).Msg("📝 " + m.Summary())
		var st messages.StatusPayload
		if m.Type == messages.TypeStatus && messages.Unmarshal(m.Payload, &st) == nil && st.Status == messages.StatusTurnComplete {
			select {
			case turnDone <- struct{}{}:
			default:
			}
		}
	})
	ended := make(chan struct{}, 1)
	calls.OnStateChange(func(s call.State) {
		log.Info().Str("state", string(s)).Msg("📞 Call state")
		if s == call.StateDisconnected || s == call.StateError {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})

	log.Info().Str("endpoint", calls.Endpoint(*persona)).Msg("🔌 Connecting")
	if err := calls.StartCall(ctx, *persona); err != nil {
		log.Fatal().Err(err).Msg("Failed to start call")
	}

	// Let the replay finish before ending the turn.
	length := time.Duration(float64(pcm.Frames()) / float64(pcm.SampleRate) * float64(time.Second))
	select {
	case <-time.After(length + 200*time.Millisecond):
	case <-ctx.Done():
	}
	if err := calls.SendControl(ctx, messages.ActionEndTurn); err != nil {
		log.Warn().Err(err).Msg("Could not end turn")
	}

	select {
	case <-turnDone:
		log.Info().Msg("✅ Turn complete")
	case <-ended:
		log.Info().Msg("Connection closed")
	case <-ctx.Done():
		log.Info().Msg("👋 Interrupted, closing...")
	case <-time.After(*wait):
		log.Warn().Msg("⏰ Timeout waiting for response")
	}

	calls.EndCall()

	reply := audio.PCM{SampleRate: inboundRate, Channels: 1, Samples: audio.PCM16ToFloat(speakerDev.Bytes())}
	wav, err := audio.EncodeWAV(reply)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode reply")
	}
	if err := os.WriteFile(*out, wav, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write reply")
	}
	log.Info().Str("out", *out).Int("frames", reply.Frames()).Msg("💾 Saved reply")
}

// loadAudioFile decodes WAV or MP3 files and treats anything else as raw
// 16 kHz mono PCM.
func loadAudioFile(path string) (audio.PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.PCM{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".pcm") {
		return audio.PCM{SampleRate: 16000, Channels: 1, Samples: audio.PCM16ToFloat(data)}, nil
	}
	return audio.Decode(audio.Blob{Name: filepath.Base(path), Data: data})
}
