// Package voice runs the record-and-reply exchange: stage the recording,
// then ask the backend to transcribe, answer and synthesize.
package voice

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/model"
	"github.com/room4-2/vox/upload"
)

// Stager stages audio in object storage.
type Stager interface {
	GetUploadToken(ctx context.Context) (model.UploadCredential, error)
	Upload(ctx context.Context, b audio.Blob, cred model.UploadCredential, convert bool) (upload.Result, error)
}

// Inferencer answers a staged recording.
type Inferencer interface {
	VoiceChat(ctx context.Context, req api.VoiceChatRequest) (api.VoiceChatResult, error)
}

// Result is a completed exchange.
type Result struct {
	TranscribedText string
	ReplyText       string
	AudioBase64     string // synthesized reply, MP3
	AudioURL        string // where the user's recording was staged
	Format          string // container of the staged recording
}

// Audio decodes the inline reply audio.
func (r Result) Audio() (audio.Blob, error) {
	if r.AudioBase64 == "" {
		return audio.Blob{}, apperr.New(apperr.KindDecode, "reply audio", "no audio in reply")
	}
	data, err := base64.StdEncoding.DecodeString(r.AudioBase64)
	if err != nil {
		return audio.Blob{}, apperr.Wrap(apperr.KindDecode, "reply audio", err)
	}
	return audio.Blob{Name: "reply.mp3", MIMEType: "audio/mpeg", Data: data}, nil
}

// RoundTrip runs exchanges strictly in sequence: credential, upload, URL,
// inference. The first failure aborts the rest; nothing is retried.
type RoundTrip struct {
	stager       Stager
	infer        Inferencer
	defaultVoice string
	log          zerolog.Logger
}

// NewRoundTrip creates the client. defaultVoice is used when a persona has
// no voice of its own.
func NewRoundTrip(stager Stager, infer Inferencer, defaultVoice string, log zerolog.Logger) *RoundTrip {
	return &RoundTrip{
		stager:       stager,
		infer:        infer,
		defaultVoice: defaultVoice,
		log:          log.With().Str("component", "voice").Logger(),
	}
}

// ProcessVoiceMessage sends one recording to the persona and returns its
// spoken reply.
func (r *RoundTrip) ProcessVoiceMessage(ctx context.Context, b audio.Blob, personaID, voiceID string) (Result, error) {
	if personaID == "" {
		return Result{}, apperr.New(apperr.KindInvalid, "voice message", "no persona selected")
	}
	if voiceID == "" {
		voiceID = r.defaultVoice
	}

	cred, err := r.stager.GetUploadToken(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get upload token: %w", err)
	}

	staged, err := r.stager.Upload(ctx, b, cred, true)
	if err != nil {
		return Result{}, fmt.Errorf("stage recording: %w", err)
	}
	audioURL := upload.ObjectURL(cred.BucketDomain, staged.Key)

	r.log.Info().
		Str("persona", personaID).
		Str("format", staged.Format).
		Str("url", audioURL).
		Msg("Recording staged, requesting reply")

	reply, err := r.infer.VoiceChat(ctx, api.VoiceChatRequest{
		PersonaID:   personaID,
		AudioURL:    audioURL,
		AudioFormat: staged.Format,
		VoiceID:     voiceID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("voice chat: %w", err)
	}

	return Result{
		TranscribedText: reply.TranscribedText,
		ReplyText:       reply.ReplyText,
		AudioBase64:     reply.AudioBase64,
		AudioURL:        audioURL,
		Format:          staged.Format,
	}, nil
}
