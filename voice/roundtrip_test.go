package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/model"
	"github.com/room4-2/vox/upload"
)

type fakeStager struct {
	tokenErr  error
	uploadErr error
	format    string
	uploads   int
	convert   []bool
}

func (f *fakeStager) GetUploadToken(context.Context) (model.UploadCredential, error) {
	if f.tokenErr != nil {
		return model.UploadCredential{}, f.tokenErr
	}
	return model.UploadCredential{UploadToken: "ut", UpHost: "http://up", BucketDomain: "cdn.example.com"}, nil
}

func (f *fakeStager) Upload(_ context.Context, _ audio.Blob, _ model.UploadCredential, convert bool) (upload.Result, error) {
	f.uploads++
	f.convert = append(f.convert, convert)
	if f.uploadErr != nil {
		return upload.Result{}, f.uploadErr
	}
	format := f.format
	if format == "" {
		format = "wav"
	}
	return upload.Result{Hash: "h", Key: "voice/1_abc." + format, Format: format}, nil
}

type fakeInfer struct {
	got   []api.VoiceChatRequest
	err   error
	reply api.VoiceChatResult
}

func (f *fakeInfer) VoiceChat(_ context.Context, req api.VoiceChatRequest) (api.VoiceChatResult, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

var blob = audio.Blob{Name: "rec.wav", Data: []byte("RIFF....WAVE")}

func TestProcessVoiceMessageHappyPath(t *testing.T) {
	st := &fakeStager{}
	inf := &fakeInfer{reply: api.VoiceChatResult{TranscribedText: "hi", ReplyText: "hello", AudioBase64: base64.StdEncoding.EncodeToString([]byte("ID3mp3"))}}
	rt := NewRoundTrip(st, inf, "default-voice", zerolog.Nop())

	res, err := rt.ProcessVoiceMessage(context.Background(), blob, "7", "")
	require.NoError(t, err)

	require.Len(t, inf.got, 1)
	assert.Equal(t, api.VoiceChatRequest{
		PersonaID:   "7",
		AudioURL:    "https://cdn.example.com/voice/1_abc.wav",
		AudioFormat: "wav",
		VoiceID:     "default-voice",
	}, inf.got[0])
	assert.Equal(t, []bool{true}, st.convert)
	assert.Equal(t, "hi", res.TranscribedText)
	assert.Equal(t, "hello", res.ReplyText)

	clip, err := res.Audio()
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), clip.Data)
}

func TestTokenFailureNeverUploads(t *testing.T) {
	st := &fakeStager{tokenErr: apperr.New(apperr.KindUnauthenticated, "upload token", "sign in")}
	inf := &fakeInfer{}
	rt := NewRoundTrip(st, inf, "v", zerolog.Nop())

	_, err := rt.ProcessVoiceMessage(context.Background(), blob, "7", "v1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Zero(t, st.uploads)
	assert.Empty(t, inf.got)
}

func TestUploadFailureSkipsInference(t *testing.T) {
	st := &fakeStager{uploadErr: apperr.New(apperr.KindProtocol, "upload", "missing hash")}
	inf := &fakeInfer{}
	rt := NewRoundTrip(st, inf, "v", zerolog.Nop())

	_, err := rt.ProcessVoiceMessage(context.Background(), blob, "7", "v1")
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
	assert.Empty(t, inf.got)
}

func TestInferenceFailureYieldsNoPartialResult(t *testing.T) {
	st := &fakeStager{}
	inf := &fakeInfer{err: errors.New("boom"), reply: api.VoiceChatResult{ReplyText: "ignored"}}
	rt := NewRoundTrip(st, inf, "v", zerolog.Nop())

	res, err := rt.ProcessVoiceMessage(context.Background(), blob, "7", "v1")
	require.Error(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, st.uploads)
}

func TestDegradedUploadReportsActualFormat(t *testing.T) {
	st := &fakeStager{format: "webm"}
	inf := &fakeInfer{reply: api.VoiceChatResult{ReplyText: "ok"}}
	rt := NewRoundTrip(st, inf, "v", zerolog.Nop())

	res, err := rt.ProcessVoiceMessage(context.Background(), blob, "7", "v1")
	require.NoError(t, err)
	assert.Equal(t, "webm", inf.got[0].AudioFormat)
	assert.Equal(t, "webm", res.Format)
}

func TestMissingPersona(t *testing.T) {
	rt := NewRoundTrip(&fakeStager{}, &fakeInfer{}, "v", zerolog.Nop())
	_, err := rt.ProcessVoiceMessage(context.Background(), blob, "", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}
