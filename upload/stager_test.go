package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/model"
)

type recordingTranscoder struct {
	calls int
	inner *audio.Transcoder
}

func (r *recordingTranscoder) Transcode(b audio.Blob) audio.Blob {
	r.calls++
	return r.inner.Transcode(b)
}

func wavBlob(t *testing.T) audio.Blob {
	t.Helper()
	data, err := audio.EncodeWAV(audio.PCM{SampleRate: 16000, Channels: 1, Samples: make([]float32, 160)})
	require.NoError(t, err)
	return audio.Blob{Name: "rec.wav", MIMEType: "audio/wav", Data: data}
}

type storageCapture struct {
	token, key, filename string
	file                 []byte
}

func storageServer(t *testing.T, got *storageCapture, respond func(w http.ResponseWriter, key string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got.token = r.FormValue("token")
		got.key = r.FormValue("key")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		got.filename = hdr.Filename
		got.file, _ = io.ReadAll(f)
		respond(w, got.key)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(w http.ResponseWriter, key string) {
	_ = json.NewEncoder(w).Encode(map[string]string{"hash": "FhASH", "key": key})
}

var keyPattern = regexp.MustCompile(`^voice/1700000000000_[0-9a-f]{8}\.wav$`)

func TestUploadCanonicalWAV(t *testing.T) {
	var got storageCapture
	srv := storageServer(t, &got, okResponse)
	tr := &recordingTranscoder{inner: audio.NewTranscoder(zerolog.Nop())}
	s := NewStager(nil, tr, WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))

	blob := wavBlob(t)
	res, err := s.Upload(context.Background(), blob, model.UploadCredential{UploadToken: "ut", UpHost: srv.URL}, true)
	require.NoError(t, err)

	assert.Equal(t, 0, tr.calls, "canonical audio is not transcoded")
	assert.Equal(t, "ut", got.token)
	assert.Regexp(t, keyPattern, got.key)
	assert.Equal(t, blob.Data, got.file)
	assert.Equal(t, "rec.wav", got.filename)
	assert.Equal(t, Result{Hash: "FhASH", Key: got.key, Format: "wav"}, res)
}

func TestUploadTranscodesWhenRequested(t *testing.T) {
	var got storageCapture
	srv := storageServer(t, &got, okResponse)
	tr := &recordingTranscoder{inner: audio.NewTranscoder(zerolog.Nop())}
	s := NewStager(nil, tr)

	webm := audio.Blob{Name: "rec.webm", MIMEType: "audio/webm", Data: []byte{0x1A, 0x45, 0xDF, 0xA3, 1, 2, 3}}
	res, err := s.Upload(context.Background(), webm, model.UploadCredential{UploadToken: "ut", UpHost: srv.URL}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, tr.calls)
	// undecodable input goes up unchanged and is labelled as what it is
	assert.Equal(t, "webm", res.Format)
	assert.Regexp(t, `\.webm$`, got.key)
	assert.Equal(t, webm.Data, got.file)
}

func TestUploadWithoutConvertSkipsTranscoder(t *testing.T) {
	var got storageCapture
	srv := storageServer(t, &got, okResponse)
	tr := &recordingTranscoder{inner: audio.NewTranscoder(zerolog.Nop())}
	s := NewStager(nil, tr)

	_, err := s.Upload(context.Background(), audio.Blob{Name: "a.ogg", Data: []byte("OggS....")}, model.UploadCredential{UploadToken: "ut", UpHost: srv.URL}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.calls)
	assert.Regexp(t, `\.ogg$`, got.key)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	s := NewStager(nil, nil)
	_, err := s.Upload(context.Background(), audio.Blob{Name: "x.wav"}, model.UploadCredential{UploadToken: "ut", UpHost: "http://unused"}, true)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestUploadMissingHashIsProtocolViolation(t *testing.T) {
	var got storageCapture
	srv := storageServer(t, &got, func(w http.ResponseWriter, key string) {
		_ = json.NewEncoder(w).Encode(map[string]string{"key": key})
	})
	s := NewStager(nil, nil)

	_, err := s.Upload(context.Background(), wavBlob(t), model.UploadCredential{UploadToken: "ut", UpHost: srv.URL}, false)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
}

func TestUploadServerRejection(t *testing.T) {
	var got storageCapture
	srv := storageServer(t, &got, func(w http.ResponseWriter, _ string) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "expired token"})
	})
	s := NewStager(nil, nil)

	_, err := s.Upload(context.Background(), wavBlob(t), model.UploadCredential{UploadToken: "ut", UpHost: srv.URL}, false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Contains(t, err.Error(), "expired token")
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/voice/a.wav", ObjectURL("cdn.example.com", "voice/a.wav"))
	assert.Equal(t, "http://cdn.example.com/voice/a.wav", ObjectURL("http://cdn.example.com/", "/voice/a.wav"))
}
