// Package upload stages recorded audio in object storage so the backend can
// fetch it by URL.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/model"
)

// TokenFetcher issues upload credentials.
type TokenFetcher interface {
	UploadToken(ctx context.Context) (model.UploadCredential, error)
}

// Transcoder converts audio into the canonical upload format.
type Transcoder interface {
	Transcode(b audio.Blob) audio.Blob
}

// Result identifies a stored object.
type Result struct {
	Hash   string `json:"hash"`
	Key    string `json:"key"`
	Format string `json:"-"` // container actually uploaded
}

// Stager uploads audio blobs with single-use credentials.
type Stager struct {
	tokens     TokenFetcher
	transcoder Transcoder
	http       *http.Client
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Stager.
type Option func(*Stager)

// WithHTTPClient replaces the client used for the storage upload.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Stager) { s.http = hc }
}

// WithClock overrides the time source used in object keys.
func WithClock(now func() time.Time) Option {
	return func(s *Stager) { s.now = now }
}

// WithLogger sets the stager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Stager) { s.log = log }
}

// NewStager creates a stager.
func NewStager(tokens TokenFetcher, transcoder Transcoder, opts ...Option) *Stager {
	s := &Stager{
		tokens:     tokens,
		transcoder: transcoder,
		http:       &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "upload").Logger()
	return s
}

// GetUploadToken fetches a fresh credential.
func (s *Stager) GetUploadToken(ctx context.Context) (model.UploadCredential, error) {
	return s.tokens.UploadToken(ctx)
}

// Upload stores b with cred. When convert is set, non-canonical audio is
// transcoded to WAV first. One attempt only.
func (s *Stager) Upload(ctx context.Context, b audio.Blob, cred model.UploadCredential, convert bool) (Result, error) {
	const op = "upload audio"
	if len(b.Data) == 0 {
		return Result{}, apperr.New(apperr.KindInvalid, op, "audio file is empty")
	}
	if cred.UploadToken == "" || cred.UpHost == "" {
		return Result{}, apperr.New(apperr.KindInvalid, op, "upload credential is incomplete")
	}

	if convert && !audio.IsCanonical(b) && s.transcoder != nil {
		b = s.transcoder.Transcode(b)
	}
	format := b.Format()
	key := s.objectKey(format)

	body, contentType, err := multipartBody(cred.UploadToken, key, b)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvalid, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.UpHost, body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvalid, op, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, &apperr.Error{Kind: apperr.KindNetwork, Op: op, Message: "object storage unreachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, apperr.Server(op, resp.StatusCode, storageError(payload, resp.Status))
	}

	var res Result
	if err := sonic.Unmarshal(payload, &res); err != nil {
		return Result{}, &apperr.Error{Kind: apperr.KindProtocol, Op: op, Message: "malformed storage response", Err: err}
	}
	if res.Hash == "" || res.Key == "" {
		return Result{}, apperr.New(apperr.KindProtocol, op, "storage response missing hash or key")
	}
	res.Format = format

	s.log.Debug().Str("key", res.Key).Str("format", format).Int("bytes", len(b.Data)).Msg("Audio staged")
	return res, nil
}

// objectKey builds voice/<unix-ms>_<random>.<ext>.
func (s *Stager) objectKey(format string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("voice/%d_%s.%s", s.now().UnixMilli(), random, format)
}

// ObjectURL is where a stored object can be fetched.
func ObjectURL(bucketDomain, key string) string {
	domain := strings.TrimRight(bucketDomain, "/")
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	return domain + "/" + strings.TrimLeft(key, "/")
}

func multipartBody(token, key string, b audio.Blob) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("token", token); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("key", key); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, audio.ReplaceExt(b.Name, "."+b.Format())))
	mime := b.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	h.Set("Content-Type", mime)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(b.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func storageError(payload []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if sonic.Unmarshal(payload, &body) == nil && body.Error != "" {
		return body.Error
	}
	return fallback
}
