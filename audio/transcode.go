package audio

import (
	"github.com/rs/zerolog"
)

// Transcoder turns arbitrary audio blobs into canonical WAV.
type Transcoder struct {
	log zerolog.Logger
}

// NewTranscoder creates a transcoder logging through log.
func NewTranscoder(log zerolog.Logger) *Transcoder {
	return &Transcoder{log: log.With().Str("component", "transcoder").Logger()}
}

// Transcode decodes b and re-encodes it as 16-bit PCM WAV, preserving the
// decoded channel count and sample rate. It never fails: when the input
// cannot be decoded or encoded, the original bytes come back renamed to
// their actual container so downstream labels stay truthful.
func (t *Transcoder) Transcode(b Blob) Blob {
	if IsCanonical(b) {
		return b.Renamed(FormatWAV)
	}

	pcm, err := Decode(b)
	if err == nil {
		var data []byte
		data, err = EncodeWAV(pcm)
		if err == nil {
			return Blob{
				Name:     ReplaceExt(b.Name, ".wav"),
				MIMEType: mimeTypes[FormatWAV],
				Data:     data,
			}
		}
	}

	format := b.Format()
	t.log.Warn().Err(err).Str("name", b.Name).Str("format", format).Msg("Transcode failed, sending original audio")
	return b.Renamed(format)
}
