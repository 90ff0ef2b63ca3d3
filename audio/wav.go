package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
const WAVHeaderSize = 44

// EncodeWAV renders p as a canonical 16-bit PCM WAV file.
func EncodeWAV(p PCM) ([]byte, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return nil, fmt.Errorf("encode wav: invalid format %d Hz x %d ch", p.SampleRate, p.Channels)
	}
	frames := p.Frames()
	if frames == 0 {
		return nil, errors.New("encode wav: no samples")
	}

	data := make([]int, frames*p.Channels)
	for i := range data {
		data[i] = int(ToInt16(p.Samples[i]))
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, p.SampleRate, 16, p.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return out.Bytes(), nil
}

func decodeWAV(data []byte) (PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return PCM{}, errors.New("invalid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read wav pcm: %w", err)
	}
	depth := int(d.BitDepth)
	if depth <= 0 || depth > 32 {
		return PCM{}, fmt.Errorf("unsupported wav bit depth %d", depth)
	}

	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit wav is unsigned
			v -= 128
		}
		samples[i] = Clamp(float32(v) / scale)
	}
	return PCM{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Samples:    samples,
	}, nil
}

// IsCanonical reports whether b already is a 16-bit PCM WAV file.
func IsCanonical(b Blob) bool {
	d := b.Data
	if len(d) < WAVHeaderSize || Sniff(d) != FormatWAV {
		return false
	}
	if !bytes.Equal(d[12:16], []byte("fmt ")) {
		return false
	}
	formatTag := binary.LittleEndian.Uint16(d[20:22])
	bits := binary.LittleEndian.Uint16(d[34:36])
	return formatTag == 1 && bits == 16
}

// seekBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// patches chunk sizes after the samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}
