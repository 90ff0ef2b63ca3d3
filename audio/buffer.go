package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrBufferFull is returned when a frame does not fit in the buffer.
var ErrBufferFull = errors.New("audio buffer full")

// Buffer accumulates captured frames up to a size limit measured in
// encoded 16-bit PCM bytes.
type Buffer struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	maxBytes   int
	samples    []float32
}

// NewBuffer creates a buffer for interleaved audio in the given format.
func NewBuffer(sampleRate, channels, maxBytes int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{sampleRate: sampleRate, channels: channels, maxBytes: maxBytes}
}

// MaxSize returns the limit in PCM bytes.
func (b *Buffer) MaxSize() int {
	return b.maxBytes
}

// Append copies as many whole sample frames of frame as still fit. It
// returns ErrBufferFull when anything had to be dropped.
func (b *Buffer) Append(frame []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := (b.maxBytes/2 - len(b.samples)) / b.channels * b.channels
	n := len(frame) / b.channels * b.channels
	if n <= room {
		b.samples = append(b.samples, frame[:n]...)
		return nil
	}
	if room > 0 {
		b.samples = append(b.samples, frame[:room]...)
	}
	return ErrBufferFull
}

// Frames returns the number of buffered sample frames.
func (b *Buffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) / b.channels
}

// Size returns the buffered length in PCM bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) * 2
}

// Duration returns how much audio is buffered.
func (b *Buffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.sampleRate)
}

// Take returns the buffered audio and empties the buffer.
func (b *Buffer) Take() PCM {
	b.mu.Lock()
	defer b.mu.Unlock()
	pcm := PCM{SampleRate: b.sampleRate, Channels: b.channels, Samples: b.samples}
	b.samples = nil
	return pcm
}

// Reset discards the buffered audio.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}
