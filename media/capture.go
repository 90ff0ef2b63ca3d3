// Package media acquires the microphone and delivers fixed-size frames of
// normalized samples.
package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/resource"
)

// Constraints requested from the capture device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
	FrameSamples     int // samples per channel in each delivered frame
}

// DefaultConstraints is 16 kHz mono speech capture in 4096-sample frames.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       16000,
		ChannelCount:     1,
		FrameSamples:     4096,
	}
}

// FrameHandler receives interleaved samples in [-1, 1]. The slice is only
// valid for the duration of the call.
type FrameHandler func(frame []float32)

// Track is an open hardware stream.
type Track interface {
	Stop() error
}

// Device opens capture tracks.
type Device interface {
	Open(c Constraints, onFrame FrameHandler) (Track, error)
}

type stream struct {
	track Track
	once  sync.Once
}

func (s *stream) Release() error {
	var err error
	s.once.Do(func() { err = s.track.Stop() })
	return err
}

// Capture owns at most one microphone stream.
type Capture struct {
	dev         Device
	constraints Constraints
	slot        resource.Slot[*stream]
	start       sync.Mutex // serializes open and release of the device

	mu        sync.Mutex
	streaming bool
	lastErr   error

	log zerolog.Logger
}

// NewCapture creates an idle capture.
func NewCapture(dev Device, c Constraints, log zerolog.Logger) *Capture {
	return &Capture{
		dev:         dev,
		constraints: c,
		log:         log.With().Str("component", "capture").Logger(),
	}
}

// Constraints returns the requested capture format.
func (c *Capture) Constraints() Constraints {
	return c.constraints
}

// StartStream acquires the microphone and starts delivering frames. A
// running stream is released first. On failure the capture is left in its
// error state with no stream.
func (c *Capture) StartStream(ctx context.Context, onFrame FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.start.Lock()
	defer c.start.Unlock()

	if err := c.slot.Release(); err != nil {
		c.log.Warn().Err(err).Msg("Previous microphone stream did not stop cleanly")
	}

	track, err := c.dev.Open(c.constraints, onFrame)
	if err != nil {
		perr := &apperr.Error{Kind: apperr.KindPermission, Op: "start capture", Message: "microphone unavailable or access denied", Err: err}
		c.mu.Lock()
		c.streaming = false
		c.lastErr = perr
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Microphone open failed")
		return perr
	}

	if err := c.slot.Acquire(&stream{track: track}); err != nil {
		c.log.Warn().Err(err).Msg("Concurrent microphone stream released")
	}
	c.mu.Lock()
	c.streaming = true
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Debug().
		Int("rate", c.constraints.SampleRate).
		Int("channels", c.constraints.ChannelCount).
		Msg("Microphone streaming")
	return nil
}

// StopStream halts the microphone. Calling it without a stream is a no-op.
func (c *Capture) StopStream() {
	c.start.Lock()
	defer c.start.Unlock()
	if err := c.slot.Release(); err != nil {
		c.log.Warn().Err(err).Msg("Microphone stop failed")
	}
	c.mu.Lock()
	c.streaming = false
	c.mu.Unlock()
}

// Streaming reports whether a stream is live.
func (c *Capture) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Err returns the failure from the last StartStream, if it failed.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
