package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
)

type fakeTrack struct {
	dev   *fakeDevice
	stops int
}

func (f *fakeTrack) Stop() error {
	f.stops++
	f.dev.events = append(f.dev.events, "stop")
	return nil
}

type fakeDevice struct {
	err    error
	tracks []*fakeTrack
	got    Constraints
	events []string
}

func (d *fakeDevice) Open(c Constraints, _ FrameHandler) (Track, error) {
	d.got = c
	d.events = append(d.events, "open")
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTrack{dev: d}
	d.tracks = append(d.tracks, t)
	return t, nil
}

func TestStartStreamRequestsConstraints(t *testing.T) {
	dev := &fakeDevice{}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())

	require.NoError(t, c.StartStream(context.Background(), func([]float32) {}))
	assert.True(t, c.Streaming())
	assert.NoError(t, c.Err())
	assert.Equal(t, Constraints{
		EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true,
		SampleRate: 16000, ChannelCount: 1, FrameSamples: 4096,
	}, dev.got)
}

func TestStartStreamPermissionDenied(t *testing.T) {
	c := NewCapture(&fakeDevice{err: errors.New("NotAllowedError")}, DefaultConstraints(), zerolog.Nop())

	err := c.StartStream(context.Background(), func([]float32) {})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPermission))
	assert.False(t, c.Streaming())
	assert.True(t, apperr.Is(c.Err(), apperr.KindPermission))
}

func TestStopStreamIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())
	c.StopStream()

	require.NoError(t, c.StartStream(context.Background(), func([]float32) {}))
	c.StopStream()
	c.StopStream()
	assert.False(t, c.Streaming())
	assert.Equal(t, 1, dev.tracks[0].stops)
}

func TestRestartReleasesPreviousTrack(t *testing.T) {
	dev := &fakeDevice{}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())
	require.NoError(t, c.StartStream(context.Background(), func([]float32) {}))
	require.NoError(t, c.StartStream(context.Background(), func([]float32) {}))

	assert.Equal(t, 1, dev.tracks[0].stops)
	assert.Equal(t, 0, dev.tracks[1].stops)
	assert.Equal(t, []string{"open", "stop", "open"}, dev.events)
}

func TestRestartAfterDeniedKeepsNoTrack(t *testing.T) {
	dev := &fakeDevice{}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())
	require.NoError(t, c.StartStream(context.Background(), func([]float32) {}))

	dev.err = errors.New("device unplugged")
	require.Error(t, c.StartStream(context.Background(), func([]float32) {}))
	assert.Equal(t, []string{"open", "stop", "open"}, dev.events)
	assert.False(t, c.Streaming())

	c.StopStream()
	assert.Equal(t, 1, dev.tracks[0].stops)
}

func TestFramerEmitsFixedFrames(t *testing.T) {
	var sizes []int
	fr := newFramer(4, func(f []float32) { sizes = append(sizes, len(f)) })
	fr.push(make([]float32, 3))
	fr.push(make([]float32, 6))
	assert.Equal(t, []int{4, 4}, sizes)
	assert.Len(t, fr.pending, 1)
}

func TestReplayDeviceDeliversFrames(t *testing.T) {
	pcm := audio.PCM{SampleRate: 16000, Channels: 1, Samples: make([]float32, 4096*3)}
	dev := &ReplayDevice{PCM: pcm, Fast: true}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())

	var mu sync.Mutex
	frames := 0
	require.NoError(t, c.StartStream(context.Background(), func(f []float32) {
		assert.Len(t, f, 4096)
		mu.Lock()
		frames++
		mu.Unlock()
	}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames == 3
	}, time.Second, 5*time.Millisecond)
	c.StopStream()
}

func TestRecorderProducesWAV(t *testing.T) {
	samples := make([]float32, 4096*2)
	for i := range samples {
		samples[i] = 0.1
	}
	dev := &ReplayDevice{PCM: audio.PCM{SampleRate: 16000, Channels: 1, Samples: samples}, Fast: true}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())
	rec := NewRecorder(c, 1<<20)

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	blob, err := rec.Stop()
	require.NoError(t, err)

	assert.True(t, audio.IsCanonical(blob))
	assert.Len(t, blob.Data, audio.WAVHeaderSize+len(samples)*2)
	assert.False(t, rec.Truncated())
	assert.Zero(t, rec.Duration())
}

func TestRecorderTruncatesAtLimit(t *testing.T) {
	dev := &ReplayDevice{PCM: audio.PCM{SampleRate: 16000, Channels: 1, Samples: make([]float32, 4096*4)}, Fast: true}
	c := NewCapture(dev, DefaultConstraints(), zerolog.Nop())
	rec := NewRecorder(c, 4096*2)

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 256*time.Millisecond, rec.Duration())
	blob, err := rec.Stop()
	require.NoError(t, err)
	assert.True(t, rec.Truncated())
	assert.Len(t, blob.Data, audio.WAVHeaderSize+4096*2)
}

func TestRecorderEmpty(t *testing.T) {
	c := NewCapture(&fakeDevice{}, DefaultConstraints(), zerolog.Nop())
	rec := NewRecorder(c, 1024)
	require.NoError(t, rec.Start(context.Background()))
	_, err := rec.Stop()
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}
