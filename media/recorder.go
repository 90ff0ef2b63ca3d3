package media

import (
	"context"
	"sync"
	"time"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
)

// Recorder captures a voice message into a bounded buffer.
type Recorder struct {
	capture *Capture
	buf     *audio.Buffer

	mu       sync.Mutex
	overflow bool
}

// NewRecorder records through capture, keeping at most maxBytes of PCM.
func NewRecorder(capture *Capture, maxBytes int) *Recorder {
	c := capture.Constraints()
	return &Recorder{capture: capture, buf: audio.NewBuffer(c.SampleRate, c.ChannelCount, maxBytes)}
}

// Start begins a new recording, discarding any previous one.
func (r *Recorder) Start(ctx context.Context) error {
	r.buf.Reset()
	r.mu.Lock()
	r.overflow = false
	r.mu.Unlock()
	return r.capture.StartStream(ctx, r.onFrame)
}

func (r *Recorder) onFrame(frame []float32) {
	if err := r.buf.Append(frame); err != nil {
		r.mu.Lock()
		r.overflow = true
		r.mu.Unlock()
	}
}

// Truncated reports whether the recording hit the size limit.
func (r *Recorder) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflow
}

// Duration returns how much audio has been recorded so far.
func (r *Recorder) Duration() time.Duration {
	return r.buf.Duration()
}

// Stop ends the recording and returns it as a WAV blob.
func (r *Recorder) Stop() (audio.Blob, error) {
	r.capture.StopStream()

	pcm := r.buf.Take()
	if pcm.Frames() == 0 {
		return audio.Blob{}, apperr.New(apperr.KindInvalid, "stop recording", "nothing was recorded")
	}
	wav, err := audio.EncodeWAV(pcm)
	if err != nil {
		return audio.Blob{}, apperr.Wrap(apperr.KindDecode, "stop recording", err)
	}
	return audio.Blob{Name: "recording.wav", MIMEType: "audio/wav", Data: wav}, nil
}
