package playback

import (
	"io"
	"sync"
)

// MemoryDevice collects output PCM instead of playing it. Voices consume
// their source as fast as it produces, until EOF or Close.
type MemoryDevice struct {
	rate     int
	channels int

	mu  sync.Mutex
	out []byte
}

// NewMemoryDevice creates a device reporting the given output format.
func NewMemoryDevice(sampleRate, channels int) *MemoryDevice {
	return &MemoryDevice{rate: sampleRate, channels: channels}
}

func (d *MemoryDevice) Format() (int, int) {
	return d.rate, d.channels
}

func (d *MemoryDevice) NewVoice(r io.Reader) (Voice, error) {
	return &memoryVoice{dev: d, r: r, resume: make(chan struct{}, 1)}, nil
}

// Bytes returns a copy of everything played so far.
func (d *MemoryDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.out...)
}

func (d *MemoryDevice) write(p []byte) {
	d.mu.Lock()
	d.out = append(d.out, p...)
	d.mu.Unlock()
}

type memoryVoice struct {
	dev    *MemoryDevice
	r      io.Reader
	resume chan struct{}

	mu      sync.Mutex
	started bool
	paused  bool
	playing bool
	closed  bool
}

func (v *memoryVoice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
	v.playing = true
	if !v.started {
		v.started = true
		go v.pump()
		return
	}
	select {
	case v.resume <- struct{}{}:
	default:
	}
}

func (v *memoryVoice) pump() {
	buf := make([]byte, 4096)
	for {
		v.mu.Lock()
		for v.paused && !v.closed {
			v.mu.Unlock()
			<-v.resume
			v.mu.Lock()
		}
		closed := v.closed
		v.mu.Unlock()
		if closed {
			return
		}

		n, err := v.r.Read(buf)
		if n > 0 {
			v.dev.write(buf[:n])
		}
		if err != nil {
			v.mu.Lock()
			v.playing = false
			v.mu.Unlock()
			return
		}
	}
}

func (v *memoryVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
}

func (v *memoryVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && !v.paused
}

func (v *memoryVoice) SetVolume(float64) {}

func (v *memoryVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.playing = false
	select {
	case v.resume <- struct{}{}:
	default:
	}
	return nil
}
