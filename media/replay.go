package media

import (
	"sync"
	"time"

	"github.com/room4-2/vox/audio"
)

// ReplayDevice feeds prerecorded audio through the capture path, paced like
// a live microphone unless Fast is set.
type ReplayDevice struct {
	PCM  audio.PCM
	Fast bool
	// Loop restarts the recording when it ends instead of going silent.
	Loop bool
}

// NewReplayDevice replays pcm in real time.
func NewReplayDevice(pcm audio.PCM) *ReplayDevice {
	return &ReplayDevice{PCM: pcm}
}

func (d *ReplayDevice) Open(c Constraints, onFrame FrameHandler) (Track, error) {
	pcm := audio.Remix(audio.Resample(d.PCM, c.SampleRate), c.ChannelCount)
	size := c.FrameSamples * c.ChannelCount

	t := &replayTrack{stop: make(chan struct{}), done: make(chan struct{})}
	interval := time.Duration(float64(time.Second) * float64(c.FrameSamples) / float64(c.SampleRate))
	go t.run(pcm.Samples, size, interval, d.Fast, d.Loop, onFrame)
	return t, nil
}

type replayTrack struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (t *replayTrack) run(samples []float32, size int, interval time.Duration, fast, loop bool, onFrame FrameHandler) {
	defer close(t.done)
	fr := newFramer(size, onFrame)

	var tick <-chan time.Time
	if !fast {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	pos := 0
	for {
		if pos >= len(samples) {
			if !loop || len(samples) == 0 {
				return
			}
			pos = 0
		}
		if tick != nil {
			select {
			case <-t.stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-t.stop:
				return
			default:
			}
		}
		end := pos + size
		if end > len(samples) {
			end = len(samples)
		}
		fr.push(samples[pos:end])
		pos = end
	}
}

func (t *replayTrack) Stop() error {
	t.once.Do(func() { close(t.stop) })
	<-t.done
	return nil
}
