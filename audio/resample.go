package audio

import (
	"github.com/gopxl/beep/v2"
)

const resampleQuality = 4

// Resample converts p to the given sample rate. Mono and stereo input keep
// their channel count; wider input is reduced to its first two channels.
func Resample(p PCM, rate int) PCM {
	if rate <= 0 || p.SampleRate == rate || p.Frames() == 0 {
		return p
	}
	channels := p.Channels
	if channels > 2 {
		channels = 2
	}

	src := &pcmStreamer{pcm: p}
	r := beep.Resample(resampleQuality, beep.SampleRate(p.SampleRate), beep.SampleRate(rate), src)

	estimate := p.Frames()*rate/p.SampleRate + 1
	out := make([]float32, 0, estimate*channels)
	buf := make([][2]float64, 512)
	for {
		n, ok := r.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32(frame[0]))
			if channels == 2 {
				out = append(out, float32(frame[1]))
			}
		}
		if !ok || n == 0 {
			break
		}
	}
	return PCM{SampleRate: rate, Channels: channels, Samples: out}
}

// pcmStreamer exposes PCM as a beep.Streamer.
type pcmStreamer struct {
	pcm PCM
	pos int // frame position
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	total := s.pcm.Frames()
	if s.pos >= total {
		return 0, false
	}
	ch := s.pcm.Channels
	n := 0
	for n < len(samples) && s.pos < total {
		base := s.pos * ch
		left := float64(s.pcm.Samples[base])
		right := left
		if ch > 1 {
			right = float64(s.pcm.Samples[base+1])
		}
		samples[n] = [2]float64{left, right}
		n++
		s.pos++
	}
	return n, true
}

func (s *pcmStreamer) Err() error {
	return nil
}
