// Package audio converts between the audio representations vox handles:
// container blobs, normalized float PCM and signed 16-bit PCM.
package audio

import (
	"encoding/binary"
)

// PCM is interleaved, normalized [-1, 1] sample data.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames (samples per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Clamp limits a sample to [-1, 1].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// ToInt16 clamps and scales a sample onto the full signed 16-bit range.
func ToInt16(s float32) int16 {
	s = Clamp(s)
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// FloatToPCM16 encodes samples as little-endian signed 16-bit PCM.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(ToInt16(s)))
	}
	return out
}

// PCM16ToFloat decodes little-endian signed 16-bit PCM. A trailing odd byte
// is ignored.
func PCM16ToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// Remix converts p to the given channel count. Mono is duplicated into
// every output channel; otherwise channels are averaged down to mono first.
func Remix(p PCM, channels int) PCM {
	if channels <= 0 || p.Channels == channels || p.Channels <= 0 {
		return p
	}
	frames := p.Frames()
	mono := p.Samples
	if p.Channels != 1 {
		mono = make([]float32, frames)
		for i := 0; i < frames; i++ {
			var sum float32
			for c := 0; c < p.Channels; c++ {
				sum += p.Samples[i*p.Channels+c]
			}
			mono[i] = sum / float32(p.Channels)
		}
	}
	if channels == 1 {
		return PCM{SampleRate: p.SampleRate, Channels: 1, Samples: mono}
	}
	out := make([]float32, frames*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return PCM{SampleRate: p.SampleRate, Channels: channels, Samples: out}
}
