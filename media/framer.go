package media

import (
	"github.com/room4-2/vox/audio"
)

// framer regroups arbitrary-sized 16-bit PCM callbacks into frames of a
// fixed sample count.
type framer struct {
	size    int // interleaved samples per frame
	pending []float32
	onFrame FrameHandler
}

func newFramer(size int, onFrame FrameHandler) *framer {
	return &framer{size: size, onFrame: onFrame, pending: make([]float32, 0, size*2)}
}

func (f *framer) pushPCM16(data []byte) {
	f.push(audio.PCM16ToFloat(data))
}

func (f *framer) push(samples []float32) {
	f.pending = append(f.pending, samples...)
	for len(f.pending) >= f.size {
		f.onFrame(f.pending[:f.size])
		f.pending = f.pending[f.size:]
	}
	if cap(f.pending) > f.size*8 {
		f.pending = append(make([]float32, 0, f.size*2), f.pending...)
	}
}
