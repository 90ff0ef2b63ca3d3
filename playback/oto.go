package playback

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// OtoDevice plays through the system speaker. The oto context is created on
// first use; a process can hold only one.
type OtoDevice struct {
	sampleRate int
	channels   int

	once sync.Once
	ctx  *oto.Context
	err  error
}

// NewOtoDevice describes a speaker at the given format.
func NewOtoDevice(sampleRate, channels int) *OtoDevice {
	return &OtoDevice{sampleRate: sampleRate, channels: channels}
}

func (d *OtoDevice) Format() (int, int) {
	return d.sampleRate, d.channels
}

func (d *OtoDevice) NewVoice(r io.Reader) (Voice, error) {
	d.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   d.sampleRate,
			ChannelCount: d.channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   0, // driver default
		})
		if err != nil {
			d.err = fmt.Errorf("init speaker: %w", err)
			return
		}
		<-ready
		d.ctx = ctx
	})
	if d.err != nil {
		return nil, d.err
	}
	return d.ctx.NewPlayer(r), nil
}
