package media

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// MalgoDevice captures from the default system microphone.
type MalgoDevice struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// NewMalgoDevice creates a device; the audio backend is initialised on the
// first Open.
func NewMalgoDevice(log zerolog.Logger) *MalgoDevice {
	return &MalgoDevice{log: log.With().Str("component", "malgo").Logger()}
}

func (d *MalgoDevice) context() (*malgo.AllocatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	d.ctx = ctx
	return ctx, nil
}

func (d *MalgoDevice) Open(c Constraints, onFrame FrameHandler) (Track, error) {
	ctx, err := d.context()
	if err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		d.log.Debug().Msg("Voice processing is left to the operating system input chain")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.ChannelCount)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.PeriodSizeInFrames = uint32(c.FrameSamples)

	fr := newFramer(c.FrameSamples*c.ChannelCount, onFrame)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			fr.pushPCM16(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	return &malgoTrack{device: device}, nil
}

// Close releases the audio backend.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

type malgoTrack struct {
	device *malgo.Device
}

func (t *malgoTrack) Stop() error {
	err := t.device.Stop()
	t.device.Uninit()
	return err
}
