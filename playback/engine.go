// Package playback plays synthesized replies and live call audio through a
// single output instance.
package playback

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/resource"
)

// State of the engine.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

const finishPollInterval = 20 * time.Millisecond

// Voice is one device-level player.
type Voice interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// Device creates voices that pull signed 16-bit little-endian PCM.
type Device interface {
	Format() (sampleRate, channels int)
	NewVoice(r io.Reader) (Voice, error)
}

// Engine owns at most one playing instance at a time.
type Engine struct {
	dev  Device
	slot resource.Slot[*instance]
	ids  atomic.Uint64

	mu        sync.Mutex
	state     State
	current   *instance
	volume    float64
	muted     bool
	listeners []func(State)

	log zerolog.Logger
}

// NewEngine creates an idle engine at full volume.
func NewEngine(dev Device, log zerolog.Logger) *Engine {
	return &Engine{
		dev:    dev,
		state:  StateIdle,
		volume: 1,
		log:    log.With().Str("component", "playback").Logger(),
	}
}

// instance is one playback, released exactly once.
type instance struct {
	id    uint64
	voice Voice
	src   io.Closer
	done  chan struct{}
	once  sync.Once
}

func (i *instance) Release() error {
	var err error
	i.once.Do(func() {
		close(i.done)
		if i.src != nil {
			_ = i.src.Close()
		}
		err = i.voice.Close()
	})
	return err
}

// OnStateChange registers fn to observe state transitions.
func (e *Engine) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Play stops whatever is playing and plays clip. Failures leave the engine
// idle and are returned, never panicked.
func (e *Engine) Play(clip audio.Blob) error {
	e.Stop()

	rate, channels := e.dev.Format()
	pcm, err := audio.Decode(clip)
	if err != nil {
		e.log.Warn().Err(err).Str("clip", clip.Name).Msg("Cannot decode clip")
		return err
	}
	pcm = audio.Remix(audio.Resample(pcm, rate), channels)

	r := newClipReader(audio.FloatToPCM16(pcm.Samples))
	return e.start(r, r, r.drained)
}

// PlayLive stops whatever is playing and opens a stream that plays PCM as
// it is written. inRate is the sample rate of the PCM the caller writes.
func (e *Engine) PlayLive(inRate int) (*LiveStream, error) {
	e.Stop()

	rate, channels := e.dev.Format()
	ls := newLiveStream(inRate, rate, channels)
	if err := e.start(ls, ls, nil); err != nil {
		return nil, err
	}
	return ls, nil
}

func (e *Engine) start(r io.Reader, src io.Closer, drained <-chan struct{}) error {
	voice, err := e.dev.NewVoice(r)
	if err != nil {
		_ = src.Close()
		e.setState(StateIdle)
		e.log.Error().Err(err).Msg("Failed to open output")
		return apperr.Wrap(apperr.KindPermission, "start playback", err)
	}

	inst := &instance{
		id:    e.ids.Add(1),
		voice: voice,
		src:   src,
		done:  make(chan struct{}),
	}
	if err := e.slot.Acquire(inst); err != nil {
		e.log.Debug().Err(err).Msg("Previous output did not close cleanly")
	}

	e.mu.Lock()
	e.current = inst
	voice.SetVolume(e.effectiveVolumeLocked())
	e.mu.Unlock()

	voice.Play()
	e.setState(StatePlaying)

	go e.watch(inst, drained)
	return nil
}

// watch returns the engine to idle once the instance has played out.
func (e *Engine) watch(inst *instance, drained <-chan struct{}) {
	select {
	case <-inst.done:
		return
	case <-drained:
	}

	ticker := time.NewTicker(finishPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-inst.done:
			return
		case <-ticker.C:
		}
		e.mu.Lock()
		finished := e.current == inst && e.state == StatePlaying && !inst.voice.IsPlaying()
		if finished {
			e.current = nil
		}
		e.mu.Unlock()
		if finished {
			e.slot.Forget(inst)
			_ = inst.Release()
			e.setState(StateIdle)
			return
		}
	}
}

// Pause halts playback. Only valid while playing.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	if e.state != StatePlaying || e.current == nil {
		e.mu.Unlock()
		return false
	}
	e.current.voice.Pause()
	e.mu.Unlock()
	e.setState(StatePaused)
	return true
}

// Resume continues a paused instance.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if e.state != StatePaused || e.current == nil {
		e.mu.Unlock()
		return false
	}
	e.current.voice.Play()
	e.mu.Unlock()
	e.setState(StatePlaying)
	return true
}

// Stop ends playback from any state and discards the instance.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()

	if err := e.slot.Release(); err != nil {
		e.log.Debug().Err(err).Msg("Output close failed")
	}
	e.setState(StateIdle)
}

// SetVolume sets the output level in [0, 1], applied immediately.
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	e.applyVolumeLocked()
}

// Volume returns the configured level.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetMuted silences or restores output immediately.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	e.applyVolumeLocked()
}

// ToggleMute flips the mute flag and returns the new value.
func (e *Engine) ToggleMute() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = !e.muted
	e.applyVolumeLocked()
	return e.muted
}

// Muted reports the mute flag.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Engine) effectiveVolumeLocked() float64 {
	if e.muted {
		return 0
	}
	return e.volume
}

func (e *Engine) applyVolumeLocked() {
	if e.current != nil {
		e.current.voice.SetVolume(e.effectiveVolumeLocked())
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	listeners := append([]func(State){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
