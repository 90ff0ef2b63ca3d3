package playback

import (
	"io"
	"sync"

	"github.com/room4-2/vox/audio"
)

// clipReader serves a fully decoded clip and signals once it is consumed.
type clipReader struct {
	mu      sync.Mutex
	data    []byte
	pos     int
	closed  bool
	drained chan struct{}
	once    sync.Once
}

func newClipReader(data []byte) *clipReader {
	return &clipReader{data: data, drained: make(chan struct{})}
}

func (c *clipReader) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pos >= len(c.data) {
		c.once.Do(func() { close(c.drained) })
		return 0, io.EOF
	}
	n := copy(p, c.data[c.pos:])
	c.pos += n
	return n, nil
}

func (c *clipReader) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// LiveStream plays PCM frames in the order they are written.
type LiveStream struct {
	inRate   int
	outRate  int
	channels int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newLiveStream(inRate, outRate, channels int) *LiveStream {
	ls := &LiveStream{inRate: inRate, outRate: outRate, channels: channels}
	ls.cond = sync.NewCond(&ls.mu)
	return ls
}

// Write queues signed 16-bit little-endian mono PCM at the stream's input
// rate.
func (l *LiveStream) Write(pcm []byte) (int, error) {
	var out []byte
	if l.inRate == l.outRate && l.channels == 1 {
		out = pcm[:len(pcm)-len(pcm)%2]
	} else {
		frame := audio.PCM{SampleRate: l.inRate, Channels: 1, Samples: audio.PCM16ToFloat(pcm)}
		frame = audio.Remix(audio.Resample(frame, l.outRate), l.channels)
		out = audio.FloatToPCM16(frame.Samples)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, io.ErrClosedPipe
	}
	l.buf = append(l.buf, out...)
	l.cond.Signal()
	return len(pcm), nil
}

// Read implements io.Reader for the output device.
func (l *LiveStream) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.buf) == 0 && !l.closed {
		l.cond.Wait()
	}
	if len(l.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}

// Buffered returns the number of bytes waiting to be played.
func (l *LiveStream) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Close discards pending audio and ends the stream.
func (l *LiveStream) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.buf = nil
	l.cond.Broadcast()
	return nil
}
