package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendTake(t *testing.T) {
	b := NewBuffer(8000, 1, 1024)
	assert.Zero(t, b.Frames())

	frame := []float32{0.1, 0.2, 0.3}
	require.NoError(t, b.Append(frame))
	frame[0] = 0.9 // capture callbacks reuse their slices
	require.NoError(t, b.Append([]float32{0.4, 0.5}))

	assert.Equal(t, 5, b.Frames())
	assert.Equal(t, 10, b.Size())

	pcm := b.Take()
	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4, 0.5}, pcm.Samples)
	assert.Zero(t, b.Frames())
	assert.Empty(t, b.Take().Samples)
}

func TestBufferFullKeepsWholeFrames(t *testing.T) {
	// room for three stereo frames
	b := NewBuffer(16000, 2, 12)
	require.NoError(t, b.Append([]float32{1, 1, 2, 2}))
	assert.ErrorIs(t, b.Append([]float32{3, 3, 4, 4, 5, 5}), ErrBufferFull)

	assert.Equal(t, 3, b.Frames())
	assert.Equal(t, 12, b.Size())
	assert.ErrorIs(t, b.Append([]float32{6, 6}), ErrBufferFull)
	assert.Equal(t, []float32{1, 1, 2, 2, 3, 3}, b.Take().Samples)
}

func TestBufferDuration(t *testing.T) {
	b := NewBuffer(16000, 1, 1<<20)
	require.NoError(t, b.Append(make([]float32, 8000)))
	assert.Equal(t, 500*time.Millisecond, b.Duration())

	b.Reset()
	assert.Zero(t, b.Duration())
	assert.Equal(t, 1<<20, b.MaxSize())
}
