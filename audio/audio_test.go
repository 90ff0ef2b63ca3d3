package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(rate, channels, frames int) PCM {
	samples := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = v
		}
	}
	return PCM{SampleRate: rate, Channels: channels, Samples: samples}
}

func TestEncodeWAVHeaderAndLength(t *testing.T) {
	cases := []struct {
		rate, channels, frames int
	}{
		{16000, 1, 4096},
		{44100, 2, 1000},
		{8000, 1, 1},
		{48000, 2, 333},
	}
	for _, tc := range cases {
		out, err := EncodeWAV(sine(tc.rate, tc.channels, tc.frames))
		require.NoError(t, err)

		assert.Len(t, out, WAVHeaderSize+tc.frames*tc.channels*2)
		assert.Equal(t, "RIFF", string(out[0:4]))
		assert.Equal(t, "WAVE", string(out[8:12]))
		assert.Equal(t, "fmt ", string(out[12:16]))
		assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[20:22]))
		assert.Equal(t, uint16(tc.channels), binary.LittleEndian.Uint16(out[22:24]))
		assert.Equal(t, uint32(tc.rate), binary.LittleEndian.Uint32(out[24:28]))
		assert.Equal(t, uint32(tc.rate*tc.channels*2), binary.LittleEndian.Uint32(out[28:32]))
		assert.Equal(t, uint16(tc.channels*2), binary.LittleEndian.Uint16(out[32:34]))
		assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(out[34:36]))
		assert.Equal(t, "data", string(out[36:40]))
		assert.Equal(t, uint32(tc.frames*tc.channels*2), binary.LittleEndian.Uint32(out[40:44]))
		assert.True(t, IsCanonical(Blob{Data: out}))
	}
}

func TestEncodeWAVClampsSamples(t *testing.T) {
	out, err := EncodeWAV(PCM{SampleRate: 8000, Channels: 1, Samples: []float32{2, -3, 1, -1, 0}})
	require.NoError(t, err)

	body := out[WAVHeaderSize:]
	got := make([]int16, 5)
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(body[i*2:]))
	}
	assert.Equal(t, []int16{32767, -32768, 32767, -32768, 0}, got)
}

func TestEncodeWAVRejectsEmpty(t *testing.T) {
	_, err := EncodeWAV(PCM{SampleRate: 8000, Channels: 1})
	assert.Error(t, err)
	_, err = EncodeWAV(PCM{Samples: []float32{0}})
	assert.Error(t, err)
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	in := sine(22050, 2, 500)
	data, err := EncodeWAV(in)
	require.NoError(t, err)

	pcm, err := Decode(Blob{Name: "x.wav", Data: data})
	require.NoError(t, err)
	assert.Equal(t, 22050, pcm.SampleRate)
	assert.Equal(t, 2, pcm.Channels)
	assert.Equal(t, 500, pcm.Frames())
	assert.InDelta(t, in.Samples[100], pcm.Samples[100], 0.001)
}

func TestDecodeUnknownContainer(t *testing.T) {
	_, err := Decode(Blob{Name: "a.webm", Data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0, 0, 0}})
	require.Error(t, err)
	_, err = Decode(Blob{})
	require.Error(t, err)
}

func TestTranscodeProducesCanonicalWAV(t *testing.T) {
	src, err := EncodeWAV(sine(16000, 1, 1600))
	require.NoError(t, err)
	// rewrite as a non-canonical name; content is still wav
	tr := NewTranscoder(zerolog.Nop())
	out := tr.Transcode(Blob{Name: "clip.bin", Data: src})

	assert.Equal(t, "clip.wav", out.Name)
	assert.Equal(t, "audio/wav", out.MIMEType)
	assert.Equal(t, FormatWAV, out.Format())
	assert.True(t, IsCanonical(out))
}

func TestTranscodeFallsBackToOriginalBytes(t *testing.T) {
	garbage := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 64)...)
	tr := NewTranscoder(zerolog.Nop())

	out := tr.Transcode(Blob{Name: "recording.dat", MIMEType: "audio/webm", Data: garbage})

	assert.NotEmpty(t, out.Data)
	assert.Equal(t, garbage, out.Data)
	assert.Equal(t, "recording.webm", out.Name)
	assert.Equal(t, FormatWebM, out.Format())
}

func TestTranscodeNeverReturnsEmptyForNonEmptyInput(t *testing.T) {
	tr := NewTranscoder(zerolog.Nop())
	for _, data := range [][]byte{{0}, []byte("hello world"), []byte("OggS-not-really")} {
		out := tr.Transcode(Blob{Name: "x", Data: data})
		assert.NotEmpty(t, out.Data)
	}
}

func TestPCM16Conversion(t *testing.T) {
	raw := FloatToPCM16([]float32{0, 0.5, -0.5, 1.5, -1.5})
	assert.Len(t, raw, 10)
	back := PCM16ToFloat(raw)
	assert.InDelta(t, 0.0, back[0], 0.0001)
	assert.InDelta(t, 0.5, back[1], 0.001)
	assert.InDelta(t, -0.5, back[2], 0.001)
	assert.InDelta(t, 1.0, back[3], 0.001)
	assert.InDelta(t, -1.0, back[4], 0.001)

	assert.Len(t, PCM16ToFloat([]byte{1, 2, 3}), 1)
}

func TestResampleChangesLength(t *testing.T) {
	in := sine(16000, 1, 16000)
	out := Resample(in, 24000)
	assert.Equal(t, 24000, out.SampleRate)
	assert.Equal(t, 1, out.Channels)
	assert.InDelta(t, 24000, out.Frames(), 100)

	same := Resample(in, 16000)
	assert.Equal(t, in.Frames(), same.Frames())
}

func TestSniff(t *testing.T) {
	assert.Equal(t, FormatMP3, Sniff([]byte("ID3\x04")))
	assert.Equal(t, FormatOgg, Sniff([]byte("OggS\x00")))
	assert.Equal(t, FormatM4A, Sniff([]byte("\x00\x00\x00\x18ftypM4A ")))
	assert.Equal(t, FormatUnknown, Sniff([]byte("xx")))
	assert.Equal(t, FormatMP3, Blob{Name: "reply.mp3", Data: []byte("??")}.Format())
}

func TestRemix(t *testing.T) {
	stereo := PCM{SampleRate: 8000, Channels: 2, Samples: []float32{0.2, 0.4, -1, 1}}
	mono := Remix(stereo, 1)
	assert.Equal(t, 1, mono.Channels)
	assert.InDeltaSlice(t, []float32{0.3, 0}, mono.Samples, 0.0001)

	up := Remix(PCM{SampleRate: 8000, Channels: 1, Samples: []float32{0.5}}, 2)
	assert.Equal(t, []float32{0.5, 0.5}, up.Samples)
}
