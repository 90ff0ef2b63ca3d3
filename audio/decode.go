package audio

import (
	"fmt"

	"github.com/room4-2/vox/apperr"
)

// Decode reads the blob's bytes and decodes them into PCM.
func Decode(b Blob) (PCM, error) {
	if len(b.Data) == 0 {
		return PCM{}, apperr.New(apperr.KindDecode, "decode audio", "empty audio data")
	}

	var (
		pcm PCM
		err error
	)
	switch format := Sniff(b.Data); format {
	case FormatWAV:
		pcm, err = decodeWAV(b.Data)
	case FormatMP3:
		pcm, err = decodeMP3(b.Data)
	default:
		return PCM{}, apperr.New(apperr.KindDecode, "decode audio", fmt.Sprintf("unsupported container %q", format))
	}
	if err != nil {
		return PCM{}, apperr.Wrap(apperr.KindDecode, "decode audio", err)
	}
	if pcm.Frames() == 0 {
		return PCM{}, apperr.New(apperr.KindDecode, "decode audio", "no samples decoded")
	}
	return pcm, nil
}
