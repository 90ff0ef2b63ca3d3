package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Container formats recognised by Sniff.
const (
	FormatWAV     = "wav"
	FormatMP3     = "mp3"
	FormatWebM    = "webm"
	FormatOgg     = "ogg"
	FormatM4A     = "m4a"
	FormatFLAC    = "flac"
	FormatUnknown = "bin"
)

var mimeTypes = map[string]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatWebM: "audio/webm",
	FormatOgg:  "audio/ogg",
	FormatM4A:  "audio/mp4",
	FormatFLAC: "audio/flac",
}

// Blob is an opaque audio payload with the name it travels under.
type Blob struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Format reports the blob's container, sniffed from its bytes and falling
// back to the file extension.
func (b Blob) Format() string {
	if f := Sniff(b.Data); f != FormatUnknown {
		return f
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(b.Name)), ".")
	if _, ok := mimeTypes[ext]; ok {
		return ext
	}
	return FormatUnknown
}

// Renamed returns the same bytes under the extension and MIME type of format.
func (b Blob) Renamed(format string) Blob {
	mime := mimeTypes[format]
	if mime == "" {
		mime = "application/octet-stream"
	}
	return Blob{
		Name:     ReplaceExt(b.Name, "."+format),
		MIMEType: mime,
		Data:     b.Data,
	}
}

// ReplaceExt swaps the extension of name, defaulting the base to "audio".
func ReplaceExt(name, ext string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "audio"
	}
	return base + ext
}

// Sniff identifies a container by its magic bytes.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOgg
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return FormatFLAC
	default:
		return FormatUnknown
	}
}
