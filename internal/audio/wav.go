package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a header does not describe 16-bit PCM WAV audio.
var ErrNotWAV = errors.New("not a 16-bit PCM wav stream")

// Format describes the PCM layout produced by a capture stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the 16kHz mono s16le layout used for capture and recognition.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the s16le byte rate for f.
func (f Format) BytesPerSecond() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	return f.SampleRate * channels * 2
}

// WritePCM16WAV writes raw little-endian PCM bytes with a minimal WAV header.
func WritePCM16WAV(w io.Writer, pcm []byte, format Format) error {
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := format.SampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// EncodeWAV returns pcm wrapped in a WAV container.
func EncodeWAV(pcm []byte, format Format) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	_ = WritePCM16WAV(&buf, pcm, format)
	return buf.Bytes()
}

// WAVInfo is the subset of a WAV header needed to derive duration.
type WAVInfo struct {
	Format   Format
	DataSize int
}

// DurationSec returns the whole-second length of the data chunk, rounded.
func (i WAVInfo) DurationSec() int {
	rate := i.Format.BytesPerSecond()
	if rate <= 0 {
		return 0
	}
	return (i.DataSize + rate/2) / rate
}

// ReadWAVInfo parses a canonical 44-byte PCM WAV header.
func ReadWAVInfo(header []byte) (WAVInfo, error) {
	if len(header) < wavHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: short header (%d bytes)", ErrNotWAV, len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" || string(header[12:16]) != "fmt " {
		return WAVInfo{}, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(header[20:22]) != 1 || binary.LittleEndian.Uint16(header[34:36]) != 16 {
		return WAVInfo{}, ErrNotWAV
	}
	if string(header[36:40]) != "data" {
		return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	return WAVInfo{
		Format: Format{
			SampleRate: int(binary.LittleEndian.Uint32(header[24:28])),
			Channels:   int(binary.LittleEndian.Uint16(header[22:24])),
		},
		DataSize: int(binary.LittleEndian.Uint32(header[40:44])),
	}, nil
}
