package audio

import (
	"encoding/binary"
	"fmt"
)

// Buffer holds decoded planar float samples ready for device playback.
type Buffer struct {
	SampleRate int
	Data       [][]float32 // one slice per channel, all the same length
}

// Channels returns the number of channels in the buffer.
func (b *Buffer) Channels() int {
	return len(b.Data)
}

// Frames returns samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// DecodePCM16 de-interleaves little-endian PCM16 bytes into a float buffer
// scaled to [-1, 1).
func DecodePCM16(raw []byte, f Format) (*Buffer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	align := f.BlockAlign()
	if len(raw)%align != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame is %d bytes", ErrAudioDecode, len(raw), align)
	}

	frames := len(raw) / align
	buf := &Buffer{SampleRate: f.SampleRate, Data: make([][]float32, f.Channels)}
	for ch := range buf.Data {
		buf.Data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < f.Channels; ch++ {
			off := i*align + ch*BytesPerSample
			s := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
			buf.Data[ch][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}

// FloatToPCM16 converts a float sample to int16, clipping to the int16 range.
func FloatToPCM16(v float32) int16 {
	scaled := float64(v) * 32768.0
	if scaled > 32767 {
		scaled = 32767
	} else if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
