package audio

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	BitDepth          = 16
	BytesPerSample    = BitDepth / 8
	FrameDuration     = 20 * time.Millisecond
)

// Format describes interleaved little-endian PCM16 audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Narration is the format produced by the generation service.
var Narration = Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}

// Validate reports whether the format can be played and exported.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// BlockAlign returns the number of bytes in one interleaved sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * BytesPerSample
}

// ByteRate returns bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// FrameSize returns samples per channel in one FrameDuration frame.
func (f Format) FrameSize() int {
	return f.SampleRate * int(FrameDuration/time.Millisecond) / 1000
}

// FrameSamples returns total interleaved samples per frame.
func (f Format) FrameSamples() int {
	return f.FrameSize() * f.Channels
}

// Duration returns the playback length in seconds of n raw PCM bytes.
func (f Format) Duration(n int) float64 {
	return float64(n) / float64(f.ByteRate())
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}
