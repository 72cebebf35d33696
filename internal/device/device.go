// Package device abstracts the audio output clock that playback is scheduled
// against.
package device

import "github.com/satindergrewal/narrator/internal/audio"

// Device is a monotonic audio clock that plays buffers at exact start times.
type Device interface {
	// Now returns the device clock in seconds. It does not advance while
	// suspended.
	Now() float64
	// Resume starts or restarts output. It returns audio.ErrPlaybackBlocked
	// when the device cannot produce sound.
	Resume() error
	Suspend() error
	// Schedule plays buf starting at device time at, beginning offset
	// seconds into the buffer.
	Schedule(buf *audio.Buffer, at, offset float64) (Source, error)
}

// Source is one scheduled buffer.
type Source interface {
	// Stop silences the source. Stopping twice is a no-op.
	Stop()
}
