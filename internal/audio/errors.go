package audio

import "errors"

var (
	// ErrDecode reports malformed base64 input.
	ErrDecode = errors.New("malformed base64 payload")
	// ErrAudioDecode reports PCM bytes not aligned to the sample frame size.
	ErrAudioDecode = errors.New("pcm payload not aligned to sample frame")
	// ErrSeekOutOfRange reports a seek target beyond the decoded timeline.
	ErrSeekOutOfRange = errors.New("seek target out of range")
	// ErrPlaybackBlocked reports an output device that refused to start.
	ErrPlaybackBlocked = errors.New("playback blocked by output device")
	// ErrEncode reports a background encoder failure or timeout.
	ErrEncode = errors.New("mp3 encode failed")
	// ErrExport reports that there is no audio to export.
	ErrExport = errors.New("no audio data to export")
	// ErrInvalidState reports an operation not allowed in the current status.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrDuplicateChunk reports a chunk index that has already arrived.
	ErrDuplicateChunk = errors.New("chunk index already received")
)
