package player

import (
	"fmt"
	"strings"
)

// Status is the transport state of the controller.
type Status int

const (
	Empty Status = iota
	Loading
	Ready
	Playing
	Paused
	Error
)

var statusNames = [...]string{"Empty", "Loading", "Ready", "Playing", "Paused", "Error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status as its lower-case name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText parses a lower- or mixed-case status name.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(b)) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("player: unknown status %q", b)
}

// Snapshot is the observable state of the controller at one instant.
type Snapshot struct {
	SessionID         string  `json:"session_id,omitempty"`
	Status            Status  `json:"status"`
	CurrentTime       float64 `json:"current_time"`
	Duration          float64 `json:"duration"`
	HasAudioData      bool    `json:"has_audio_data"`
	LastError         string  `json:"last_error,omitempty"`
	Encoding          bool    `json:"encoding"`
	MP3Ready          bool    `json:"mp3_ready"`
	ChunkCount        int     `json:"chunk_count"`
	NextScheduleIndex int     `json:"next_schedule_index"`
}
