// Package ingest delivers narration chunks from the generation service into
// the player over NATS or WebSocket.
package ingest

import (
	"errors"
	"fmt"
)

// ErrSessionMismatch is returned for chunks addressed to a session other
// than the one currently loaded.
var ErrSessionMismatch = errors.New("chunk for another session")

// ChunkMessage is one indexed chunk on the wire. A null data field marks the
// index as a failed segment with no audio. Final marks the last chunk of a
// streaming session.
type ChunkMessage struct {
	SessionID string  `json:"session_id,omitempty"`
	Index     int     `json:"index"`
	Data      *string `json:"data"`
	Final     bool    `json:"final,omitempty"`
}

// Ack answers a ChunkMessage.
type Ack struct {
	Index int    `json:"index"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Sink receives chunks. *player.Controller implements it.
type Sink interface {
	QueueChunk(index int, payload string) error
	MarkAbsent(index int) error
	EndStream() error
	SessionID() string
}

// Dispatch hands m to sink. Messages without a session id go to whatever
// session is loaded.
func Dispatch(sink Sink, m ChunkMessage) error {
	if m.SessionID != "" {
		if current := sink.SessionID(); m.SessionID != current {
			return fmt.Errorf("%w: got %s, loaded %q", ErrSessionMismatch, m.SessionID, current)
		}
	}
	var err error
	if m.Data == nil {
		err = sink.MarkAbsent(m.Index)
	} else {
		err = sink.QueueChunk(m.Index, *m.Data)
	}
	if m.Final {
		if endErr := sink.EndStream(); err == nil {
			err = endErr
		}
	}
	return err
}

func ack(index int, err error) Ack {
	if err != nil {
		return Ack{Index: index, Error: err.Error()}
	}
	return Ack{Index: index, OK: true}
}
