// Package chunkstore keeps decoded narration chunks addressed by stream index.
//
// Chunks may arrive in any order. Consumers only ever walk the contiguous
// prefix: a missing index blocks everything after it until the index arrives
// or is marked absent.
package chunkstore

import (
	"fmt"

	"github.com/satindergrewal/narrator/internal/audio"
)

// Chunk is one decoded unit of narration audio.
type Chunk struct {
	Index   int
	Raw     []byte
	Decoded *audio.Buffer
}

// Duration returns the chunk length in seconds.
func (c *Chunk) Duration() float64 {
	return c.Decoded.Duration()
}

type slotState uint8

const (
	slotMissing slotState = iota
	slotAbsent            // arrived without audio
	slotReady
)

type slot struct {
	state slotState
	chunk *Chunk
}

// Position locates a timeline offset inside a chunk.
type Position struct {
	Index  int
	Offset float64 // seconds into the chunk
}

// Store is an index-addressable arena of chunks. It is not safe for
// concurrent use; the owner serializes access.
type Store struct {
	format audio.Format
	slots  []slot
	ready  int
	total  float64
}

// New creates an empty store decoding chunks with format f.
func New(f audio.Format) *Store {
	return &Store{format: f}
}

// Format returns the PCM format chunks are decoded with.
func (s *Store) Format() audio.Format {
	return s.format
}

func (s *Store) claim(index int) (*slot, error) {
	if index < 0 {
		return nil, fmt.Errorf("chunkstore: negative index %d", index)
	}
	if index >= len(s.slots) {
		grown := make([]slot, index+1)
		copy(grown, s.slots)
		s.slots = grown
	}
	sl := &s.slots[index]
	if sl.state != slotMissing {
		return nil, fmt.Errorf("%w: index %d", audio.ErrDuplicateChunk, index)
	}
	return sl, nil
}

// Insert decodes raw PCM and stores it at index. When decoding fails the
// index is still consumed as absent so the timeline can move past it.
func (s *Store) Insert(index int, raw []byte) (*Chunk, error) {
	sl, err := s.claim(index)
	if err != nil {
		return nil, err
	}

	decoded, err := audio.DecodePCM16(raw, s.format)
	if err != nil {
		sl.state = slotAbsent
		return nil, fmt.Errorf("chunk %d: %w", index, err)
	}

	c := &Chunk{Index: index, Raw: raw, Decoded: decoded}
	sl.state = slotReady
	sl.chunk = c
	s.ready++
	s.recompute()
	return c, nil
}

// MarkAbsent records index as arrived without audio.
func (s *Store) MarkAbsent(index int) error {
	sl, err := s.claim(index)
	if err != nil {
		return err
	}
	sl.state = slotAbsent
	return nil
}

func (s *Store) recompute() {
	total := 0.0
	for _, sl := range s.slots {
		if sl.state == slotReady {
			total += sl.chunk.Duration()
		}
	}
	s.total = total
}

// At returns the chunk at index and whether the index has arrived. An arrived
// index with a nil chunk is an absent placeholder.
func (s *Store) At(index int) (*Chunk, bool) {
	if index < 0 || index >= len(s.slots) {
		return nil, false
	}
	sl := s.slots[index]
	return sl.chunk, sl.state != slotMissing
}

// ContiguousEnd returns the first index at or after from that has not arrived.
func (s *Store) ContiguousEnd(from int) int {
	if from < 0 {
		from = 0
	}
	i := from
	for i < len(s.slots) && s.slots[i].state != slotMissing {
		i++
	}
	return i
}

// Ordered returns the decoded chunks sorted by index. Absent indices are
// skipped.
func (s *Store) Ordered() []*Chunk {
	out := make([]*Chunk, 0, s.ready)
	for _, sl := range s.slots {
		if sl.state == slotReady {
			out = append(out, sl.chunk)
		}
	}
	return out
}

// RawChunks returns the raw PCM of every decoded chunk in index order.
func (s *Store) RawChunks() [][]byte {
	out := make([][]byte, 0, s.ready)
	for _, sl := range s.slots {
		if sl.state == slotReady {
			out = append(out, sl.chunk.Raw)
		}
	}
	return out
}

// Arrived returns how many indices have arrived, decoded or absent.
func (s *Store) Arrived() int {
	n := 0
	for _, sl := range s.slots {
		if sl.state != slotMissing {
			n++
		}
	}
	return n
}

// Len returns the number of decoded chunks.
func (s *Store) Len() int {
	return s.ready
}

// Span returns one past the highest index seen.
func (s *Store) Span() int {
	return len(s.slots)
}

// TotalDuration returns the summed duration of all decoded chunks.
func (s *Store) TotalDuration() float64 {
	return s.total
}

// Locate resolves a timeline offset to the chunk containing it. Only the
// contiguous prefix is addressable; a target past a missing index fails.
func (s *Store) Locate(target float64) (Position, error) {
	if target < 0 || target >= s.total {
		return Position{}, fmt.Errorf("%w: %.3fs of %.3fs", audio.ErrSeekOutOfRange, target, s.total)
	}

	cum := 0.0
	for i, sl := range s.slots {
		switch sl.state {
		case slotMissing:
			return Position{}, fmt.Errorf("%w: chunk %d pending", audio.ErrSeekOutOfRange, i)
		case slotAbsent:
			continue
		}
		d := sl.chunk.Duration()
		if target < cum+d {
			return Position{Index: i, Offset: target - cum}, nil
		}
		cum += d
	}
	return Position{}, fmt.Errorf("%w: %.3fs of %.3fs", audio.ErrSeekOutOfRange, target, s.total)
}
