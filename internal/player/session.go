package player

import (
	"math"

	"github.com/google/uuid"

	"github.com/satindergrewal/narrator/internal/audio"
	"github.com/satindergrewal/narrator/internal/chunkstore"
	"github.com/satindergrewal/narrator/internal/device"
	"github.com/satindergrewal/narrator/internal/encoder"
)

// session owns every resource tied to one loaded clip.
type session struct {
	id    string
	store *chunkstore.Store

	// streaming sessions stay open for more chunks until ended.
	streaming bool
	ended     bool

	// Timeline bookkeeping. playbackOffset is the timeline position heard at
	// device time startClock; scheduledEnd is the device time at which the
	// last scheduled source finishes.
	nextScheduleIndex int
	playbackOffset    float64
	startClock        float64
	anchored          bool
	scheduledEnd      float64
	pendingOffset     float64 // applied to the first chunk of a run
	heldElapsed       float64 // elapsed time reached before a stall
	sources           []device.Source

	// MP3 export. seq gates pushes into enc in index order. encBroken stops
	// ingestion from restarting a failed encoder; an MP3 request retries.
	seq       *encoder.Sequencer
	enc       *encoder.Encoder
	encBroken bool
	mp3       []byte
	encoding  bool
}

func newSession(f audio.Format) *session {
	return &session{
		id:    uuid.NewString(),
		store: chunkstore.New(f),
	}
}

// open reports whether more chunks may still arrive.
func (s *session) open() bool {
	return s.streaming && !s.ended
}

func (s *session) stopSources() {
	for _, src := range s.sources {
		src.Stop()
	}
	s.sources = nil
}

// startRun positions the scheduler at pos and forgets the previous timeline
// anchor.
func (s *session) startRun(pos chunkstore.Position, offset float64) {
	s.stopSources()
	s.nextScheduleIndex = pos.Index
	s.pendingOffset = pos.Offset
	s.playbackOffset = offset
	s.anchored = false
	s.scheduledEnd = 0
	s.heldElapsed = 0
}

// closeEncoder terminates the background encoder without waiting.
func (s *session) closeEncoder() {
	if s.enc != nil {
		s.enc.Close()
	}
	s.enc = nil
	s.seq = nil
}

func (s *session) teardown() {
	s.stopSources()
	s.closeEncoder()
	s.mp3 = nil
	s.encoding = false
}

// prefixDuration sums decoded audio before index end.
func (s *session) prefixDuration(end int) float64 {
	total := 0.0
	for i := 0; i < end; i++ {
		if c, _ := s.store.At(i); c != nil {
			total += c.Duration()
		}
	}
	return total
}

const epsilon = 1e-6

// resumePoint maps a timeline offset back to a schedulable position. An
// offset at the end of the arrived audio resumes at the first pending index
// while chunks may still come; an offset at the end of a complete clip
// restarts from the top.
func (s *session) resumePoint(offset float64) (chunkstore.Position, float64) {
	if offset <= 0 {
		return chunkstore.Position{}, 0
	}
	if pos, err := s.store.Locate(offset); err == nil {
		return pos, offset
	}
	end := s.store.ContiguousEnd(0)
	prefix := s.prefixDuration(end)
	if (end < s.store.Span() || s.open()) && math.Abs(offset-prefix) < epsilon {
		return chunkstore.Position{Index: end}, prefix
	}
	return chunkstore.Position{}, 0
}
