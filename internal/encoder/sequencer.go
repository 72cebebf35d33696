package encoder

// Sequencer releases indexed payloads in strict index order. Early arrivals
// are held until every lower index has been offered.
type Sequencer struct {
	next    int
	pending map[int]held
}

type held struct {
	pcm    []byte
	absent bool
}

// NewSequencer returns a sequencer expecting index 0 first.
func NewSequencer() *Sequencer {
	return &Sequencer{pending: make(map[int]held)}
}

// Offer records the payload for index and returns every payload that is now
// releasable, in order. A nil pcm marks the index absent: it advances the
// cursor without releasing anything. Stale or repeated indices are ignored.
func (s *Sequencer) Offer(index int, pcm []byte) [][]byte {
	if index < s.next {
		return nil
	}
	if _, dup := s.pending[index]; dup {
		return nil
	}
	s.pending[index] = held{pcm: pcm, absent: pcm == nil}

	var out [][]byte
	for {
		h, ok := s.pending[s.next]
		if !ok {
			return out
		}
		delete(s.pending, s.next)
		s.next++
		if !h.absent {
			out = append(out, h.pcm)
		}
	}
}

// Next returns the lowest index not yet released.
func (s *Sequencer) Next() int {
	return s.next
}

// Pending returns how many early payloads are being held.
func (s *Sequencer) Pending() int {
	return len(s.pending)
}
