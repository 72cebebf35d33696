package chunkstore

import (
	"errors"
	"math"
	"testing"

	"github.com/satindergrewal/narrator/internal/audio"
)

// silence returns raw mono PCM16 of the given length at 24kHz.
func silence(seconds float64) []byte {
	return make([]byte, int(seconds*24000)*2)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInsertOutOfOrder(t *testing.T) {
	s := New(audio.Narration)
	for _, i := range []int{2, 0, 1} {
		if _, err := s.Insert(i, silence(0.5)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	ordered := s.Ordered()
	if len(ordered) != 3 {
		t.Fatalf("Ordered len = %d, want 3", len(ordered))
	}
	for i, c := range ordered {
		if c.Index != i {
			t.Errorf("Ordered[%d].Index = %d", i, c.Index)
		}
	}
}

func TestDurationAdditivity(t *testing.T) {
	durations := []float64{0.25, 1.0, 0.125, 2.5}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}}
	for _, order := range orders {
		s := New(audio.Narration)
		for _, i := range order {
			if _, err := s.Insert(i, silence(durations[i])); err != nil {
				t.Fatal(err)
			}
		}
		if !near(s.TotalDuration(), 3.875) {
			t.Errorf("order %v: TotalDuration = %v, want 3.875", order, s.TotalDuration())
		}
	}
}

func TestContiguousEnd(t *testing.T) {
	s := New(audio.Narration)
	if got := s.ContiguousEnd(0); got != 0 {
		t.Errorf("empty store ContiguousEnd = %d, want 0", got)
	}
	s.Insert(0, silence(0.1))
	s.Insert(2, silence(0.1))
	if got := s.ContiguousEnd(0); got != 1 {
		t.Errorf("gap at 1: ContiguousEnd = %d, want 1", got)
	}
	s.MarkAbsent(1)
	if got := s.ContiguousEnd(0); got != 3 {
		t.Errorf("gap filled by absent: ContiguousEnd = %d, want 3", got)
	}
	if got := s.ContiguousEnd(2); got != 3 {
		t.Errorf("ContiguousEnd(2) = %d, want 3", got)
	}
}

func TestInsertMisalignedMarksAbsent(t *testing.T) {
	s := New(audio.Narration)
	_, err := s.Insert(0, []byte{1, 2, 3})
	if !errors.Is(err, audio.ErrAudioDecode) {
		t.Fatalf("err = %v, want ErrAudioDecode", err)
	}
	c, arrived := s.At(0)
	if !arrived || c != nil {
		t.Errorf("At(0) = %v, %v; want nil placeholder", c, arrived)
	}
	if s.Len() != 0 || s.Arrived() != 1 {
		t.Errorf("Len=%d Arrived=%d, want 0, 1", s.Len(), s.Arrived())
	}
}

func TestDuplicateIndex(t *testing.T) {
	s := New(audio.Narration)
	s.Insert(0, silence(0.1))
	if _, err := s.Insert(0, silence(0.1)); !errors.Is(err, audio.ErrDuplicateChunk) {
		t.Errorf("duplicate Insert err = %v", err)
	}
	if err := s.MarkAbsent(0); !errors.Is(err, audio.ErrDuplicateChunk) {
		t.Errorf("duplicate MarkAbsent err = %v", err)
	}
	if _, err := s.Insert(-1, silence(0.1)); err == nil {
		t.Error("negative index accepted")
	}
}

func TestRawChunksSkipAbsent(t *testing.T) {
	s := New(audio.Narration)
	a := []byte{1, 0}
	b := []byte{2, 0}
	s.Insert(2, b)
	s.MarkAbsent(1)
	s.Insert(0, a)
	raw := s.RawChunks()
	if len(raw) != 2 || raw[0][0] != 1 || raw[1][0] != 2 {
		t.Errorf("RawChunks = %v", raw)
	}
}

func TestLocate(t *testing.T) {
	s := New(audio.Narration)
	for i, d := range []float64{2.0, 3.0, 1.5} {
		if _, err := s.Insert(i, silence(d)); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		target float64
		index  int
		offset float64
	}{
		{0, 0, 0},
		{1.99, 0, 1.99},
		{2.0, 1, 0},
		{3.2, 1, 1.2},
		{4.2, 1, 2.2},
		{6.0, 2, 1.0},
	}
	for _, tt := range tests {
		pos, err := s.Locate(tt.target)
		if err != nil {
			t.Errorf("Locate(%v): %v", tt.target, err)
			continue
		}
		if pos.Index != tt.index || math.Abs(pos.Offset-tt.offset) > 1e-9 {
			t.Errorf("Locate(%v) = %+v, want {%d %v}", tt.target, pos, tt.index, tt.offset)
		}
	}

	for _, target := range []float64{6.5, 6.6, -0.1} {
		if _, err := s.Locate(target); !errors.Is(err, audio.ErrSeekOutOfRange) {
			t.Errorf("Locate(%v) err = %v, want ErrSeekOutOfRange", target, err)
		}
	}
}

func TestLocateSkipsAbsentAndStopsAtGap(t *testing.T) {
	s := New(audio.Narration)
	s.Insert(0, silence(1))
	s.MarkAbsent(1)
	s.Insert(2, silence(1))
	s.Insert(4, silence(1))

	pos, err := s.Locate(1.5)
	if err != nil || pos.Index != 2 || !near(pos.Offset, 0.5) {
		t.Errorf("Locate(1.5) = %+v, %v; want chunk 2 at 0.5", pos, err)
	}
	if _, err := s.Locate(2.5); !errors.Is(err, audio.ErrSeekOutOfRange) {
		t.Errorf("Locate past pending index err = %v", err)
	}
}
