package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/narrator/internal/audio"
)

type source struct {
	buf         *audio.Buffer
	startFrame  int64 // device frame at which offsetFrame plays
	offsetFrame int
	stopped     atomic.Bool
}

func (s *source) Stop() {
	s.stopped.Store(true)
}

// Realtime mixes scheduled buffers into PCM frames at real-time rate. Its
// clock counts rendered samples, so scheduling is sample-accurate.
type Realtime struct {
	format  audio.Format
	frameCh chan []int16
	log     zerolog.Logger

	mu        sync.Mutex
	rendered  int64 // frames per channel
	running   bool
	suspended bool
	sources   []*source
	dropped   int
}

// NewRealtime creates a suspended device rendering in format f.
func NewRealtime(f audio.Format, log zerolog.Logger) *Realtime {
	return &Realtime{
		format:    f,
		frameCh:   make(chan []int16, 100),
		log:       log,
		suspended: true,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (d *Realtime) Frames() <-chan []int16 {
	return d.frameCh
}

// Format returns the PCM format frames are rendered in.
func (d *Realtime) Format() audio.Format {
	return d.format
}

func (d *Realtime) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.rendered) / float64(d.format.SampleRate)
}

func (d *Realtime) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return fmt.Errorf("%w: render loop not running", audio.ErrPlaybackBlocked)
	}
	d.suspended = false
	return nil
}

func (d *Realtime) Suspend() error {
	d.mu.Lock()
	d.suspended = true
	d.mu.Unlock()
	return nil
}

func (d *Realtime) Schedule(buf *audio.Buffer, at, offset float64) (Source, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("device: empty buffer")
	}
	if buf.SampleRate != d.format.SampleRate {
		return nil, fmt.Errorf("device: buffer rate %d, device rate %d", buf.SampleRate, d.format.SampleRate)
	}
	rate := float64(d.format.SampleRate)
	s := &source{
		buf:         buf,
		startFrame:  int64(math.Round(at * rate)),
		offsetFrame: int(math.Round(offset * rate)),
	}

	d.mu.Lock()
	d.sources = append(d.sources, s)
	d.mu.Unlock()
	return s, nil
}

// Active returns the number of sources still pending or playing.
func (d *Realtime) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sources {
		if !s.stopped.Load() {
			n++
		}
	}
	return n
}

// Run renders frames until ctx is cancelled. Blocks.
func (d *Realtime) Run(ctx context.Context) {
	defer close(d.frameCh)

	d.setRunning(true)
	defer d.setRunning(false)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	d.log.Info().Str("format", d.format.String()).Msg("audio device running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, ok := d.render()
		if !ok {
			continue
		}
		select {
		case d.frameCh <- frame:
		case <-ctx.Done():
			return
		default:
			// no consumer keeping up; the clock keeps moving regardless
			d.mu.Lock()
			d.dropped++
			if d.dropped%250 == 1 {
				d.log.Debug().Int("dropped", d.dropped).Msg("frame consumer behind")
			}
			d.mu.Unlock()
		}
	}
}

func (d *Realtime) setRunning(v bool) {
	d.mu.Lock()
	d.running = v
	if !v {
		d.suspended = true
	}
	d.mu.Unlock()
}

// render mixes one frame and advances the clock. It reports false while
// suspended.
func (d *Realtime) render() ([]int16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		return nil, false
	}

	n := d.format.FrameSize()
	ch := d.format.Channels
	mix := make([]float32, n*ch)
	start := d.rendered
	end := start + int64(n)

	live := d.sources[:0]
	for _, s := range d.sources {
		if s.stopped.Load() {
			continue
		}
		frames := s.buf.Frames()
		for i := 0; i < n; i++ {
			f := start + int64(i)
			if f < s.startFrame {
				continue
			}
			k := s.offsetFrame + int(f-s.startFrame)
			if k >= frames {
				break
			}
			for c := 0; c < ch; c++ {
				sc := min(c, s.buf.Channels()-1)
				mix[i*ch+c] += s.buf.Data[sc][k]
			}
		}
		if end < s.startFrame || s.offsetFrame+int(end-s.startFrame) < frames {
			live = append(live, s)
		} else {
			s.stopped.Store(true)
		}
	}
	for i := len(live); i < len(d.sources); i++ {
		d.sources[i] = nil
	}
	d.sources = live
	d.rendered = end

	out := make([]int16, len(mix))
	for i, v := range mix {
		out[i] = audio.FloatToPCM16(v)
	}
	return out, true
}
