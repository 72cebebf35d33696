package player

import (
	"fmt"
	"math"
	"time"
)

// schedule queues every contiguous arrived chunk from nextScheduleIndex onto
// the device, back to back. It is re-entrant: each index is scheduled at most
// once per run. Must be called with mu held.
func (c *Controller) schedule() error {
	s := c.sess
	if s == nil || c.status != Playing {
		return nil
	}

	now := c.dev.Now()
	lookahead := c.cfg.Lookahead.Seconds()
	ahead := c.cfg.ScheduleAhead.Seconds()
	pointer := math.Max(s.scheduledEnd, now+lookahead)

	for {
		if ahead > 0 && s.anchored && pointer >= now+ahead {
			return nil
		}
		chunk, arrived := s.store.At(s.nextScheduleIndex)
		if !arrived {
			return nil
		}
		offset := s.pendingOffset
		s.pendingOffset = 0
		if chunk == nil || offset >= chunk.Duration() {
			s.nextScheduleIndex++
			continue
		}

		src, err := c.dev.Schedule(chunk.Decoded, pointer, offset)
		if err != nil {
			return fmt.Errorf("schedule chunk %d: %w", chunk.Index, err)
		}
		s.sources = append(s.sources, src)

		switch {
		case !s.anchored:
			s.startClock = pointer
			s.anchored = true
		case pointer > s.scheduledEnd:
			// the timeline stalled on a gap; audio resumes later than planned
			s.heldElapsed = s.scheduledEnd - s.startClock
			s.startClock += pointer - s.scheduledEnd
		}
		pointer += chunk.Duration() - offset
		s.scheduledEnd = pointer
		s.nextScheduleIndex++

		c.log.Debug().
			Str("session", s.id).
			Int("index", chunk.Index).
			Float64("at", pointer-(chunk.Duration()-offset)).
			Float64("offset", offset).
			Msg("chunk scheduled")
	}
}

// position derives the current timeline position. Must be called with mu held.
func (c *Controller) position() float64 {
	s := c.sess
	if s == nil {
		return 0
	}
	pos := s.playbackOffset
	if c.status == Playing && s.anchored {
		elapsed := c.dev.Now() - s.startClock
		if elapsed < s.heldElapsed {
			elapsed = s.heldElapsed
		}
		if elapsed < 0 {
			elapsed = 0
		}
		if span := s.scheduledEnd - s.startClock; elapsed > span {
			elapsed = span
		}
		pos += elapsed
	}
	if total := s.store.TotalDuration(); pos > total {
		pos = total
	}
	return pos
}

// Tick advances the scheduler and position timer. The controller's own timer
// calls it every TickInterval; with the timer disabled, callers drive it.
func (c *Controller) Tick() {
	c.do(func() error {
		if c.status != Playing {
			return nil
		}
		if err := c.schedule(); err != nil {
			return c.failPlayback(err)
		}
		s := c.sess
		total := s.store.TotalDuration()
		if total <= 0 || c.position() < total-epsilon {
			return nil
		}
		if s.open() {
			// caught up with the producer; the next chunk resumes the timeline
			return nil
		}
		c.log.Info().Str("session", s.id).Float64("duration", total).Msg("playback finished")
		c.rewind()
		return nil
	})
}

// startTimer launches the position timer. Must be called with mu held.
func (c *Controller) startTimer() {
	if c.cfg.TickInterval <= 0 || c.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	c.timerStop = stop
	interval := c.cfg.TickInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// stopTimer signals the timer goroutine without waiting for it. Must be
// called with mu held.
func (c *Controller) stopTimer() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}
