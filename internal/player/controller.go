// Package player is the narration playback engine: it ingests indexed PCM16
// chunks, schedules them gaplessly on an output device, and exports the
// session as WAV or MP3.
//
// All state lives in a Controller. Every public operation takes the
// controller's lock, so transitions are serialized; only MP3 finalization
// waits on background work, and it does so outside the lock.
package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/narrator/internal/audio"
	"github.com/satindergrewal/narrator/internal/device"
	"github.com/satindergrewal/narrator/internal/encoder"
	"github.com/satindergrewal/narrator/internal/metrics"
)

// Config holds engine parameters.
type Config struct {
	Format          audio.Format
	Lookahead       time.Duration // margin between "now" and the first scheduled start
	ScheduleAhead   time.Duration // how far ahead chunks are queued; 0 queues all
	TickInterval    time.Duration // position timer period; 0 disables the timer
	MP3Bitrate      int           // kbps
	FinalizeTimeout time.Duration
	Encoder         encoder.Factory
	Metrics         *metrics.Recorder
}

// DefaultConfig returns the narration defaults: 24kHz mono, 128 kbps MP3.
func DefaultConfig() Config {
	return Config{
		Format:          audio.Narration,
		Lookahead:       50 * time.Millisecond,
		ScheduleAhead:   500 * time.Millisecond,
		TickInterval:    100 * time.Millisecond,
		MP3Bitrate:      128,
		FinalizeTimeout: 30 * time.Second,
		Encoder:         encoder.FFmpeg("ffmpeg"),
	}
}

// Controller is the transport state machine that owns the current session.
type Controller struct {
	dev device.Device
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	status    Status
	sess      *session
	lastError string
	timerStop chan struct{}
	observer  func(Snapshot)
}

// New creates a controller playing through dev.
func New(dev device.Device, cfg Config, log zerolog.Logger) (*Controller, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Encoder == nil {
		cfg.Encoder = encoder.FFmpeg("ffmpeg")
	}
	if cfg.MP3Bitrate <= 0 {
		cfg.MP3Bitrate = 128
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 30 * time.Second
	}
	return &Controller{dev: dev, cfg: cfg, log: log}, nil
}

// SetObserver registers fn to receive a snapshot after every operation. Pass
// nil to remove it. fn runs outside the controller lock.
func (c *Controller) SetObserver(fn func(Snapshot)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Status returns the transport state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the current session id, or "" when nothing is loaded.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		Status:      c.status,
		CurrentTime: c.position(),
		LastError:   c.lastError,
	}
	if s := c.sess; s != nil {
		snap.SessionID = s.id
		snap.Duration = s.store.TotalDuration()
		snap.HasAudioData = s.store.Len() > 0
		snap.Encoding = s.encoding
		snap.MP3Ready = s.mp3 != nil
		snap.ChunkCount = s.store.Len()
		snap.NextScheduleIndex = s.nextScheduleIndex
	}
	return snap
}

// do runs fn under the lock and then notifies the observer.
func (c *Controller) do(fn func() error) error {
	c.mu.Lock()
	err := fn()
	snap := c.snapshot()
	obs := c.observer
	c.mu.Unlock()

	if obs != nil {
		obs(snap)
	}
	return err
}

func (c *Controller) notify() {
	c.do(func() error { return nil })
}

func (c *Controller) setStatus(to Status) {
	if c.status == to {
		return
	}
	ev := c.log.Info().Stringer("from", c.status).Stringer("to", to)
	if c.sess != nil {
		ev = ev.Str("session", c.sess.id)
	}
	ev.Msg("transition")
	c.status = to
	c.cfg.Metrics.Transition(to.String())
}

func (c *Controller) record(err error) {
	c.lastError = err.Error()
	c.log.Warn().Err(err).Msg("narration error")
}

func (c *Controller) invalid(op string) error {
	err := fmt.Errorf("%w: %s while %s", audio.ErrInvalidState, op, c.status)
	c.record(err)
	return err
}

// failPlayback moves to Error after a device failure during playback.
func (c *Controller) failPlayback(err error) error {
	c.record(err)
	if c.sess != nil {
		c.sess.stopSources()
	}
	c.stopTimer()
	c.dev.Suspend()
	c.setStatus(Error)
	return err
}

// Load replaces the current session with payloads, one base64 PCM16 chunk per
// index. An empty payload marks its index absent. The controller is Ready if
// any chunk decoded and Error if none did.
func (c *Controller) Load(payloads []string) error {
	return c.load(payloads, false)
}

func (c *Controller) load(payloads []string, streaming bool) error {
	return c.do(func() error {
		c.unload()
		c.sess = newSession(c.cfg.Format)
		c.sess.streaming = streaming
		c.setStatus(Loading)

		var firstErr error
		for i, p := range payloads {
			var err error
			if p == "" {
				err = c.markAbsent(i)
			} else {
				err = c.queue(i, p)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if len(payloads) > 0 && c.sess.store.Len() == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: clip contains no audio", audio.ErrAudioDecode)
				c.record(firstErr)
			}
			c.setStatus(Error)
			return firstErr
		}
		return nil
	})
}

// LoadStream opens an empty session in Loading for chunk-by-chunk delivery.
// Playback that catches up with the arrived audio waits for the next chunk
// until EndStream is called.
func (c *Controller) LoadStream() error {
	return c.load(nil, true)
}

// EndStream marks the streaming session complete: no chunks beyond those
// already announced will arrive, so playback finishes at the end of the
// arrived audio. It is a no-op for sessions loaded in one piece.
func (c *Controller) EndStream() error {
	return c.do(func() error {
		if c.sess == nil {
			return c.invalid("end stream")
		}
		if c.sess.open() {
			c.sess.ended = true
			c.log.Info().Str("session", c.sess.id).Int("chunks", c.sess.store.Len()).Msg("stream ended")
		}
		return nil
	})
}

// QueueChunk adds the base64 PCM16 payload at index. A chunk that fails to
// decode is recorded absent so later chunks still play; the error is
// returned and kept as the last error.
func (c *Controller) QueueChunk(index int, payload string) error {
	return c.do(func() error {
		if err := c.ingestable("queue chunk"); err != nil {
			return err
		}
		return c.queue(index, payload)
	})
}

// MarkAbsent records that index will never carry audio.
func (c *Controller) MarkAbsent(index int) error {
	return c.do(func() error {
		if err := c.ingestable("mark absent"); err != nil {
			return err
		}
		return c.markAbsent(index)
	})
}

func (c *Controller) ingestable(op string) error {
	switch c.status {
	case Loading, Ready, Playing, Paused:
		return nil
	}
	return c.invalid(op)
}

func (c *Controller) queue(index int, payload string) error {
	s := c.sess
	raw, err := audio.DecodeBase64(payload)
	if err != nil {
		if aerr := s.store.MarkAbsent(index); aerr != nil {
			c.record(aerr)
			return aerr
		}
		err = fmt.Errorf("chunk %d: %w", index, err)
		c.record(err)
		c.cfg.Metrics.ChunkIngested("decode_error")
		if ferr := c.arrived(index, nil); ferr != nil {
			return ferr
		}
		return err
	}

	chunk, err := s.store.Insert(index, raw)
	if err != nil {
		c.record(err)
		if !errors.Is(err, audio.ErrAudioDecode) {
			return err
		}
		c.cfg.Metrics.ChunkIngested("audio_decode_error")
		if ferr := c.arrived(index, nil); ferr != nil {
			return ferr
		}
		return err
	}

	c.log.Debug().
		Str("session", s.id).
		Int("index", index).
		Int("bytes", len(raw)).
		Float64("duration", chunk.Duration()).
		Msg("chunk queued")
	c.cfg.Metrics.ChunkIngested("ok")
	if c.status == Loading {
		c.setStatus(Ready)
	}
	return c.arrived(index, raw)
}

func (c *Controller) markAbsent(index int) error {
	if err := c.sess.store.MarkAbsent(index); err != nil {
		c.record(err)
		return err
	}
	c.log.Debug().Str("session", c.sess.id).Int("index", index).Msg("chunk absent")
	c.cfg.Metrics.ChunkIngested("absent")
	return c.arrived(index, nil)
}

// arrived feeds the encoder and the scheduler after index is consumed. A nil
// raw marks the index absent. The error is a device failure that ended
// playback.
func (c *Controller) arrived(index int, raw []byte) error {
	c.feedEncoder(index, raw)
	if c.status == Playing {
		if err := c.schedule(); err != nil {
			return c.failPlayback(err)
		}
	}
	return nil
}

// feedEncoder pushes newly releasable PCM to the background encoder in index
// order. An encoder that already began finalizing cannot take more input, so
// it is discarded and a fresh one replays every arrived chunk.
func (c *Controller) feedEncoder(index int, raw []byte) {
	s := c.sess
	s.mp3 = nil
	if s.enc != nil && s.enc.Finalizing() {
		c.log.Debug().Str("session", s.id).Int("index", index).Msg("chunk after finalize, restarting encoder")
		s.closeEncoder()
	}
	if s.enc == nil {
		if s.encBroken {
			return
		}
		if err := c.startEncoder(); err != nil {
			c.log.Warn().Err(err).Str("session", s.id).Msg("mp3 encoder unavailable")
			s.encBroken = true
		}
		return
	}
	for _, pcm := range s.seq.Offer(index, raw) {
		if err := s.enc.Push(pcm); err != nil {
			c.log.Warn().Err(err).Str("session", s.id).Msg("mp3 encoder dropped")
			s.closeEncoder()
			s.encBroken = true
			return
		}
	}
}

// startEncoder launches a background encoder and replays the arrived
// prefix into it.
func (c *Controller) startEncoder() error {
	s := c.sess
	enc, err := encoder.Start(c.cfg.Encoder, encoder.Params{
		SampleRate:  c.cfg.Format.SampleRate,
		Channels:    c.cfg.Format.Channels,
		BitrateKbps: c.cfg.MP3Bitrate,
	}, c.log.With().Str("component", "encoder").Str("session", s.id).Logger())
	if err != nil {
		return err
	}
	s.enc = enc
	s.seq = encoder.NewSequencer()
	s.encBroken = false

	for i := 0; i < s.store.Span(); i++ {
		chunk, arrived := s.store.At(i)
		if !arrived {
			continue
		}
		var raw []byte
		if chunk != nil {
			raw = chunk.Raw
		}
		for _, pcm := range s.seq.Offer(i, raw) {
			if err := enc.Push(pcm); err != nil {
				s.closeEncoder()
				return err
			}
		}
	}
	return nil
}

// Play starts or resumes playback from the current position.
func (c *Controller) Play() error {
	return c.do(func() error {
		if c.status != Ready && c.status != Paused {
			return c.invalid("play")
		}
		if err := c.dev.Resume(); err != nil {
			if !errors.Is(err, audio.ErrPlaybackBlocked) {
				err = fmt.Errorf("%w: %v", audio.ErrPlaybackBlocked, err)
			}
			c.record(err)
			return err
		}

		s := c.sess
		pos, offset := s.resumePoint(s.playbackOffset)
		s.startRun(pos, offset)
		c.setStatus(Playing)
		if err := c.schedule(); err != nil {
			return c.failPlayback(err)
		}
		c.startTimer()
		return nil
	})
}

// Pause freezes the position and silences the device. Pausing while not
// playing is a no-op.
func (c *Controller) Pause() error {
	return c.do(func() error {
		if c.status != Playing {
			return nil
		}
		s := c.sess
		s.playbackOffset = c.position()
		s.stopSources()
		s.anchored = false
		c.stopTimer()
		c.setStatus(Paused)
		if err := c.dev.Suspend(); err != nil {
			c.record(err)
		}
		return nil
	})
}

// Stop silences playback and rewinds to the start. It also recovers from a
// device failure, since the session's chunks are still intact. It has no
// effect before any audio has arrived.
func (c *Controller) Stop() error {
	return c.do(func() error {
		switch c.status {
		case Ready, Playing, Paused:
			c.rewind()
		case Error:
			if c.sess != nil && c.sess.store.Len() > 0 {
				c.rewind()
			}
		}
		return nil
	})
}

// rewind returns to Ready at position zero. Must be called with mu held.
func (c *Controller) rewind() {
	c.stopTimer()
	c.sess.startRun(c.sess.resumePoint(0))
	if c.status == Playing {
		if err := c.dev.Suspend(); err != nil {
			c.record(err)
		}
	}
	c.setStatus(Ready)
}

// Unload tears down the session, cancelling any in-flight MP3 encode.
func (c *Controller) Unload() error {
	return c.do(func() error {
		c.unload()
		return nil
	})
}

func (c *Controller) unload() {
	c.stopTimer()
	if c.sess != nil {
		c.log.Info().Str("session", c.sess.id).Msg("session unloaded")
		c.sess.teardown()
		c.sess = nil
	}
	if c.status == Playing {
		c.dev.Suspend()
	}
	c.lastError = ""
	c.setStatus(Empty)
}

// Close unloads the session and stops the timer.
func (c *Controller) Close() error {
	return c.Unload()
}
