// Package encoder runs MP3 compression on its own goroutine so that
// CPU-heavy encoding never competes with interactive playback.
//
// An Encoder accepts PCM pushes in stream order and resolves a single future
// on Finalize. Pushes are queued without blocking the caller.
package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/narrator/internal/audio"
)

// Params configures one encoding run.
type Params struct {
	SampleRate  int
	Channels    int
	BitrateKbps int
}

// Routine is one incremental MP3 encoding run. It is driven from a single
// goroutine.
type Routine interface {
	// Encode consumes interleaved PCM16 and returns any output produced so far.
	Encode(pcm []byte) ([]byte, error)
	// Flush drains internal state and returns the remaining output.
	Flush() ([]byte, error)
	Close() error
}

// Factory starts a routine. ctx is cancelled when the encoder is closed.
type Factory func(ctx context.Context, p Params) (Routine, error)

type requestKind int

const (
	pushRequest requestKind = iota
	finalizeRequest
)

type request struct {
	kind requestKind
	pcm  []byte
}

type future struct {
	once sync.Once
	done chan struct{}
	data []byte
	err  error
}

func (f *future) resolve(data []byte, err error) {
	f.once.Do(func() {
		f.data = data
		f.err = err
		close(f.done)
	})
}

func (f *future) resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Encoder owns one background encoding goroutine.
type Encoder struct {
	params Params
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	result *future

	mu     sync.Mutex
	queue  []request
	wake   chan struct{}
	sealed bool
	pushed int
}

// Params returns the parameters the encoder was started with.
func (e *Encoder) Params() Params {
	return e.params
}

// Start launches the routine from factory on a new goroutine.
func Start(factory Factory, p Params, log zerolog.Logger) (*Encoder, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r, err := factory(ctx, p)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start: %v", audio.ErrEncode, err)
	}

	e := &Encoder{
		params: p,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
		result: &future{done: make(chan struct{})},
		wake:   make(chan struct{}, 1),
	}
	go e.run(r)
	return e, nil
}

// Push queues PCM for encoding. The bytes are copied; the caller keeps
// ownership of pcm.
func (e *Encoder) Push(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sealed {
		return fmt.Errorf("%w: push after finalize", audio.ErrEncode)
	}
	if e.ctx.Err() != nil || e.result.resolved() {
		return fmt.Errorf("%w: encoder closed", audio.ErrEncode)
	}
	owned := append([]byte(nil), pcm...)
	e.queue = append(e.queue, request{kind: pushRequest, pcm: owned})
	e.pushed++
	e.signal()
	return nil
}

// Finalize flushes the routine and returns the complete MP3. It waits until
// the goroutine finishes or ctx is done. Later calls return the cached result.
func (e *Encoder) Finalize(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	if !e.sealed {
		e.sealed = true
		e.queue = append(e.queue, request{kind: finalizeRequest})
		e.signal()
	}
	f := e.result
	e.mu.Unlock()

	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return f.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", audio.ErrEncode, ctx.Err())
	}
}

// Close terminates the goroutine, discarding unflushed output. It does not
// wait; use Done to observe exit.
func (e *Encoder) Close() {
	e.cancel()
}

// Done is closed once the background goroutine has exited.
func (e *Encoder) Done() <-chan struct{} {
	return e.exited
}

// Finalizing reports whether Finalize has been requested.
func (e *Encoder) Finalizing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sealed
}

// Pushed returns the number of PCM pushes accepted.
func (e *Encoder) Pushed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pushed
}

// signal wakes the goroutine. Must be called with mu held.
func (e *Encoder) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Encoder) next() (request, bool) {
	for {
		if e.ctx.Err() != nil {
			return request{}, false
		}
		e.mu.Lock()
		if len(e.queue) > 0 {
			req := e.queue[0]
			e.queue[0] = request{}
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return req, true
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.ctx.Done():
			return request{}, false
		}
	}
}

func (e *Encoder) run(r Routine) {
	defer close(e.exited)
	defer r.Close()

	started := time.Now()
	var parts [][]byte
	size := 0

	for {
		req, ok := e.next()
		if !ok {
			e.result.resolve(nil, fmt.Errorf("%w: encoder closed", audio.ErrEncode))
			e.log.Debug().Msg("encoder cancelled")
			return
		}

		switch req.kind {
		case pushRequest:
			out, err := r.Encode(req.pcm)
			if err != nil {
				e.fail(err)
				return
			}
			if len(out) > 0 {
				parts = append(parts, append([]byte(nil), out...))
				size += len(out)
			}

		case finalizeRequest:
			tail, err := r.Flush()
			if err != nil {
				e.fail(err)
				return
			}
			data := make([]byte, 0, size+len(tail))
			for _, p := range parts {
				data = append(data, p...)
			}
			data = append(data, tail...)
			e.result.resolve(data, nil)
			e.log.Info().
				Int("pushes", e.Pushed()).
				Int("mp3_bytes", len(data)).
				Dur("elapsed", time.Since(started)).
				Msg("mp3 finalized")
			return
		}
	}
}

func (e *Encoder) fail(err error) {
	e.log.Warn().Err(err).Msg("mp3 encoder failed")
	e.result.resolve(nil, fmt.Errorf("%w: %v", audio.ErrEncode, err))
}
