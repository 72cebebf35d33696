// Package devicetest provides a manually clocked device for tests.
package devicetest

import (
	"errors"
	"sync"

	"github.com/satindergrewal/narrator/internal/audio"
	"github.com/satindergrewal/narrator/internal/device"
)

var _ device.Device = (*Fake)(nil)

// Scheduled records one Schedule call.
type Scheduled struct {
	Buffer *audio.Buffer
	At     float64
	Offset float64

	f       *Fake
	stopped bool
}

func (s *Scheduled) Stop() {
	s.f.mu.Lock()
	s.stopped = true
	s.f.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (s *Scheduled) Stopped() bool {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return s.stopped
}

// End returns the device time at which the source finishes.
func (s *Scheduled) End() float64 {
	return s.At + s.Buffer.Duration() - s.Offset
}

// Fake is a device whose clock only moves on Advance.
type Fake struct {
	mu          sync.Mutex
	now         float64
	suspended   bool
	resumeErr   error
	scheduleErr error
	resumes     int
	suspends    int
	scheduled   []*Scheduled
}

// New returns a running fake at time zero.
func New() *Fake {
	return &Fake{}
}

func (f *Fake) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward unless the device is suspended.
func (f *Fake) Advance(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.suspended {
		f.now += seconds
	}
}

func (f *Fake) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.suspended = false
	return nil
}

func (f *Fake) Suspend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
	f.suspended = true
	return nil
}

func (f *Fake) Schedule(buf *audio.Buffer, at, offset float64) (device.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	if buf == nil {
		return nil, errors.New("devicetest: nil buffer")
	}
	s := &Scheduled{Buffer: buf, At: at, Offset: offset, f: f}
	f.scheduled = append(f.scheduled, s)
	return s, nil
}

// BlockResume makes Resume fail with err until called again with nil.
func (f *Fake) BlockResume(err error) {
	f.mu.Lock()
	f.resumeErr = err
	f.mu.Unlock()
}

// FailSchedule makes Schedule fail with err until called again with nil.
func (f *Fake) FailSchedule(err error) {
	f.mu.Lock()
	f.scheduleErr = err
	f.mu.Unlock()
}

// Scheduled returns every source scheduled so far, in call order.
func (f *Fake) Scheduled() []*Scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Scheduled(nil), f.scheduled...)
}

// Active returns scheduled sources that have not been stopped.
func (f *Fake) Active() []*Scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Scheduled
	for _, s := range f.scheduled {
		if !s.stopped {
			out = append(out, s)
		}
	}
	return out
}

// Suspended reports whether the clock is frozen.
func (f *Fake) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

// Resumes returns how many times Resume was called.
func (f *Fake) Resumes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes
}

// Suspends returns how many times Suspend was called.
func (f *Fake) Suspends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspends
}
