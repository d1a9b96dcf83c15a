package render

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameSource delivers frame callbacks, like requestAnimationFrame.
// RequestFrame schedules fn once at the next frame boundary and must not
// call it synchronously.
type FrameSource interface {
	RequestFrame(fn func(frame uint64))
}

// TickerFrames is a FrameSource aligned to a fixed frame grid.
type TickerFrames struct {
	interval time.Duration
	start    time.Time
}

// NewTickerFrames returns a frame source running at rate frames per
// second. A non-positive rate defaults to 60.
func NewTickerFrames(rate int) *TickerFrames {
	if rate <= 0 {
		rate = 60
	}
	return &TickerFrames{
		interval: time.Second / time.Duration(rate),
		start:    time.Now(),
	}
}

func (t *TickerFrames) RequestFrame(fn func(frame uint64)) {
	elapsed := time.Since(t.start)
	next := (elapsed/t.interval + 1) * t.interval
	frame := uint64(next / t.interval)
	time.AfterFunc(next-elapsed, func() { fn(frame) })
}

// Stats counts scheduler activity.
type Stats struct {
	Requests uint64 `json:"requests"`
	Frames   uint64 `json:"frames"`
	Failures uint64 `json:"failures"`
}

// Scheduler coalesces render requests into at most one redraw per frame.
// With no pending requests it schedules nothing.
type Scheduler struct {
	frames FrameSource
	draw   func() error
	logger *slog.Logger

	mu          sync.Mutex
	requested   bool
	outstanding bool
	drawing     bool
	drawn       bool
	lastFrame   uint64
	closed      bool
	stats       Stats
}

// NewScheduler creates a scheduler that calls draw on frames from frames.
func NewScheduler(frames FrameSource, draw func() error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		frames: frames,
		draw:   draw,
		logger: logger,
	}
}

// RequestRender marks the view dirty. It may be called any number of times
// per frame.
func (s *Scheduler) RequestRender() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stats.Requests++
	s.requested = true
	schedule := !s.outstanding && !s.drawing
	if schedule {
		s.outstanding = true
	}
	s.mu.Unlock()

	if schedule {
		s.frames.RequestFrame(s.onFrame)
	}
}

func (s *Scheduler) onFrame(frame uint64) {
	s.mu.Lock()
	s.outstanding = false
	if s.closed || !s.requested {
		s.mu.Unlock()
		return
	}
	if s.drawn && frame <= s.lastFrame {
		// Already drew this frame; wait for the next one.
		s.outstanding = true
		s.mu.Unlock()
		s.frames.RequestFrame(s.onFrame)
		return
	}
	s.requested = false
	s.drawing = true
	s.drawn = true
	s.lastFrame = frame
	s.stats.Frames++
	s.mu.Unlock()

	err := s.runDraw()

	s.mu.Lock()
	s.drawing = false
	if err != nil {
		s.stats.Failures++
	}
	again := s.requested && !s.closed && !s.outstanding
	if again {
		s.outstanding = true
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("render: draw failed", "frame", frame, "error", err)
	}
	if again {
		s.frames.RequestFrame(s.onFrame)
	}
}

func (s *Scheduler) runDraw() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw panicked: %v", r)
		}
	}()
	return s.draw()
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending reports whether a redraw is waiting for a frame.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Close stops scheduling. A frame already requested fires as a no-op.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.requested = false
	s.mu.Unlock()
}

// ManualFrames is a FrameSource that only delivers frames on Advance. It
// drives headless sessions and tests.
type ManualFrames struct {
	mu      sync.Mutex
	frame   uint64
	pending []func(uint64)
}

func (m *ManualFrames) RequestFrame(fn func(frame uint64)) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Advance moves to the next frame and runs the callbacks requested before
// it. It returns how many ran.
func (m *ManualFrames) Advance() int {
	m.mu.Lock()
	m.frame++
	frame := m.frame
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range pending {
		fn(frame)
	}
	return len(pending)
}

// Waiting returns the number of callbacks queued for the next frame.
func (m *ManualFrames) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
