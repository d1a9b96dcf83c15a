// Package autosave reconciles debounced, periodic and exit-triggered saves
// into a single-flight persistence pipeline.
//
// The coordinator is one state machine:
//
//	Idle ──edit──▶ PendingDebounce ──quiet period──▶ Saving ──done──▶ Idle
//	  └──────────── periodic tick (dirty, interval elapsed) ──▶ Saving
//
// Edits made while Saving are only recorded; when the save completes they
// re-arm the debounce for a follow-up save. Close waits for the in-flight
// save and then runs one final save if edits are still unsaved.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSaveFailed wraps every failure of the source or the saver.
	ErrSaveFailed = errors.New("save failed")
	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("autosave closed")
)

// Source returns the latest committed document bytes.
type Source func() ([]byte, error)

// Saver is the persistence collaborator.
type Saver interface {
	Save(ctx context.Context, docID string, data []byte) error
}

type State int

const (
	StateIdle State = iota
	StatePendingDebounce
	StateSaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingDebounce:
		return "pending"
	case StateSaving:
		return "saving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the save indicator shown to the user.
type Status struct {
	State       State     `json:"state"`
	Dirty       bool      `json:"dirty"`
	LastSaved   time.Time `json:"lastSaved"`
	LastAttempt time.Time `json:"lastAttempt"`
	LastError   string    `json:"lastError,omitempty"`
	Saves       int       `json:"saves"`
	Failures    int       `json:"failures"`
}

// Options tunes the coordinator.
type Options struct {
	// Debounce is the quiet period after the last edit. Default: 2s.
	Debounce time.Duration
	// Interval is the periodic safety-net period. Default: 30s.
	Interval time.Duration
	// SaveTimeout bounds a single persistence call. 0 means no timeout.
	SaveTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
	// OnStatus is called after every status change, outside any lock.
	OnStatus func(Status)
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// flight is one persistence call.
type flight struct {
	seq    uint64
	reason string
	done   chan struct{}
	err    error
}

// Coordinator schedules saves for one document. It is safe for concurrent
// use.
type Coordinator struct {
	docID  string
	source Source
	saver  Saver
	opts   Options

	mu          sync.Mutex
	state       State
	closing     bool
	editSeq     uint64
	savedSeq    uint64
	inflight    *flight
	closeDone   chan struct{}
	closeErr    error
	debounce    Timer
	debounceGen uint64
	periodic    Timer
	started     bool
	lastSuccess time.Time
	status      Status
}

// New creates a coordinator. Call Start to arm the periodic timer.
func New(docID string, source Source, saver Saver, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{
		docID:       docID,
		source:      source,
		saver:       saver,
		opts:        opts,
		lastSuccess: opts.Clock.Now(),
	}
}

// Start arms the periodic safety net.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closing || c.state == StateClosed {
		return
	}
	c.started = true
	c.armPeriodicLocked()
	c.opts.Logger.Info("autosave: started", "doc", c.docID, "debounce", c.opts.Debounce, "interval", c.opts.Interval)
}

// NotifyEdit records a committed edit and (re)arms the debounce timer.
func (c *Coordinator) NotifyEdit() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.editSeq++
	if !c.closing && c.state != StateSaving {
		c.armDebounceLocked()
		c.state = StatePendingDebounce
	}
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) armDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounceGen++
	gen := c.debounceGen
	c.debounce = c.opts.Clock.AfterFunc(c.opts.Debounce, func() { c.onDebounce(gen) })
}

func (c *Coordinator) stopDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.debounceGen++
}

func (c *Coordinator) onDebounce(gen uint64) {
	c.mu.Lock()
	if gen != c.debounceGen || c.closing || c.state != StatePendingDebounce {
		c.mu.Unlock()
		return
	}
	c.debounce = nil
	c.startLocked("debounce")
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) armPeriodicLocked() {
	c.periodic = c.opts.Clock.AfterFunc(c.opts.Interval, c.onPeriodic)
}

func (c *Coordinator) onPeriodic() {
	c.mu.Lock()
	if c.closing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.armPeriodicLocked()
	due := c.opts.Clock.Now().Sub(c.lastSuccess) >= c.opts.Interval
	if c.state == StateSaving || c.editSeq == c.savedSeq || !due {
		c.mu.Unlock()
		return
	}
	c.stopDebounceLocked()
	c.startLocked("interval")
	c.mu.Unlock()
	c.emit()
}

// startLocked moves to Saving and runs the persistence call on its own
// goroutine. The caller must hold c.mu and ensure nothing is in flight.
func (c *Coordinator) startLocked(reason string) *flight {
	f := &flight{seq: c.editSeq, reason: reason, done: make(chan struct{})}
	c.inflight = f
	c.state = StateSaving
	go c.run(f)
	return f
}

func (c *Coordinator) run(f *flight) {
	ctx := context.Background()
	if c.opts.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SaveTimeout)
		defer cancel()
	}

	start := c.opts.Clock.Now()
	n, err := c.attempt(ctx)
	f.err = err

	c.mu.Lock()
	now := c.opts.Clock.Now()
	c.status.LastAttempt = now
	if err == nil {
		c.savedSeq = max(c.savedSeq, f.seq)
		c.lastSuccess = now
		c.status.LastSaved = now
		c.status.LastError = ""
		c.status.Saves++
	} else {
		c.status.LastError = err.Error()
		c.status.Failures++
	}
	c.inflight = nil
	if c.state == StateSaving {
		c.state = StateIdle
	}
	// Edits that arrived during the save get their own follow-up.
	if !c.closing && c.editSeq > f.seq {
		c.armDebounceLocked()
		c.state = StatePendingDebounce
	}
	close(f.done)
	c.mu.Unlock()

	if err != nil {
		c.opts.Logger.Error("autosave: save failed", "doc", c.docID, "reason", f.reason, "error", err)
	} else {
		c.opts.Logger.Info("autosave: saved", "doc", c.docID, "reason", f.reason, "bytes", n, "duration", now.Sub(start))
	}
	c.emit()
}

// attempt reads the source and calls the saver. Panics are converted into
// errors.
func (c *Coordinator) attempt(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSaveFailed, r)
		}
	}()

	data, err := c.source()
	if err != nil {
		return 0, fmt.Errorf("%w: read document: %w", ErrSaveFailed, err)
	}
	if err := c.saver.Save(ctx, c.docID, data); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return len(data), nil
}

// Flush saves now if there are unsaved edits, waiting for any in-flight
// save first. It returns the result of the save it ran.
func (c *Coordinator) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return ErrClosed
		}
		if f := c.inflight; f != nil {
			c.mu.Unlock()
			if err := wait(ctx, f); err != nil {
				return err
			}
			continue
		}
		if c.editSeq == c.savedSeq {
			c.mu.Unlock()
			return nil
		}
		c.stopDebounceLocked()
		f := c.startLocked("flush")
		c.mu.Unlock()
		c.emit()

		if err := wait(ctx, f); err != nil {
			return err
		}
		return f.err
	}
}

// Close stops all triggers, waits for an in-flight save, then runs one
// final save if edits are unsaved. Afterwards the coordinator ignores
// every trigger. Concurrent calls share the first call's teardown and
// return its result.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if done := c.closeDone; done != nil {
		c.mu.Unlock()
		select {
		case <-done:
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.closeErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.closing = true
	c.closeDone = make(chan struct{})
	c.stopDebounceLocked()
	if c.periodic != nil {
		c.periodic.Stop()
	}
	if c.state == StatePendingDebounce {
		c.state = StateIdle
	}
	c.mu.Unlock()

	err := c.finalSave(ctx)

	c.mu.Lock()
	c.state = StateClosed
	c.closeErr = err
	close(c.closeDone)
	c.mu.Unlock()
	c.opts.Logger.Info("autosave: closed", "doc", c.docID)
	c.emit()
	return err
}

// finalSave waits out any in-flight save and then saves once if edits are
// still unsaved. The in-flight check and the start share one critical
// section, so a concurrent Flush cannot overlap it.
func (c *Coordinator) finalSave(ctx context.Context) error {
	for {
		c.mu.Lock()
		if f := c.inflight; f != nil {
			c.mu.Unlock()
			if err := wait(ctx, f); err != nil {
				return fmt.Errorf("wait for in-flight save: %w", err)
			}
			continue
		}
		if c.editSeq == c.savedSeq {
			c.mu.Unlock()
			return nil
		}
		f := c.startLocked("close")
		c.mu.Unlock()
		c.emit()

		if err := wait(ctx, f); err != nil {
			return err
		}
		return f.err
	}
}

func wait(ctx context.Context, f *flight) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current save indicator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	s := c.status
	s.State = c.state
	s.Dirty = c.editSeq > c.savedSeq
	return s
}

func (c *Coordinator) emit() {
	if c.opts.OnStatus == nil {
		return
	}
	c.opts.OnStatus(c.Status())
}
