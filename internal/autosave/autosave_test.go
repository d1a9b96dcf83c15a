package autosave

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(end) {
				next = t
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if next == nil {
			c.timers = pruneStopped(c.timers)
			c.now = end
			c.mu.Unlock()
			return
		}
		next.stopped = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func pruneStopped(ts []*fakeTimer) []*fakeTimer {
	out := ts[:0]
	for _, t := range ts {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

type recordingSaver struct {
	mu      sync.Mutex
	calls   []string
	gate    chan struct{}
	started chan struct{}
	err     error
	panics  bool
}

func newSaver() *recordingSaver {
	return &recordingSaver{started: make(chan struct{}, 16)}
}

func (s *recordingSaver) Save(ctx context.Context, docID string, data []byte) error {
	s.mu.Lock()
	s.calls = append(s.calls, string(data))
	gate, err, panics := s.gate, s.err, s.panics
	s.mu.Unlock()
	s.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	if panics {
		panic("disk on fire")
	}
	return err
}

func (s *recordingSaver) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type document struct {
	mu      sync.Mutex
	content string
}

func (d *document) set(v string) {
	d.mu.Lock()
	d.content = v
	d.mu.Unlock()
}

func (d *document) source() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte(d.content), nil
}

func setup(t *testing.T) (*Coordinator, *fakeClock, *recordingSaver, *document) {
	t.Helper()
	clock := newFakeClock()
	saver := newSaver()
	doc := &document{content: "v0"}
	c := New("doc_test", doc.source, saver, Options{Clock: clock})
	t.Cleanup(func() {
		saver.mu.Lock()
		saver.gate = nil
		saver.mu.Unlock()
	})
	return c, clock, saver, doc
}

// settle waits until no save is in flight.
func settle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		idle := c.inflight == nil
		c.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("save did not finish")
}

func waitStarted(t *testing.T, s *recordingSaver) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("save did not start")
	}
}

func TestEditBurstSavesOnce(t *testing.T) {
	c, clock, saver, doc := setup(t)

	for i := range 5 {
		doc.set("v" + string(rune('1'+i)))
		c.NotifyEdit()
		clock.Advance(400 * time.Millisecond)
	}
	if got := c.Status().State; got != StatePendingDebounce {
		t.Fatalf("expected pending debounce, got %s", got)
	}
	if len(saver.Calls()) != 0 {
		t.Fatal("saved before the quiet period elapsed")
	}

	clock.Advance(2 * time.Second)
	settle(t, c)

	calls := saver.Calls()
	if len(calls) != 1 || calls[0] != "v5" {
		t.Fatalf("expected one save of v5, got %v", calls)
	}
	st := c.Status()
	if st.State != StateIdle || st.Dirty || st.Saves != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestPeriodicSaveDuringContinuousEditing(t *testing.T) {
	c, clock, saver, doc := setup(t)
	c.Start()

	for i := range 30 {
		doc.set(strings.Repeat("x", i+1))
		c.NotifyEdit()
		clock.Advance(time.Second)
	}
	settle(t, c)

	calls := saver.Calls()
	if len(calls) != 1 || len(calls[0]) != 30 {
		t.Fatalf("expected one periodic save of the latest content, got %d saves", len(calls))
	}
	if st := c.Status(); st.Dirty {
		t.Errorf("expected clean after the periodic save, got %+v", st)
	}
}

func TestPeriodicSkipsCleanDocument(t *testing.T) {
	c, clock, saver, _ := setup(t)
	c.Start()
	clock.Advance(95 * time.Second)
	settle(t, c)
	if n := len(saver.Calls()); n != 0 {
		t.Errorf("expected no saves for a clean document, got %d", n)
	}
}

func TestEditsDuringSaveGetFollowUp(t *testing.T) {
	c, clock, saver, doc := setup(t)
	saver.gate = make(chan struct{})

	doc.set("first")
	c.NotifyEdit()
	clock.Advance(2 * time.Second)
	waitStarted(t, saver)

	doc.set("second")
	c.NotifyEdit()
	c.NotifyEdit()
	if got := c.Status().State; got != StateSaving {
		t.Fatalf("expected saving, got %s", got)
	}
	clock.Advance(5 * time.Second)
	if n := len(saver.Calls()); n != 1 {
		t.Fatalf("expected single flight, got %d calls", n)
	}

	close(saver.gate)
	settle(t, c)
	if got := c.Status().State; got != StatePendingDebounce {
		t.Fatalf("expected follow-up debounce, got %s", got)
	}
	clock.Advance(2 * time.Second)
	settle(t, c)

	calls := saver.Calls()
	if len(calls) != 2 || calls[1] != "second" {
		t.Errorf("expected follow-up save of second, got %v", calls)
	}
}

func TestCloseWaitsForInFlightSave(t *testing.T) {
	c, clock, saver, doc := setup(t)
	saver.gate = make(chan struct{})

	doc.set("v1")
	c.NotifyEdit()
	clock.Advance(2 * time.Second)
	waitStarted(t, saver)

	// Edit committed while v1 is being written.
	doc.set("v2")
	c.NotifyEdit()

	closed := make(chan error, 1)
	go func() { closed <- c.Close(context.Background()) }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned before the in-flight save finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	saver.mu.Lock()
	gate := saver.gate
	saver.gate = nil
	saver.mu.Unlock()
	close(gate)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	calls := saver.Calls()
	if len(calls) != 2 || calls[len(calls)-1] != "v2" {
		t.Fatalf("expected final save of v2, got %v", calls)
	}

	c.NotifyEdit()
	clock.Advance(time.Minute)
	if n := len(saver.Calls()); n != 2 {
		t.Errorf("expected triggers ignored after close, got %d calls", n)
	}
	if err := c.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if got := c.Status().State; got != StateClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

// overlapSaver records how many saves ran at the same time.
type overlapSaver struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func (s *overlapSaver) Save(ctx context.Context, docID string, data []byte) error {
	s.mu.Lock()
	s.active++
	s.calls++
	s.peak = max(s.peak, s.active)
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.gate
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil
}

func TestConcurrentCloseAndFlushSaveOneAtATime(t *testing.T) {
	for range 50 {
		clock := newFakeClock()
		saver := &overlapSaver{gate: make(chan struct{}), started: make(chan struct{}, 16)}
		doc := &document{content: "v1"}
		c := New("doc_test", doc.source, saver, Options{Clock: clock})

		c.NotifyEdit()
		clock.Advance(2 * time.Second)
		<-saver.started

		// Edit committed while v1 is being written.
		doc.set("v2")
		c.NotifyEdit()

		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- c.Close(context.Background())
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Flush(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				errs <- err
			}
		}()

		time.Sleep(time.Millisecond)
		close(saver.gate)
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("close: %v", err)
			}
		}

		saver.mu.Lock()
		peak, calls := saver.peak, saver.calls
		saver.mu.Unlock()
		if peak != 1 {
			t.Fatalf("expected one save at a time, got %d concurrent", peak)
		}
		if calls != 2 {
			t.Fatalf("expected the in-flight save plus one final save, got %d", calls)
		}
		if st := c.Status(); st.State != StateClosed || st.Dirty {
			t.Fatalf("expected closed and clean, got %+v", st)
		}
	}
}

func TestSecondCloseWaitsForFirst(t *testing.T) {
	c, clock, saver, doc := setup(t)
	saver.gate = make(chan struct{})

	doc.set("v1")
	c.NotifyEdit()
	clock.Advance(2 * time.Second)
	waitStarted(t, saver)
	doc.set("v2")
	c.NotifyEdit()

	first := make(chan error, 1)
	go func() { first <- c.Close(context.Background()) }()
	second := make(chan error, 1)
	go func() { second <- c.Close(context.Background()) }()

	select {
	case err := <-second:
		t.Fatalf("second Close returned while the first was still saving: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	saver.mu.Lock()
	gate := saver.gate
	saver.gate = nil
	saver.mu.Unlock()
	close(gate)

	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("close: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}
	}
	if calls := saver.Calls(); len(calls) != 2 || calls[1] != "v2" {
		t.Errorf("expected one final save of v2, got %v", calls)
	}
}

func TestCloseWithoutEditsDoesNotSave(t *testing.T) {
	c, _, saver, _ := setup(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(saver.Calls()); n != 0 {
		t.Errorf("expected no save, got %d", n)
	}
}

func TestFailureIsReportedNotRetried(t *testing.T) {
	c, clock, saver, _ := setup(t)
	saver.err = errors.New("connection refused")

	c.NotifyEdit()
	clock.Advance(2 * time.Second)
	settle(t, c)

	st := c.Status()
	if st.Failures != 1 || !st.Dirty || st.State != StateIdle {
		t.Fatalf("unexpected status %+v", st)
	}
	if !strings.Contains(st.LastError, "connection refused") {
		t.Errorf("expected saver error in status, got %q", st.LastError)
	}

	clock.Advance(10 * time.Second)
	settle(t, c)
	if n := len(saver.Calls()); n != 1 {
		t.Errorf("expected no immediate retry, got %d calls", n)
	}
}

func TestFlushSavesNowAndRecoversPanics(t *testing.T) {
	c, clock, saver, doc := setup(t)

	doc.set("now")
	c.NotifyEdit()
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Second)
	settle(t, c)
	if calls := saver.Calls(); len(calls) != 1 || calls[0] != "now" {
		t.Fatalf("expected one flushed save, got %v", calls)
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Errorf("flush of a clean document: %v", err)
	}

	saver.mu.Lock()
	saver.panics = true
	saver.mu.Unlock()
	c.NotifyEdit()
	if err := c.Flush(context.Background()); !errors.Is(err, ErrSaveFailed) {
		t.Errorf("expected ErrSaveFailed from panicking saver, got %v", err)
	}
}

func TestOnStatusReportsTransitions(t *testing.T) {
	clock := newFakeClock()
	saver := newSaver()
	states := make(chan State, 16)
	c := New("doc_test", func() ([]byte, error) { return []byte("x"), nil }, saver, Options{
		Clock:    clock,
		OnStatus: func(s Status) { states <- s.State },
	})

	c.NotifyEdit()
	clock.Advance(2 * time.Second)

	want := []State{StatePendingDebounce, StateSaving, StateIdle}
	for _, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Fatalf("expected %s, got %s", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}
