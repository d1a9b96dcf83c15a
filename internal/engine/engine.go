// Package engine ties the scene, history, geometry assist, render scheduler
// and auto-save coordinator into one editing session. Every edit goes
// through the Session operation API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/printdesk/editor/internal/autosave"
	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/geometry"
	"github.com/printdesk/editor/internal/history"
	"github.com/printdesk/editor/internal/render"
	"github.com/printdesk/editor/internal/store"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNoGesture      = errors.New("no gesture in progress")
	ErrEmptySelection = errors.New("nothing selected")
)

const (
	defaultRotateStep   = 15.0
	defaultHandleRadius = 6.0
)

// Deps are the collaborators and settings of a session. Only the scene is
// required; a nil Saver disables auto-save and a nil Surface skips painting.
type Deps struct {
	// DocID keys persistence. Defaults to the scene ID.
	DocID        string
	Saver        store.Saver
	HistoryDepth int
	Autosave     autosave.Options
	Frames       render.FrameSource
	Surface      render.Surface
	Assist       geometry.Assist
	// RotateStep is the angle increment of a constrained rotation.
	RotateStep float64
	// HandleRadius is the pick radius of selection handles in device pixels.
	HandleRadius float64
	Logger       *slog.Logger
}

// Session is one open document. It is safe for concurrent use; methods are
// serialized the way events on a UI thread would be.
type Session struct {
	docID   string
	logger  *slog.Logger
	surface render.Surface

	rotateStep   float64
	handleRadius float64

	scheduler *render.Scheduler
	autosave  *autosave.Coordinator

	// committed is the encoded scene at the last edit boundary. The
	// auto-save source reads it without taking mu.
	committed atomic.Pointer[[]byte]

	// paintMu serializes surface draws, which run outside mu.
	paintMu sync.Mutex

	mu        sync.Mutex
	scene     *document.Scene
	history   *history.Manager
	selection []string
	gesture   *gesture
	guides    []geometry.GuideLine
	assist    geometry.Assist
	lastErr   string
	closed    bool
	closeDone chan struct{}
	closeErr  error

	// takeSnapshot records an edit boundary in history.
	takeSnapshot func(*document.Scene) (bool, error)
}

// NewSession opens a session on scene.
func NewSession(scene *document.Scene, deps Deps) (*Session, error) {
	if scene == nil {
		return nil, fmt.Errorf("%w: nil scene", document.ErrInvalidScene)
	}
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	scene = scene.Clone()

	h, err := history.New(scene, deps.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("start history: %w", err)
	}

	s := &Session{
		docID:        deps.DocID,
		logger:       deps.Logger,
		surface:      deps.Surface,
		rotateStep:   deps.RotateStep,
		handleRadius: deps.HandleRadius,
		scene:        scene,
		history:      h,
		assist:       deps.Assist,
		takeSnapshot: h.Snapshot,
	}
	if s.docID == "" {
		s.docID = scene.ID
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rotateStep <= 0 {
		s.rotateStep = defaultRotateStep
	}
	if s.handleRadius <= 0 {
		s.handleRadius = defaultHandleRadius
	}
	if err := s.storeCommitted(scene); err != nil {
		return nil, err
	}

	frames := deps.Frames
	if frames == nil {
		frames = render.NewTickerFrames(0)
	}
	s.scheduler = render.NewScheduler(frames, s.paint, s.logger)

	if deps.Saver != nil {
		opts := deps.Autosave
		if opts.Logger == nil {
			opts.Logger = s.logger
		}
		s.autosave = autosave.New(s.docID, s.source, deps.Saver, opts)
		s.autosave.Start()
	}

	s.logger.Info("session opened", "doc", s.docID, "objects", len(scene.Objects))
	s.scheduler.RequestRender()
	return s, nil
}

// Open loads docID through loader and opens a session on it.
func Open(ctx context.Context, loader store.Loader, docID string, deps Deps) (*Session, error) {
	data, err := loader.Load(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	scene, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", docID, err)
	}
	if deps.DocID == "" {
		deps.DocID = docID
	}
	return NewSession(scene, deps)
}

// --- Lifecycle ---

// Close aborts any gesture, waits for an in-flight save, runs a final save
// of unsaved edits and stops rendering. Later calls wait for the first to
// finish and return its result.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if done := s.closeDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.closeErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.gesture != nil {
		s.abortGestureLocked()
	}
	s.closed = true
	s.closeDone = make(chan struct{})
	s.mu.Unlock()

	var err error
	if s.autosave != nil {
		if err = s.autosave.Close(ctx); err != nil {
			s.logger.Error("final save failed", "doc", s.docID, "error", err)
		}
	}
	s.scheduler.Close()

	s.mu.Lock()
	s.closeErr = err
	close(s.closeDone)
	s.mu.Unlock()
	s.logger.Info("session closed", "doc", s.docID)
	return err
}

// Flush saves unsaved edits now.
func (s *Session) Flush(ctx context.Context) error {
	if s.autosave == nil {
		return nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.autosave.Flush(ctx)
}

// Status is the session indicator shown to the user.
type Status struct {
	DocID        string          `json:"docId"`
	Save         autosave.Status `json:"save"`
	Autosave     bool            `json:"autosave"`
	CanUndo      bool            `json:"canUndo"`
	CanRedo      bool            `json:"canRedo"`
	UndoCount    int             `json:"undoCount"`
	RedoCount    int             `json:"redoCount"`
	HistoryError string          `json:"historyError,omitempty"`
	Selected     int             `json:"selected"`
	Gesturing    bool            `json:"gesturing"`
	Render       render.Stats    `json:"render"`
	Closed       bool            `json:"closed"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		DocID:        s.docID,
		CanUndo:      s.history.CanUndo(),
		CanRedo:      s.history.CanRedo(),
		UndoCount:    s.history.UndoCount(),
		RedoCount:    s.history.RedoCount(),
		HistoryError: s.lastErr,
		Selected:     len(s.selection),
		Gesturing:    s.gesture != nil,
		Closed:       s.closed,
	}
	s.mu.Unlock()

	if s.autosave != nil {
		st.Autosave = true
		st.Save = s.autosave.Status()
	}
	st.Render = s.scheduler.Stats()
	return st
}

// --- History ---

func (s *Session) Undo() error {
	return s.step(s.history.Undo, "undo")
}

func (s *Session) Redo() error {
	return s.step(s.history.Redo, "redo")
}

func (s *Session) step(move func() (*document.Scene, bool, error), name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.gesture != nil {
		s.abortGestureLocked()
	}

	scene, _, err := move()
	if err != nil {
		if !errors.Is(err, history.ErrNothingToUndo) && !errors.Is(err, history.ErrNothingToRedo) {
			s.lastErr = err.Error()
			s.logger.Error(name+" failed", "doc", s.docID, "error", err)
		}
		return err
	}
	s.lastErr = ""
	s.scene = scene
	if err := s.storeCommitted(scene); err != nil {
		s.logger.Error("encode scene failed", "doc", s.docID, "error", err)
	}
	s.pruneSelectionLocked()
	s.changedLocked()
	return nil
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo()
}

// --- Rendering ---

// Render compiles the scene and overlay and paints the surface now.
func (s *Session) Render() ([]render.DrawCommand, error) {
	s.mu.Lock()
	commands, background := s.compileLocked()
	s.mu.Unlock()

	if s.surface == nil {
		return commands, nil
	}
	s.paintMu.Lock()
	defer s.paintMu.Unlock()
	if err := s.surface.Draw(background, commands); err != nil {
		return commands, fmt.Errorf("paint surface: %w", err)
	}
	return commands, nil
}

// paint is the scheduler's draw callback.
func (s *Session) paint() error {
	_, err := s.Render()
	return err
}

func (s *Session) compileLocked() ([]render.DrawCommand, string) {
	overlay := render.Overlay{
		Grid:    s.assist.Grid,
		Guides:  s.guides,
		Handles: true,
		Zoom:    s.assist.Zoom,
	}
	if len(s.selection) > 0 {
		overlay.Selection = geometry.SelectionBounds(s.scene, s.selection)
	}
	return render.Compile(s.scene, overlay), s.scene.Canvas.Background
}

// --- Reads ---

// Scene returns a copy of the live scene.
func (s *Session) Scene() *document.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Clone()
}

func (s *Session) DocID() string {
	return s.docID
}

// --- Commit boundary ---

// commitLocked makes next the live scene and records an edit boundary. If
// the snapshot cannot be taken, prev stays live so the scene always matches
// the history cursor.
func (s *Session) commitLocked(prev, next *document.Scene) error {
	changed, err := s.takeSnapshot(next)
	if err != nil {
		s.scene = prev
		s.lastErr = err.Error()
		s.logger.Error("snapshot failed", "doc", s.docID, "error", err)
		s.scheduler.RequestRender()
		return err
	}
	s.scene = next
	s.pruneSelectionLocked()
	if !changed {
		s.scheduler.RequestRender()
		return nil
	}
	if err := s.storeCommitted(next); err != nil {
		s.logger.Error("encode scene failed", "doc", s.docID, "error", err)
	}
	s.changedLocked()
	return nil
}

// changedLocked notifies auto-save and the renderer of a new committed
// scene.
func (s *Session) changedLocked() {
	if s.autosave != nil {
		s.autosave.NotifyEdit()
	}
	s.scheduler.RequestRender()
}

func (s *Session) storeCommitted(scene *document.Scene) error {
	data, err := scene.Encode()
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	s.committed.Store(&data)
	return nil
}

// source feeds the auto-save coordinator.
func (s *Session) source() ([]byte, error) {
	data := s.committed.Load()
	if data == nil {
		return nil, errors.New("no committed scene")
	}
	return *data, nil
}
