// Package input translates raw pointer and keyboard events from the canvas
// host into editing-session operations.
package input

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/engine"
	"github.com/printdesk/editor/internal/geometry"
	"github.com/printdesk/editor/internal/history"
)

// Nudge distances in scene units.
const (
	NudgeStep      = 1.0
	NudgeStepLarge = 10.0
)

// PointerEvent is a pointer position in scene coordinates with the modifier
// keys held at the time.
type PointerEvent struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Shift bool    `json:"shiftKey"`
	Alt   bool    `json:"altKey"`
}

// KeyEvent mirrors the fields of a DOM KeyboardEvent. Mod is Ctrl, or Cmd
// on macOS.
type KeyEvent struct {
	Key   string `json:"key"`
	Mod   bool   `json:"mod"`
	Shift bool   `json:"shiftKey"`
	Alt   bool   `json:"altKey"`
}

// Controller feeds one session. Pointer events are expected in order
// down, move..., up or cancel.
type Controller struct {
	session *engine.Session
	logger  *slog.Logger

	mu      sync.Mutex
	pressed bool
}

func NewController(session *engine.Session, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{session: session, logger: logger}
}

// PointerDown hit-tests the event. A selection handle starts a scale or
// rotate gesture; an object is selected (shift toggles) and starts a move;
// empty canvas clears the selection.
func (c *Controller) PointerDown(ev PointerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed = true

	if h, ok := c.session.HandleAt(ev.X, ev.Y); ok && !ev.Shift {
		kind := geometry.GestureScale
		if h == geometry.HandleRotate {
			kind = geometry.GestureRotate
		}
		return ignoreEmpty(c.session.BeginGesture(kind, ev.X, ev.Y, h))
	}

	hit, err := c.session.SelectAt(ev.X, ev.Y, ev.Shift)
	if err != nil {
		return err
	}
	if hit == "" || !c.selected(hit) {
		return nil
	}
	return ignoreEmpty(c.session.BeginGesture(geometry.GestureMove, ev.X, ev.Y, geometry.HandleNone))
}

// PointerMove updates the active gesture. Hover moves are ignored.
func (c *Controller) PointerMove(ev PointerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pressed || !c.session.Gesturing() {
		return nil
	}
	return c.session.UpdateGesture(ev.X, ev.Y, engine.Modifiers{Shift: ev.Shift, Alt: ev.Alt})
}

// PointerUp commits the active gesture as one edit.
func (c *Controller) PointerUp(PointerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed = false
	if err := c.session.EndGesture(); err != nil && !errors.Is(err, engine.ErrNoGesture) {
		return err
	}
	return nil
}

// PointerCancel aborts the active gesture, e.g. when the pointer leaves the
// window or the host loses focus.
func (c *Controller) PointerCancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed = false
	if err := c.session.CancelGesture(); err != nil && !errors.Is(err, engine.ErrNoGesture) {
		return err
	}
	return nil
}

// Key runs the shortcut bound to ev. It reports whether the key was bound,
// so the host can let unbound keys through.
func (c *Controller) Key(ctx context.Context, ev KeyEvent) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	key := ev.Key
	if len(key) == 1 {
		key = strings.ToLower(key)
	}

	if ev.Mod {
		switch {
		case key == "z" && ev.Shift, key == "y":
			return true, ignoreHistoryEnd(s.Redo())
		case key == "z":
			return true, ignoreHistoryEnd(s.Undo())
		case key == "a":
			s.SelectAll()
			return true, nil
		case key == "g" && ev.Shift:
			return true, ignoreInvalid(s.UngroupSelection())
		case key == "g":
			_, err := s.GroupSelection()
			return true, ignoreInvalid(err)
		case key == "s":
			if err := s.Flush(ctx); err != nil {
				c.logger.Warn("save shortcut failed", "doc", s.DocID(), "error", err)
				return true, err
			}
			return true, nil
		case key == "'":
			g := s.Grid()
			g.Visible = !g.Visible
			s.SetGrid(g)
			return true, nil
		case key == ";":
			g := s.Grid()
			g.Snap = !g.Snap
			s.SetGrid(g)
			return true, nil
		}
		return false, nil
	}

	step := NudgeStep
	if ev.Shift {
		step = NudgeStepLarge
	}
	switch key {
	case "Delete", "Backspace":
		return true, s.DeleteSelection()
	case "Escape":
		if s.Gesturing() {
			c.pressed = false
			return true, s.CancelGesture()
		}
		s.ClearSelection()
		return true, nil
	case "ArrowLeft":
		return true, c.nudge(-step, 0)
	case "ArrowRight":
		return true, c.nudge(step, 0)
	case "ArrowUp":
		return true, c.nudge(0, -step)
	case "ArrowDown":
		return true, c.nudge(0, step)
	}
	return false, nil
}

func (c *Controller) nudge(dx, dy float64) error {
	if c.session.Gesturing() {
		return nil
	}
	return ignoreEmpty(c.session.Nudge(dx, dy))
}

func (c *Controller) selected(id string) bool {
	return slices.Contains(c.session.Selection(), id)
}

func ignoreEmpty(err error) error {
	if errors.Is(err, engine.ErrEmptySelection) {
		return nil
	}
	return err
}

// ignoreInvalid treats a group shortcut without a suitable selection as a
// no-op.
func ignoreInvalid(err error) error {
	if errors.Is(err, document.ErrInvalidOperation) {
		return nil
	}
	return err
}

// ignoreHistoryEnd drops the expected errors of an exhausted timeline.
func ignoreHistoryEnd(err error) error {
	if errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo) {
		return nil
	}
	return err
}
