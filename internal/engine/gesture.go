package engine

import (
	"math"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/geometry"
)

// Modifiers are the keys held during a gesture step.
type Modifiers struct {
	// Shift keeps the aspect ratio when scaling and steps rotation.
	Shift bool
	// Alt suspends grid snapping and guides for the step.
	Alt bool
}

// gesture is an in-progress direct manipulation. The scene shown during the
// gesture is always derived from start, so a step never accumulates error
// and an abort restores start exactly.
type gesture struct {
	kind   geometry.GestureKind
	handle geometry.Handle
	ids    []string
	start  *document.Scene
	box    geometry.Rect
	x0, y0 float64
	index  *geometry.GuideIndex
}

// BeginGesture starts moving, scaling or rotating the unlocked selection
// from pointer position (x, y). handle names the grabbed handle for scale
// gestures. A gesture already in progress is aborted.
func (s *Session) BeginGesture(kind geometry.GestureKind, x, y float64, handle geometry.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.gesture != nil {
		s.abortGestureLocked()
	}

	ids := s.movableLocked()
	if len(ids) == 0 {
		return ErrEmptySelection
	}
	box := geometry.SelectionBounds(s.scene, ids)

	g := &gesture{
		kind:   kind,
		handle: handle,
		ids:    ids,
		start:  s.scene.Clone(),
		box:    box,
		x0:     x,
		y0:     y,
	}
	switch kind {
	case geometry.GestureMove:
		g.index = geometry.NewGuideIndex(s.scene, ids)
	case geometry.GestureScale:
		if box.Degenerate() || handle == geometry.HandleNone || handle == geometry.HandleRotate {
			return geometry.ErrDegenerate
		}
	case geometry.GestureRotate:
		if box.Degenerate() {
			return geometry.ErrDegenerate
		}
	default:
		return document.ErrInvalidOperation
	}
	s.gesture = g
	return nil
}

// UpdateGesture applies one pointer step. Steps the geometry cannot assist
// are dropped rather than reported.
func (s *Session) UpdateGesture(x, y float64, mods Modifiers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gesture
	if g == nil {
		return ErrNoGesture
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return nil
	}

	var t geometry.GroupTransform
	s.guides = nil
	switch g.kind {
	case geometry.GestureMove:
		dx, dy := x-g.x0, y-g.y0
		if !mods.Alt {
			res := s.assist.Move(g.index, g.box, dx, dy)
			if res.Err == nil {
				dx, dy = res.DX, res.DY
				s.guides = res.Guides
			}
		}
		t = geometry.MoveBy(dx, dy)
	case geometry.GestureScale:
		t = geometry.ScaleFromHandle(g.box, g.handle, g.x0, g.y0, x, y, mods.Shift)
	case geometry.GestureRotate:
		step := 0.0
		if mods.Shift {
			step = s.rotateStep
		}
		t = geometry.RotateFromPointer(g.box, g.x0, g.y0, x, y, step)
	}

	next := g.start.Clone()
	if err := next.Apply(transformOp(g.start, g.ids, t)); err != nil {
		s.logger.Debug("gesture step dropped", "doc", s.docID, "error", err)
		return nil
	}
	s.scene = next
	s.scheduler.RequestRender()
	return nil
}

// EndGesture commits the gesture as a single edit and clears the guides.
func (s *Session) EndGesture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return ErrNoGesture
	}
	start := s.gesture.start
	s.gesture = nil
	s.guides = nil
	return s.commitLocked(start, s.scene)
}

// CancelGesture restores the scene from before the gesture without
// recording history.
func (s *Session) CancelGesture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return ErrNoGesture
	}
	s.abortGestureLocked()
	return nil
}

// Gesturing reports whether a gesture is in progress.
func (s *Session) Gesturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gesture != nil
}

func (s *Session) abortGestureLocked() {
	s.scene = s.gesture.start
	s.gesture = nil
	s.guides = nil
	s.scheduler.RequestRender()
}
