package engine

import (
	"fmt"
	"slices"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/geometry"
)

// Select replaces the selection with ids, or toggles them into it when
// additive. Members of groups select their top-level group.
func (s *Session) Select(ids []string, additive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	roots := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.scene.Has(id) {
			return fmt.Errorf("select %s: %w", id, document.ErrObjectNotFound)
		}
		if root := s.scene.Root(id); !slices.Contains(roots, root) {
			roots = append(roots, root)
		}
	}

	if !additive {
		s.selection = roots
	} else {
		for _, id := range roots {
			if i := slices.Index(s.selection, id); i >= 0 {
				s.selection = slices.Delete(s.selection, i, i+1)
			} else {
				s.selection = append(s.selection, id)
			}
		}
	}
	s.scheduler.RequestRender()
	return nil
}

// SelectAt selects the top-most object under (x, y) and returns its id.
// A miss clears the selection unless additive.
func (s *Session) SelectAt(x, y float64, additive bool) (string, error) {
	s.mu.Lock()
	hit := geometry.HitTest(s.scene, x, y)
	s.mu.Unlock()

	if hit == "" {
		if !additive {
			s.ClearSelection()
		}
		return "", nil
	}
	if err := s.Select([]string{hit}, additive); err != nil {
		return "", err
	}
	return hit, nil
}

// SelectAll selects every visible top-level object.
func (s *Session) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
	for _, id := range s.scene.TopLevel() {
		if obj, _ := s.scene.Object(id); obj.Visible {
			s.selection = append(s.selection, id)
		}
	}
	s.scheduler.RequestRender()
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return
	}
	s.selection = nil
	s.scheduler.RequestRender()
}

func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.selection)
}

// SelectionBounds returns the combined world-space box of the selection.
func (s *Session) SelectionBounds() geometry.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geometry.SelectionBounds(s.scene, s.selection)
}

// HandleAt returns the selection handle under (x, y), if any.
func (s *Session) HandleAt(x, y float64) (geometry.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return geometry.HandleNone, false
	}
	box := geometry.SelectionBounds(s.scene, s.selection)
	zoom := s.assist.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return geometry.HandleAt(box, x, y, s.handleRadius/zoom)
}

// movableLocked returns the selected objects that are not locked.
func (s *Session) movableLocked() []string {
	var ids []string
	for _, id := range s.selection {
		if obj, ok := s.scene.Object(id); ok && !obj.Locked {
			ids = append(ids, id)
		}
	}
	return ids
}

// pruneSelectionLocked drops ids that no longer name top-level objects,
// e.g. after undoing their creation.
func (s *Session) pruneSelectionLocked() {
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool {
		obj, ok := s.scene.Object(id)
		return !ok || obj.Parent != ""
	})
}

// --- Assist settings ---

func (s *Session) SetGrid(g geometry.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assist.Grid = g
	s.scheduler.RequestRender()
}

func (s *Session) Grid() geometry.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assist.Grid
}

// SetZoom sets the device-pixel to scene-unit ratio used for tolerances and
// overlay strokes.
func (s *Session) SetZoom(zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assist.Zoom = zoom
	s.scheduler.RequestRender()
}

func (s *Session) SetSmartGuides(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assist.Guides = on
}

// Guides returns the alignment guides of the current drag step.
func (s *Session) Guides() []geometry.GuideLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.guides)
}
