package engine

import (
	"fmt"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/geometry"
	"github.com/printdesk/editor/internal/typeid"
)

// Apply runs ops in order and commits them as one edit. If any operation
// fails the scene is left untouched.
func (s *Session) Apply(ops ...document.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ops) == 0 {
		return nil
	}
	return s.applyLocked(ops...)
}

func (s *Session) applyLocked(ops ...document.Operation) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.gesture != nil {
		s.abortGestureLocked()
	}
	next := s.scene.Clone()
	for _, op := range ops {
		if err := next.Apply(op); err != nil {
			return err
		}
	}
	return s.commitLocked(s.scene, next)
}

// AddObject inserts obj at the top of the paint order and selects it. An
// empty ID is assigned.
func (s *Session) AddObject(obj document.Object) (string, error) {
	if obj.ID == "" {
		obj.ID = typeid.NewObjectID()
	}
	obj.Z = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyLocked(document.Operation{Type: document.OpCreate, Object: &obj}); err != nil {
		return "", err
	}
	s.selection = []string{obj.ID}
	return obj.ID, nil
}

// DeleteSelection removes the selected objects. With nothing selected it
// does nothing.
func (s *Session) DeleteSelection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return nil
	}
	ids := append([]string(nil), s.selection...)
	if err := s.applyLocked(document.Operation{Type: document.OpDelete, ObjectIDs: ids}); err != nil {
		return err
	}
	s.selection = nil
	return nil
}

func (s *Session) SetStyle(patch document.StylePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return ErrEmptySelection
	}
	return s.applyLocked(document.Operation{
		Type:      document.OpStyle,
		ObjectIDs: append([]string(nil), s.selection...),
		Style:     &patch,
	})
}

// Reorder moves every selected object within its siblings as one edit.
func (s *Session) Reorder(mode document.ReorderMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return ErrEmptySelection
	}
	ops := make([]document.Operation, len(s.selection))
	for i, id := range s.selection {
		ops[i] = document.Operation{Type: document.OpReorder, ObjectID: id, Reorder: mode}
	}
	return s.applyLocked(ops...)
}

// GroupSelection wraps two or more selected objects in a new group and
// selects it.
func (s *Session) GroupSelection() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) < 2 {
		return "", fmt.Errorf("%w: select at least two objects to group", document.ErrInvalidOperation)
	}
	groupID := typeid.NewObjectID()
	err := s.applyLocked(document.Operation{
		Type:      document.OpGroup,
		ObjectIDs: append([]string(nil), s.selection...),
		GroupID:   groupID,
	})
	if err != nil {
		return "", err
	}
	s.selection = []string{groupID}
	return groupID, nil
}

// UngroupSelection dissolves every selected group. Children keep their
// on-canvas placement: the group transform is baked into each child.
func (s *Session) UngroupSelection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ops []document.Operation
	var released []string
	for _, id := range s.selection {
		group, ok := s.scene.Object(id)
		if !ok || group.Kind != document.KindGroup {
			continue
		}
		parentWorld := geometry.Identity()
		if group.Parent != "" {
			parentWorld, _ = geometry.WorldMatrix(s.scene, group.Parent)
		}
		inv, ok := parentWorld.Invert()
		if !ok {
			return fmt.Errorf("ungroup %s: %w", id, geometry.ErrDegenerate)
		}

		baked := make(map[string]document.Transform, len(group.Children))
		for _, childID := range group.Children {
			child, ok := s.scene.Object(childID)
			if !ok {
				continue
			}
			world, _ := geometry.WorldMatrix(s.scene, childID)
			ax, ay := geometry.Anchor(child)
			t, ok := geometry.ToTransform(inv.Multiply(world), ax, ay)
			if !ok {
				// A collapsed child keeps its local transform.
				continue
			}
			baked[childID] = t
		}
		ops = append(ops, document.Operation{Type: document.OpUngroup, ObjectID: id, Transforms: baked})
		released = append(released, group.Children...)
	}
	if len(ops) == 0 {
		return fmt.Errorf("%w: no group selected", document.ErrInvalidOperation)
	}
	if err := s.applyLocked(ops...); err != nil {
		return err
	}
	s.selection = released
	return nil
}

func (s *Session) UpdateCanvas(patch document.CanvasPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(document.Operation{Type: document.OpCanvas, Canvas: &patch})
}

// SetVisible shows or hides the selection.
func (s *Session) SetVisible(visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return ErrEmptySelection
	}
	return s.applyLocked(document.Operation{
		Type:      document.OpVisibility,
		ObjectIDs: append([]string(nil), s.selection...),
		Visible:   &visible,
	})
}

// SetLocked locks or unlocks the selection. Locked objects stay selectable
// but ignore transforms.
func (s *Session) SetLocked(locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return ErrEmptySelection
	}
	return s.applyLocked(document.Operation{
		Type:      document.OpLocked,
		ObjectIDs: append([]string(nil), s.selection...),
		Locked:    &locked,
	})
}

// Nudge moves the unlocked selection by (dx, dy) as one edit.
func (s *Session) Nudge(dx, dy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.movableLocked()
	if len(ids) == 0 {
		return ErrEmptySelection
	}
	return s.applyLocked(transformOp(s.scene, ids, geometry.MoveBy(dx, dy)))
}

// transformOp maps each of ids through g.
func transformOp(scene *document.Scene, ids []string, g geometry.GroupTransform) document.Operation {
	ts := make(map[string]document.Transform, len(ids))
	for _, id := range ids {
		obj, ok := scene.Object(id)
		if !ok {
			continue
		}
		ts[id] = g.Apply(obj)
	}
	return document.Operation{Type: document.OpTransform, Transforms: ts}
}
