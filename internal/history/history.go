// Package history keeps the linear undo/redo timeline of an editing session.
package history

import (
	"errors"
	"fmt"
	"slices"

	"github.com/printdesk/editor/internal/document"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DefaultDepth is used when New is given a non-positive depth.
const DefaultDepth = 100

// Manager is a bounded timeline of snapshots with a cursor at the current
// state. Entries before the cursor are undoable, entries after it redoable.
// A Manager is not safe for concurrent use.
type Manager struct {
	entries []Snapshot
	cursor  int
	depth   int
}

// New seeds a timeline with the initial scene.
func New(initial *document.Scene, depth int) (*Manager, error) {
	if depth < 1 {
		depth = DefaultDepth
	}
	m := &Manager{depth: depth}
	if err := m.Reset(initial); err != nil {
		return nil, err
	}
	return m, nil
}

// Reset drops every entry and starts over from scene.
func (m *Manager) Reset(scene *document.Scene) error {
	snap, err := NewSnapshot(scene)
	if err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	m.entries = []Snapshot{snap}
	m.cursor = 0
	return nil
}

// Snapshot records scene as the new current state and discards the redo
// branch. It returns false when scene equals the current state, in which
// case nothing changes.
func (m *Manager) Snapshot(scene *document.Scene) (bool, error) {
	snap, err := NewSnapshot(scene)
	if err != nil {
		return false, fmt.Errorf("take snapshot: %w", err)
	}
	if snap.Equal(m.entries[m.cursor]) {
		return false, nil
	}

	m.entries = slices.Delete(m.entries, m.cursor+1, len(m.entries))
	m.entries = append(m.entries, snap)
	m.cursor = len(m.entries) - 1

	if over := len(m.entries) - m.depth; over > 0 {
		m.entries = slices.Delete(m.entries, 0, over)
		m.cursor -= over
	}
	return true, nil
}

// Undo steps back one entry and returns the restored scene and whether
// further undo is possible. On a corrupt entry the cursor stays put.
func (m *Manager) Undo() (*document.Scene, bool, error) {
	if m.cursor == 0 {
		return nil, false, ErrNothingToUndo
	}
	scene, err := m.entries[m.cursor-1].Restore()
	if err != nil {
		return nil, m.CanUndo(), fmt.Errorf("undo: %w", err)
	}
	m.cursor--
	return scene, m.CanUndo(), nil
}

// Redo steps forward one entry and returns the restored scene and whether
// further redo is possible.
func (m *Manager) Redo() (*document.Scene, bool, error) {
	if m.cursor >= len(m.entries)-1 {
		return nil, false, ErrNothingToRedo
	}
	scene, err := m.entries[m.cursor+1].Restore()
	if err != nil {
		return nil, m.CanRedo(), fmt.Errorf("redo: %w", err)
	}
	m.cursor++
	return scene, m.CanRedo(), nil
}

func (m *Manager) CanUndo() bool { return m.cursor > 0 }
func (m *Manager) CanRedo() bool { return m.cursor < len(m.entries)-1 }

func (m *Manager) UndoCount() int { return m.cursor }
func (m *Manager) RedoCount() int { return len(m.entries) - 1 - m.cursor }

// Len returns the number of entries, including the current one.
func (m *Manager) Len() int    { return len(m.entries) }
func (m *Manager) Cursor() int { return m.cursor }

// Current returns the snapshot at the cursor.
func (m *Manager) Current() Snapshot {
	return m.entries[m.cursor]
}
