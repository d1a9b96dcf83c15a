package geometry

import (
	"math"

	"github.com/printdesk/editor/internal/document"
)

// ObjectBounds returns the world-space axis-aligned box enclosing the
// object's transformed corners. For groups it encloses the transformed
// corners of every descendant. Reusing an un-rotated box would under-report
// the footprint of rotated shapes, so corners are always recomputed.
func ObjectBounds(s *document.Scene, id string) (Rect, bool) {
	obj, ok := s.Object(id)
	if !ok {
		return Rect{}, false
	}
	world, _ := WorldMatrix(s, id)
	return boundsUnder(s, obj, world), true
}

func boundsUnder(s *document.Scene, obj document.Object, world Matrix2D) Rect {
	if obj.Kind != document.KindGroup {
		return world.TransformRect(Rect{Width: obj.Width, Height: obj.Height})
	}

	var result Rect
	for _, childID := range obj.Children {
		child, ok := s.Object(childID)
		if !ok {
			continue
		}
		b := boundsUnder(s, child, world.Multiply(LocalMatrix(child)))
		if b.Degenerate() {
			continue
		}
		result = result.Union(b)
	}
	return result
}

// SelectionBounds returns the combined bounding box of the given objects.
// Objects whose box is degenerate are skipped.
func SelectionBounds(s *document.Scene, ids []string) Rect {
	var result Rect
	for _, id := range ids {
		b, ok := ObjectBounds(s, id)
		if !ok || b.Degenerate() {
			continue
		}
		result = result.Union(b)
	}
	return result
}

// HitTest returns the top-most top-level object whose shape contains the
// point, or "" if nothing is hit. Shapes are tested in local space so
// rotated objects only respond inside their actual footprint.
func HitTest(s *document.Scene, x, y float64) string {
	top := s.TopLevel()
	for i := len(top) - 1; i >= 0; i-- {
		obj, _ := s.Object(top[i])
		if hitObject(s, obj, LocalMatrix(obj), x, y) {
			return obj.ID
		}
	}
	return ""
}

func hitObject(s *document.Scene, obj document.Object, world Matrix2D, x, y float64) bool {
	if !obj.Visible {
		return false
	}

	if obj.Kind == document.KindGroup {
		children := obj.Children
		for i := len(children) - 1; i >= 0; i-- {
			child, ok := s.Object(children[i])
			if !ok {
				continue
			}
			if hitObject(s, child, world.Multiply(LocalMatrix(child)), x, y) {
				return true
			}
		}
		return false
	}

	inv, ok := world.Invert()
	if !ok {
		return false
	}
	lx, ly := inv.TransformPoint(x, y)
	if obj.Kind == document.KindShape && obj.Shape == document.ShapeEllipse {
		rx, ry := obj.Width/2, obj.Height/2
		if rx <= 0 || ry <= 0 {
			return false
		}
		nx, ny := (lx-rx)/rx, (ly-ry)/ry
		return nx*nx+ny*ny <= 1
	}
	return lx >= 0 && lx <= obj.Width && ly >= 0 && ly <= obj.Height
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
