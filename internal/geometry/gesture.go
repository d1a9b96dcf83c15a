package geometry

import (
	"math"

	"github.com/printdesk/editor/internal/document"
)

type GestureKind string

const (
	GestureMove   GestureKind = "move"
	GestureScale  GestureKind = "scale"
	GestureRotate GestureKind = "rotate"
)

// Handle identifies a selection-box handle. Compass names are scale handles.
type Handle string

const (
	HandleNone   Handle = ""
	HandleNW     Handle = "nw"
	HandleN      Handle = "n"
	HandleNE     Handle = "ne"
	HandleE      Handle = "e"
	HandleSE     Handle = "se"
	HandleS      Handle = "s"
	HandleSW     Handle = "sw"
	HandleW      Handle = "w"
	HandleRotate Handle = "rotate"
)

// RotateHandleOffset is the distance of the rotate handle above the box.
const RotateHandleOffset = 30.0

// handlePoint returns the position of h on box and whether it moves the x
// and y edges.
func handlePoint(box Rect, h Handle) (x, y float64, movesX, movesY bool) {
	cx, cy := box.Center()
	switch h {
	case HandleNW:
		return box.X, box.Y, true, true
	case HandleN:
		return cx, box.Y, false, true
	case HandleNE:
		return box.Right(), box.Y, true, true
	case HandleE:
		return box.Right(), cy, true, false
	case HandleSE:
		return box.Right(), box.Bottom(), true, true
	case HandleS:
		return cx, box.Bottom(), false, true
	case HandleSW:
		return box.X, box.Bottom(), true, true
	case HandleW:
		return box.X, cy, true, false
	case HandleRotate:
		return cx, box.Y - RotateHandleOffset, false, false
	}
	return cx, cy, false, false
}

func opposite(h Handle) Handle {
	switch h {
	case HandleNW:
		return HandleSE
	case HandleN:
		return HandleS
	case HandleNE:
		return HandleSW
	case HandleE:
		return HandleW
	case HandleSE:
		return HandleNW
	case HandleS:
		return HandleN
	case HandleSW:
		return HandleNE
	case HandleW:
		return HandleE
	}
	return HandleNone
}

// ScaleHandles lists the scale handles clockwise from the top-left corner.
var ScaleHandles = []Handle{HandleNW, HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW}

// HandlePosition returns where h is drawn on box.
func HandlePosition(box Rect, h Handle) (float64, float64) {
	x, y, _, _ := handlePoint(box, h)
	return x, y
}

// HandleAt returns the handle of box within radius of (x, y).
func HandleAt(box Rect, x, y, radius float64) (Handle, bool) {
	if box.Degenerate() {
		return HandleNone, false
	}
	for _, h := range []Handle{HandleRotate, HandleNW, HandleNE, HandleSE, HandleSW, HandleN, HandleE, HandleS, HandleW} {
		hx, hy, _, _ := handlePoint(box, h)
		if math.Hypot(x-hx, y-hy) <= radius {
			return h, true
		}
	}
	return HandleNone, false
}

// GroupTransform is one affine transform applied to a whole selection,
// computed relative to the selection's combined bounding box.
type GroupTransform struct {
	Kind GestureKind

	// move
	DX, DY float64

	// scale by (KX, KY) about (AX, AY)
	KX, KY float64
	AX, AY float64

	// rotate by Angle degrees about (CX, CY)
	Angle  float64
	CX, CY float64
}

// Matrix returns the world-space matrix of the transform.
func (g GroupTransform) Matrix() Matrix2D {
	switch g.Kind {
	case GestureMove:
		return Translate(g.DX, g.DY)
	case GestureScale:
		return ScaleAbout(g.KX, g.KY, g.AX, g.AY)
	case GestureRotate:
		return RotateAbout(g.Angle, g.CX, g.CY)
	}
	return Identity()
}

// Apply maps a top-level object's transform through the group transform.
// The object's pivot follows the matrix exactly. Under a non-uniform scale
// an object rotated off the axes keeps its shape and takes the geometric
// mean factor, since the result would otherwise need a skew.
func (g GroupTransform) Apply(obj document.Object) document.Transform {
	t := obj.Transform
	ax, ay := Anchor(obj)
	px, py := g.Matrix().TransformPoint(t.X+ax, t.Y+ay)

	switch g.Kind {
	case GestureRotate:
		t.Rotation = normalizeDegrees(t.Rotation + g.Angle)
	case GestureScale:
		quarter := math.Mod(math.Abs(t.Rotation), 180)
		switch {
		case nearly(quarter, 0) || nearly(quarter, 180):
			t.ScaleX *= g.KX
			t.ScaleY *= g.KY
		case nearly(quarter, 90):
			t.ScaleX *= g.KY
			t.ScaleY *= g.KX
		default:
			f := math.Sqrt(math.Abs(g.KX * g.KY))
			t.ScaleX *= f
			t.ScaleY *= f
		}
	}

	t.X = px - ax
	t.Y = py - ay
	return t
}

// MoveBy is the group transform for a drag by (dx, dy).
func MoveBy(dx, dy float64) GroupTransform {
	return GroupTransform{Kind: GestureMove, DX: dx, DY: dy}
}

// ScaleFromHandle computes the scale for dragging handle h of box from
// (startX, startY) to (x, y), anchored on the opposite handle. keepAspect
// applies the dominant factor to both axes.
func ScaleFromHandle(box Rect, h Handle, startX, startY, x, y float64, keepAspect bool) GroupTransform {
	ax, ay, _, _ := handlePoint(box, opposite(h))
	hx, hy, movesX, movesY := handlePoint(box, h)
	g := GroupTransform{Kind: GestureScale, KX: 1, KY: 1, AX: ax, AY: ay}
	if box.Degenerate() || !finite(x, y) {
		return g
	}

	if movesX && hx != ax {
		g.KX = (hx + (x - startX) - ax) / (hx - ax)
	}
	if movesY && hy != ay {
		g.KY = (hy + (y - startY) - ay) / (hy - ay)
	}
	if keepAspect {
		k := g.KX
		if !movesX || (movesY && math.Abs(g.KY-1) > math.Abs(g.KX-1)) {
			k = g.KY
		}
		g.KX, g.KY = k, k
	}
	return g
}

// RotateFromPointer computes the rotation about the box center swept by the
// pointer moving from (startX, startY) to (x, y). A positive step snaps the
// angle to multiples of step degrees.
func RotateFromPointer(box Rect, startX, startY, x, y, step float64) GroupTransform {
	cx, cy := box.Center()
	a0 := math.Atan2(startY-cy, startX-cx)
	a1 := math.Atan2(y-cy, x-cx)
	angle := normalizeDegrees((a1 - a0) * 180 / math.Pi)
	if step > 0 {
		angle = math.Round(angle/step) * step
	}
	if !finite(angle) {
		angle = 0
	}
	return GroupTransform{Kind: GestureRotate, Angle: angle, CX: cx, CY: cy}
}

// normalizeDegrees maps d into (-180, 180].
func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

func nearly(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
