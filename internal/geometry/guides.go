package geometry

import (
	"math"
	"slices"
	"sort"

	"github.com/printdesk/editor/internal/document"
)

type Axis string

const (
	// AxisVertical guides are vertical lines matching x coordinates.
	AxisVertical Axis = "vertical"
	// AxisHorizontal guides are horizontal lines matching y coordinates.
	AxisHorizontal Axis = "horizontal"
)

type GuideKind string

const (
	GuideEdge   GuideKind = "edge"
	GuideCenter GuideKind = "center"
)

// Precedence decides which adjustment wins when a guide and the grid both
// apply to the same axis.
type Precedence string

const (
	PrecedenceGuide Precedence = "guide"
	PrecedenceGrid  Precedence = "grid"
)

// GuideLine is a detected alignment between the moving box and another
// object during a drag. It is never persisted.
type GuideLine struct {
	Axis     Axis      `json:"axis"`
	Position float64   `json:"position"`
	Start    float64   `json:"start"`
	End      float64   `json:"end"`
	Kind     GuideKind `json:"kind"`
	TargetID string    `json:"targetId"`
}

const alignEpsilon = 1e-6

type lineRole int

const (
	roleStart lineRole = iota
	roleCenter
	roleEnd
)

type line struct {
	pos  float64
	role lineRole
	id   string
	box  Rect
}

// GuideIndex holds the candidate lines of every stationary object, sorted
// per axis, so each drag step costs O(log n + k) instead of a full scan.
// Build it once when a gesture starts.
type GuideIndex struct {
	xs []line
	ys []line
}

// NewGuideIndex indexes the visible top-level objects not in exclude.
// Objects with degenerate boxes never become alignment targets.
func NewGuideIndex(s *document.Scene, exclude []string) *GuideIndex {
	ix := &GuideIndex{}
	for _, id := range s.TopLevel() {
		if slices.Contains(exclude, id) {
			continue
		}
		obj, _ := s.Object(id)
		if !obj.Visible {
			continue
		}
		b, ok := ObjectBounds(s, id)
		if !ok || b.Degenerate() {
			continue
		}
		ix.add(id, b)
	}
	sort.SliceStable(ix.xs, func(i, j int) bool { return ix.xs[i].pos < ix.xs[j].pos })
	sort.SliceStable(ix.ys, func(i, j int) bool { return ix.ys[i].pos < ix.ys[j].pos })
	return ix
}

func (ix *GuideIndex) add(id string, b Rect) {
	cx, cy := b.Center()
	ix.xs = append(ix.xs,
		line{pos: b.X, role: roleStart, id: id, box: b},
		line{pos: cx, role: roleCenter, id: id, box: b},
		line{pos: b.Right(), role: roleEnd, id: id, box: b},
	)
	ix.ys = append(ix.ys,
		line{pos: b.Y, role: roleStart, id: id, box: b},
		line{pos: cy, role: roleCenter, id: id, box: b},
		line{pos: b.Bottom(), role: roleEnd, id: id, box: b},
	)
}

// Len returns the number of indexed objects.
func (ix *GuideIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.xs) / 3
}

func probes(lo, size float64) [3]float64 {
	return [3]float64{lo, lo + size/2, lo + size}
}

// nearest returns the smallest offset that aligns one of the probes with an
// indexed line within tol.
func nearest(lines []line, ps [3]float64, tol float64) (float64, bool) {
	best, found := 0.0, false
	for _, p := range ps {
		i := sort.Search(len(lines), func(i int) bool { return lines[i].pos >= p-tol })
		for ; i < len(lines) && lines[i].pos <= p+tol; i++ {
			off := lines[i].pos - p
			if !found || math.Abs(off) < math.Abs(best) {
				best, found = off, true
			}
		}
	}
	return best, found
}

// collect emits a guide for every indexed line that the box's lines sit on
// exactly.
func collect(lines []line, axis Axis, box Rect) []GuideLine {
	var ps [3]float64
	if axis == AxisVertical {
		ps = probes(box.X, box.Width)
	} else {
		ps = probes(box.Y, box.Height)
	}

	var out []GuideLine
	for role, p := range ps {
		i := sort.Search(len(lines), func(i int) bool { return lines[i].pos >= p-alignEpsilon })
		for ; i < len(lines) && lines[i].pos <= p+alignEpsilon; i++ {
			l := lines[i]
			g := GuideLine{Axis: axis, Position: l.pos, Kind: GuideEdge, TargetID: l.id}
			if lineRole(role) == roleCenter && l.role == roleCenter {
				g.Kind = GuideCenter
			}
			if axis == AxisVertical {
				g.Start, g.End = min(box.Y, l.box.Y), max(box.Bottom(), l.box.Bottom())
			} else {
				g.Start, g.End = min(box.X, l.box.X), max(box.Right(), l.box.Right())
			}
			if !slices.Contains(out, g) {
				out = append(out, g)
			}
		}
	}
	return out
}

// Assist adjusts in-progress drags with smart guides and the grid.
type Assist struct {
	Grid Grid
	// Guides enables smart alignment guides.
	Guides bool
	// Tolerance is the alignment distance in device pixels.
	Tolerance float64
	// Zoom converts device pixels to scene units; 0 means 1.
	Zoom       float64
	Precedence Precedence
}

// MoveResult is the adjusted drag delta for one step.
type MoveResult struct {
	DX, DY float64
	Guides []GuideLine
	// Err is ErrDegenerate when the moving box could not be assisted; the
	// raw delta is returned unchanged in that case.
	Err error
}

func (a Assist) tolerance() float64 {
	zoom := a.Zoom
	if zoom <= 0 || !finite(zoom) {
		zoom = 1
	}
	return a.Tolerance / zoom
}

// Move proposes the delta for dragging box by (dx, dy). Per axis, a guide
// within tolerance overrides the grid (or the reverse when Precedence is
// grid); the grid applies only to axes without an active guide.
func (a Assist) Move(ix *GuideIndex, box Rect, dx, dy float64) MoveResult {
	if !finite(dx, dy) {
		return MoveResult{Err: ErrDegenerate}
	}
	if box.Degenerate() {
		return MoveResult{DX: dx, DY: dy, Err: ErrDegenerate}
	}

	proposed := box.Offset(dx, dy)
	tol := a.tolerance()
	useGuides := a.Guides && ix != nil && tol > 0

	adjust := func(lines []line, lo, size float64) float64 {
		guideOff, guided := 0.0, false
		if useGuides {
			guideOff, guided = nearest(lines, probes(lo, size), tol)
		}
		gridOff, snapped := 0.0, a.Grid.Snapping()
		if snapped {
			gridOff = SnapValue(lo, a.Grid.Size) - lo
		}
		switch {
		case a.Precedence == PrecedenceGrid && snapped:
			return gridOff
		case guided:
			return guideOff
		case snapped:
			return gridOff
		}
		return 0
	}

	var xs, ys []line
	if ix != nil {
		xs, ys = ix.xs, ix.ys
	}
	res := MoveResult{
		DX: dx + adjust(xs, proposed.X, proposed.Width),
		DY: dy + adjust(ys, proposed.Y, proposed.Height),
	}

	if useGuides {
		final := box.Offset(res.DX, res.DY)
		res.Guides = append(collect(ix.xs, AxisVertical, final), collect(ix.ys, AxisHorizontal, final)...)
	}
	return res
}
