package geometry

import (
	"errors"
	"math"
)

// ErrDegenerate marks geometry that cannot be snapped or aligned, such as a
// zero-area box from an object scaled to zero.
var ErrDegenerate = errors.New("degenerate geometry")

// Grid configures snap-to-grid. Visible only controls whether the grid is
// drawn; it is independent of Snap.
type Grid struct {
	Size    float64 `json:"size"`
	Snap    bool    `json:"snap"`
	Visible bool    `json:"visible"`
}

// Snapping reports whether positions should be snapped.
func (g Grid) Snapping() bool {
	return g.Snap && g.Size > 0 && finite(g.Size)
}

// SnapValue rounds v to the nearest multiple of size.
func SnapValue(v, size float64) float64 {
	if size <= 0 || !finite(v, size) {
		return v
	}
	return math.Round(v/size) * size
}
