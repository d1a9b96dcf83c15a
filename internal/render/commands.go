package render

import (
	"encoding/json"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/geometry"
)

// PathCommand is a single path instruction: ["M", x, y], ["L", x, y],
// ["C", c1x, c1y, c2x, c2y, x, y], ["Q", cx, cy, x, y] or ["Z"].
type PathCommand []any

// Draw operations.
const (
	OpPath  = "path"
	OpImage = "image"
	OpText  = "text"
)

// Overlay layers. Commands without a layer belong to the document.
const (
	LayerGrid      = "grid"
	LayerGuide     = "guide"
	LayerSelection = "selection"
)

// DrawCommand represents a single drawing operation for the host surface.
// Surfaces receive a list of these in painter's order (back to front).
type DrawCommand struct {
	Op          string        `json:"op"`                    // "path", "image", "text"
	Layer       string        `json:"layer,omitempty"`       // overlay layer, empty for document content
	ObjectID    string        `json:"objectId,omitempty"`    // For hit correlation
	Transform   []float64     `json:"transform,omitempty"`   // [a, b, c, d, e, f] affine matrix
	Path        []PathCommand `json:"path,omitempty"`        // Path data for "path" ops
	Fill        string        `json:"fill,omitempty"`        // Fill color
	Stroke      string        `json:"stroke,omitempty"`      // Stroke color
	StrokeWidth float64       `json:"strokeWidth,omitempty"` // Stroke width
	Opacity     float64       `json:"opacity,omitempty"`     // Global alpha
	Width       float64       `json:"width,omitempty"`       // Box size for image and text ops
	Height      float64       `json:"height,omitempty"`
	AssetURL    string        `json:"assetUrl,omitempty"`
	Text        string        `json:"text,omitempty"`
	FontSize    float64       `json:"fontSize,omitempty"`
	FontFamily  string        `json:"fontFamily,omitempty"`
}

// Overlay is the editor chrome drawn above the document.
type Overlay struct {
	Grid      geometry.Grid
	Selection geometry.Rect
	// Handles draws scale and rotate handles on the selection box.
	Handles bool
	Guides  []geometry.GuideLine
	// Zoom keeps overlay strokes one device pixel wide; 0 means 1.
	Zoom float64
}

const (
	gridColor      = "#e5e7eb"
	guideColor     = "#ec4899"
	selectionColor = "#2563eb"
	handleSize     = 8.0
)

// Compile generates the draw command buffer for a scene plus overlay.
// Document commands come first in paint order, then grid, guides and
// the selection box.
func Compile(s *document.Scene, overlay Overlay) []DrawCommand {
	if s == nil {
		return nil
	}

	var commands []DrawCommand
	for _, id := range s.TopLevel() {
		obj, _ := s.Object(id)
		compileObject(s, obj, geometry.Identity(), 1, &commands)
	}

	px := 1.0
	if overlay.Zoom > 0 {
		px = 1 / overlay.Zoom
	}
	if overlay.Grid.Visible && overlay.Grid.Size > 0 {
		commands = append(commands, gridCommand(s.Canvas, overlay.Grid.Size, px))
	}
	for _, g := range overlay.Guides {
		commands = append(commands, guideCommand(g, px))
	}
	if !overlay.Selection.Degenerate() {
		commands = append(commands, selectionCommands(overlay.Selection, overlay.Handles, px)...)
	}
	return commands
}

// compileObject emits commands for an object and, for groups, its children.
func compileObject(s *document.Scene, obj document.Object, parent geometry.Matrix2D, parentOpacity float64, commands *[]DrawCommand) {
	if !obj.Visible {
		return
	}

	world := parent.Multiply(geometry.LocalMatrix(obj))
	opacity := parentOpacity * obj.Style.Opacity

	switch obj.Kind {
	case document.KindGroup:
		for _, childID := range s.ChildrenOf(obj.ID) {
			child, _ := s.Object(childID)
			compileObject(s, child, world, opacity, commands)
		}

	case document.KindShape:
		var path []PathCommand
		if obj.Shape == document.ShapeEllipse {
			path = ellipsePath(obj.Width, obj.Height)
		} else {
			path = rectPath(0, 0, obj.Width, obj.Height)
		}
		*commands = append(*commands, DrawCommand{
			Op:          OpPath,
			ObjectID:    obj.ID,
			Transform:   world.ToSlice(),
			Path:        path,
			Fill:        obj.Style.Fill,
			Stroke:      obj.Style.Stroke,
			StrokeWidth: obj.Style.StrokeWidth,
			Opacity:     opacity,
		})

	case document.KindImage:
		*commands = append(*commands, DrawCommand{
			Op:        OpImage,
			ObjectID:  obj.ID,
			Transform: world.ToSlice(),
			Opacity:   opacity,
			Width:     obj.Width,
			Height:    obj.Height,
			AssetURL:  obj.AssetURL,
		})

	case document.KindText:
		*commands = append(*commands, DrawCommand{
			Op:         OpText,
			ObjectID:   obj.ID,
			Transform:  world.ToSlice(),
			Opacity:    opacity,
			Fill:       obj.Style.Fill,
			Width:      obj.Width,
			Height:     obj.Height,
			Text:       obj.Text,
			FontSize:   obj.Style.FontSize,
			FontFamily: obj.Style.FontFamily,
		})
	}
}

func rectPath(x, y, w, h float64) []PathCommand {
	return []PathCommand{
		{"M", x, y},
		{"L", x + w, y},
		{"L", x + w, y + h},
		{"L", x, y + h},
		{"Z"},
	}
}

// ellipsePath approximates the ellipse inscribed in (0, 0, w, h) with four
// bezier curves.
func ellipsePath(w, h float64) []PathCommand {
	rx, ry := w/2, h/2
	cx, cy := rx, ry

	// k = 4 * (sqrt(2) - 1) / 3
	k := 0.5522847498
	kx, ky := rx*k, ry*k

	return []PathCommand{
		{"M", cx + rx, cy},
		{"C", cx + rx, cy + ky, cx + kx, cy + ry, cx, cy + ry},
		{"C", cx - kx, cy + ry, cx - rx, cy + ky, cx - rx, cy},
		{"C", cx - rx, cy - ky, cx - kx, cy - ry, cx, cy - ry},
		{"C", cx + kx, cy - ry, cx + rx, cy - ky, cx + rx, cy},
		{"Z"},
	}
}

func gridCommand(c document.Canvas, size, px float64) DrawCommand {
	w, h := float64(c.Width), float64(c.Height)
	var path []PathCommand
	for x := size; x < w; x += size {
		path = append(path, PathCommand{"M", x, 0.0}, PathCommand{"L", x, h})
	}
	for y := size; y < h; y += size {
		path = append(path, PathCommand{"M", 0.0, y}, PathCommand{"L", w, y})
	}
	return DrawCommand{
		Op:          OpPath,
		Layer:       LayerGrid,
		Path:        path,
		Stroke:      gridColor,
		StrokeWidth: px,
		Opacity:     1,
	}
}

func guideCommand(g geometry.GuideLine, px float64) DrawCommand {
	var path []PathCommand
	if g.Axis == geometry.AxisVertical {
		path = []PathCommand{{"M", g.Position, g.Start}, {"L", g.Position, g.End}}
	} else {
		path = []PathCommand{{"M", g.Start, g.Position}, {"L", g.End, g.Position}}
	}
	return DrawCommand{
		Op:          OpPath,
		Layer:       LayerGuide,
		ObjectID:    g.TargetID,
		Path:        path,
		Stroke:      guideColor,
		StrokeWidth: px,
		Opacity:     1,
	}
}

func selectionCommands(box geometry.Rect, handles bool, px float64) []DrawCommand {
	commands := []DrawCommand{{
		Op:          OpPath,
		Layer:       LayerSelection,
		Path:        rectPath(box.X, box.Y, box.Width, box.Height),
		Stroke:      selectionColor,
		StrokeWidth: px,
		Opacity:     1,
	}}
	if !handles {
		return commands
	}

	size := handleSize * px
	for _, h := range geometry.ScaleHandles {
		x, y := geometry.HandlePosition(box, h)
		commands = append(commands, DrawCommand{
			Op:          OpPath,
			Layer:       LayerSelection,
			Path:        rectPath(x-size/2, y-size/2, size, size),
			Fill:        "#ffffff",
			Stroke:      selectionColor,
			StrokeWidth: px,
			Opacity:     1,
		})
	}

	rx, ry := geometry.HandlePosition(box, geometry.HandleRotate)
	stem := []PathCommand{{"M", rx, box.Y}, {"L", rx, ry}}
	knob := ellipsePath(size, size)
	for _, p := range knob {
		offsetPath(p, rx-size/2, ry-size/2)
	}
	commands = append(commands,
		DrawCommand{Op: OpPath, Layer: LayerSelection, Path: stem, Stroke: selectionColor, StrokeWidth: px, Opacity: 1},
		DrawCommand{Op: OpPath, Layer: LayerSelection, Path: knob, Fill: "#ffffff", Stroke: selectionColor, StrokeWidth: px, Opacity: 1},
	)
	return commands
}

// offsetPath shifts the coordinates of p in place.
func offsetPath(p PathCommand, dx, dy float64) {
	for i := 1; i+1 < len(p); i += 2 {
		p[i] = p[i].(float64) + dx
		p[i+1] = p[i+1].(float64) + dy
	}
}

// CommandsToJSON serializes draw commands to JSON.
func CommandsToJSON(commands []DrawCommand) (string, error) {
	data, err := json.Marshal(commands)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}
