package document

import (
	"github.com/printdesk/editor/internal/typeid"
)

// Standard business card at 300 DPI (3.5in x 2in).
const (
	CardWidth  = 1050
	CardHeight = 600
)

// NewBlankScene creates an empty business-card scene.
func NewBlankScene(sceneID string) *Scene {
	return &Scene{
		ID:   sceneID,
		Name: "Untitled",
		Canvas: Canvas{
			Width:      CardWidth,
			Height:     CardHeight,
			Background: "#ffffff",
		},
		Objects: []Object{},
	}
}

// NewShape creates a visible rect or ellipse shape at (x, y).
func NewShape(id string, shape ShapeType, x, y, w, h float64, fill string) Object {
	return Object{
		ID:        id,
		Kind:      KindShape,
		Shape:     shape,
		Width:     w,
		Height:    h,
		Transform: At(x, y),
		Style:     Style{Fill: fill, Opacity: 1},
		Visible:   true,
	}
}

// NewText creates a visible text box at (x, y).
func NewText(id, text string, x, y, w, h, size float64) Object {
	return Object{
		ID:        id,
		Kind:      KindText,
		Width:     w,
		Height:    h,
		Transform: At(x, y),
		Style:     Style{Fill: "#1f2937", Opacity: 1, FontSize: size, FontFamily: "Inter"},
		Text:      text,
		Visible:   true,
	}
}

// NewImage creates a visible image placeholder at (x, y).
func NewImage(id, url string, x, y, w, h float64) Object {
	return Object{
		ID:        id,
		Kind:      KindImage,
		Width:     w,
		Height:    h,
		Transform: At(x, y),
		Style:     Style{Opacity: 1},
		AssetURL:  url,
		Visible:   true,
	}
}

// NewSampleScene builds a populated business card.
func NewSampleScene(sceneID string) *Scene {
	s := NewBlankScene(sceneID)
	s.Name = "Sample card"

	band := NewShape(typeid.NewObjectID(), ShapeRect, 0, 0, 1050, 120, "#0f3460")
	band.Name = "Header band"
	band.Z = 1

	logo := NewShape(typeid.NewObjectID(), ShapeEllipse, 60, 180, 160, 160, "#e94560")
	logo.Name = "Logo"
	logo.Style.Stroke = "#16213e"
	logo.Style.StrokeWidth = 4
	logo.Z = 2

	name := NewText(typeid.NewObjectID(), "Ada Lovelace", 280, 190, 600, 80, 56)
	name.Name = "Name"
	name.Z = 3

	title := NewText(typeid.NewObjectID(), "Analytical Engineer", 280, 280, 600, 50, 32)
	title.Name = "Title"
	title.Z = 4

	photo := NewImage(typeid.NewObjectID(), "/assets/portrait.png", 860, 400, 140, 140)
	photo.Name = "Photo"
	photo.Z = 5

	s.Objects = append(s.Objects, band, logo, name, title, photo)
	return s
}
