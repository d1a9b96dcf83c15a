package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrDuplicateID      = errors.New("duplicate object id")
	ErrInvalidScene     = errors.New("invalid scene")
)

type Kind string

const (
	KindShape Kind = "shape"
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindGroup Kind = "group"
)

func (k Kind) Valid() bool {
	switch k {
	case KindShape, KindText, KindImage, KindGroup:
		return true
	}
	return false
}

type ShapeType string

const (
	ShapeRect    ShapeType = "rect"
	ShapeEllipse ShapeType = "ellipse"
)

// Transform positions an object. X and Y are the top-left of the unscaled,
// unrotated box; scale and rotation (degrees) pivot on the box center.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
	Rotation float64 `json:"rotation"`
}

// At returns an unscaled, unrotated transform at (x, y).
func At(x, y float64) Transform {
	return Transform{X: x, Y: y, ScaleX: 1, ScaleY: 1}
}

// Finite reports whether every component is a finite number.
func (t Transform) Finite() bool {
	for _, v := range []float64{t.X, t.Y, t.ScaleX, t.ScaleY, t.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type Style struct {
	Fill        string  `json:"fill"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
	Opacity     float64 `json:"opacity"`
	FontSize    float64 `json:"fontSize,omitempty"`
	FontFamily  string  `json:"fontFamily,omitempty"`
}

// DefaultStyle is a black-filled, fully opaque style.
func DefaultStyle() Style {
	return Style{Fill: "#000000", Opacity: 1}
}

type Object struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Shape     ShapeType `json:"shape,omitempty"`
	Name      string    `json:"name,omitempty"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Transform Transform `json:"transform"`
	Z         int       `json:"z"`
	Style     Style     `json:"style"`
	Parent    string    `json:"parent,omitempty"`
	Children  []string  `json:"children,omitempty"`
	Text      string    `json:"text,omitempty"`
	AssetURL  string    `json:"assetUrl,omitempty"`
	Visible   bool      `json:"visible"`
	Locked    bool      `json:"locked"`
}

func (o Object) clone() Object {
	o.Children = slices.Clone(o.Children)
	return o
}

type Canvas struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Background string `json:"background"`
}

// Scene is the document being edited. Objects are kept in paint order
// (ascending Z); a group's children are drawn in place of the group.
type Scene struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Canvas  Canvas   `json:"canvas"`
	Objects []Object `json:"objects"`
}

// Clone returns a deep copy of the scene.
func (s *Scene) Clone() *Scene {
	out := &Scene{
		ID:      s.ID,
		Name:    s.Name,
		Canvas:  s.Canvas,
		Objects: make([]Object, len(s.Objects)),
	}
	for i, o := range s.Objects {
		out.Objects[i] = o.clone()
	}
	return out
}

func (s *Scene) index(id string) int {
	for i := range s.Objects {
		if s.Objects[i].ID == id {
			return i
		}
	}
	return -1
}

// Object returns a copy of the object with the given id.
func (s *Scene) Object(id string) (Object, bool) {
	i := s.index(id)
	if i < 0 {
		return Object{}, false
	}
	return s.Objects[i].clone(), true
}

// Has reports whether the scene contains id.
func (s *Scene) Has(id string) bool {
	return s.index(id) >= 0
}

// TopLevel returns the ids of objects without a parent, in paint order.
func (s *Scene) TopLevel() []string {
	var ids []string
	for _, o := range s.Objects {
		if o.Parent == "" {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// ChildrenOf returns the children of a group in paint order.
func (s *Scene) ChildrenOf(id string) []string {
	var ids []string
	for _, o := range s.Objects {
		if o.Parent == id && id != "" {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Descendants returns every object below id, depth first.
func (s *Scene) Descendants(id string) []string {
	var out []string
	for _, child := range s.ChildrenOf(id) {
		out = append(out, child)
		out = append(out, s.Descendants(child)...)
	}
	return out
}

// Root returns the top-level ancestor of id.
func (s *Scene) Root(id string) string {
	for {
		o, ok := s.Object(id)
		if !ok || o.Parent == "" {
			return id
		}
		id = o.Parent
	}
}

func (s *Scene) maxZ() int {
	z := 0
	for i, o := range s.Objects {
		if i == 0 || o.Z > z {
			z = o.Z
		}
	}
	return z
}

func (s *Scene) sortByZ() {
	sort.SliceStable(s.Objects, func(i, j int) bool {
		return s.Objects[i].Z < s.Objects[j].Z
	})
}

// Validate checks id uniqueness and parent/child consistency.
func (s *Scene) Validate() error {
	if s.Canvas.Width <= 0 || s.Canvas.Height <= 0 {
		return fmt.Errorf("%w: canvas size %dx%d", ErrInvalidScene, s.Canvas.Width, s.Canvas.Height)
	}
	seen := make(map[string]*Object, len(s.Objects))
	for i := range s.Objects {
		o := &s.Objects[i]
		if o.ID == "" {
			return fmt.Errorf("%w: object without id", ErrInvalidScene)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, o.ID)
		}
		if !o.Kind.Valid() {
			return fmt.Errorf("%w: object %s has kind %q", ErrInvalidScene, o.ID, o.Kind)
		}
		seen[o.ID] = o
	}
	for _, o := range seen {
		if o.Parent != "" {
			p, ok := seen[o.Parent]
			if !ok || p.Kind != KindGroup || !slices.Contains(p.Children, o.ID) {
				return fmt.Errorf("%w: object %s has dangling parent %s", ErrInvalidScene, o.ID, o.Parent)
			}
		}
		for n, c := range o.Children {
			child, ok := seen[c]
			if !ok || child.Parent != o.ID {
				return fmt.Errorf("%w: group %s lists foreign child %s", ErrInvalidScene, o.ID, c)
			}
			if slices.Contains(o.Children[:n], c) {
				return fmt.Errorf("%w: group %s lists child %s twice", ErrInvalidScene, o.ID, c)
			}
		}
	}
	return checkAcyclic(seen)
}

// checkAcyclic rejects parent chains that loop back on themselves.
func checkAcyclic(objects map[string]*Object) error {
	rooted := make(map[string]bool, len(objects))
	for id := range objects {
		path := make(map[string]bool)
		for cur := id; cur != "" && !rooted[cur]; cur = objects[cur].Parent {
			if path[cur] {
				return fmt.Errorf("%w: object %s is its own ancestor", ErrInvalidScene, cur)
			}
			path[cur] = true
		}
		for cur := range path {
			rooted[cur] = true
		}
	}
	return nil
}

// Encode serializes the scene as the JSON persistence payload.
func (s *Scene) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal scene: %w", err)
	}
	return data, nil
}

// Decode parses and validates a persisted scene.
func Decode(data []byte) (*Scene, error) {
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.sortByZ()
	return &s, nil
}
