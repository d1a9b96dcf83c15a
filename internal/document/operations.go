package document

import (
	"fmt"
	"slices"
)

const (
	OpCreate     = "object.create"
	OpDelete     = "object.delete"
	OpTransform  = "object.transform"
	OpStyle      = "object.style"
	OpReorder    = "object.reorder"
	OpGroup      = "object.group"
	OpUngroup    = "object.ungroup"
	OpVisibility = "object.visibility"
	OpLocked     = "object.locked"
	OpCanvas     = "canvas.update"
)

type ReorderMode string

const (
	ReorderFront    ReorderMode = "front"
	ReorderBack     ReorderMode = "back"
	ReorderForward  ReorderMode = "forward"
	ReorderBackward ReorderMode = "backward"
)

// StylePatch carries only the style fields that change.
type StylePatch struct {
	Fill        *string  `json:"fill,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`
	FontFamily  *string  `json:"fontFamily,omitempty"`
}

type CanvasPatch struct {
	Width      *int    `json:"width,omitempty"`
	Height     *int    `json:"height,omitempty"`
	Background *string `json:"background,omitempty"`
}

// Operation is a single edit applied to a scene.
type Operation struct {
	Type      string   `json:"type"`
	ObjectID  string   `json:"objectId,omitempty"`
	ObjectIDs []string `json:"objectIds,omitempty"`

	// object.create
	Object   *Object `json:"object,omitempty"`
	ParentID string  `json:"parentId,omitempty"`

	// object.transform, object.ungroup (baked child transforms)
	Transforms map[string]Transform `json:"transforms,omitempty"`

	Style   *StylePatch `json:"style,omitempty"`
	Reorder ReorderMode `json:"reorder,omitempty"`

	// object.group
	GroupID string `json:"groupId,omitempty"`

	Visible *bool        `json:"visible,omitempty"`
	Locked  *bool        `json:"locked,omitempty"`
	Canvas  *CanvasPatch `json:"canvas,omitempty"`
}

func (op Operation) targets() []string {
	if len(op.ObjectIDs) > 0 {
		return op.ObjectIDs
	}
	if op.ObjectID != "" {
		return []string{op.ObjectID}
	}
	return nil
}

// Apply runs op against the scene. A failing operation leaves the scene
// unchanged.
func (s *Scene) Apply(op Operation) error {
	next := s.Clone()
	if err := next.apply(op); err != nil {
		return fmt.Errorf("apply %s: %w", op.Type, err)
	}
	next.sortByZ()
	*s = *next
	return nil
}

func (s *Scene) apply(op Operation) error {
	switch op.Type {
	case OpCreate:
		return s.applyCreate(op)
	case OpDelete:
		return s.applyDelete(op)
	case OpTransform:
		return s.applyTransform(op)
	case OpStyle:
		return s.applyStyle(op)
	case OpReorder:
		return s.applyReorder(op)
	case OpGroup:
		return s.applyGroup(op)
	case OpUngroup:
		return s.applyUngroup(op)
	case OpVisibility:
		return s.applyVisibility(op)
	case OpLocked:
		return s.applyLocked(op)
	case OpCanvas:
		return s.applyCanvas(op)
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
}

func (s *Scene) applyCreate(op Operation) error {
	if op.Object == nil {
		return fmt.Errorf("%w: missing object", ErrInvalidOperation)
	}
	obj := op.Object.clone()
	if obj.ID == "" {
		return fmt.Errorf("%w: object without id", ErrInvalidOperation)
	}
	if s.Has(obj.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, obj.ID)
	}
	if !obj.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidOperation, obj.Kind)
	}
	if !obj.Transform.Finite() {
		return fmt.Errorf("%w: non-finite transform", ErrInvalidOperation)
	}
	if obj.Kind == KindGroup && len(obj.Children) > 0 {
		return fmt.Errorf("%w: groups are created with object.group", ErrInvalidOperation)
	}
	if obj.Z == 0 && len(s.Objects) > 0 {
		obj.Z = s.maxZ() + 1
	}

	obj.Parent = ""
	if op.ParentID != "" {
		i := s.index(op.ParentID)
		if i < 0 {
			return fmt.Errorf("%w: parent %s", ErrObjectNotFound, op.ParentID)
		}
		if s.Objects[i].Kind != KindGroup {
			return fmt.Errorf("%w: parent %s is not a group", ErrInvalidOperation, op.ParentID)
		}
		obj.Parent = op.ParentID
		s.Objects[i].Children = append(s.Objects[i].Children, obj.ID)
	}

	s.Objects = append(s.Objects, obj)
	return nil
}

func (s *Scene) applyDelete(op Operation) error {
	ids := op.targets()
	if len(ids) == 0 {
		return fmt.Errorf("%w: nothing to delete", ErrInvalidOperation)
	}

	doomed := make(map[string]bool)
	for _, id := range ids {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		doomed[id] = true
		for _, d := range s.Descendants(id) {
			doomed[d] = true
		}
	}

	// Detach from surviving parents
	for i := range s.Objects {
		o := &s.Objects[i]
		if doomed[o.ID] || len(o.Children) == 0 {
			continue
		}
		o.Children = slices.DeleteFunc(o.Children, func(c string) bool { return doomed[c] })
	}

	s.Objects = slices.DeleteFunc(s.Objects, func(o Object) bool { return doomed[o.ID] })
	return nil
}

func (s *Scene) applyTransform(op Operation) error {
	if len(op.Transforms) == 0 {
		return fmt.Errorf("%w: missing transforms", ErrInvalidOperation)
	}
	for id, t := range op.Transforms {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		if !t.Finite() {
			return fmt.Errorf("%w: non-finite transform for %s", ErrInvalidOperation, id)
		}
		s.Objects[i].Transform = t
	}
	return nil
}

func (s *Scene) applyStyle(op Operation) error {
	if op.Style == nil {
		return fmt.Errorf("%w: missing style", ErrInvalidOperation)
	}
	ids := op.targets()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no target", ErrInvalidOperation)
	}
	p := op.Style
	if p.Opacity != nil && (*p.Opacity < 0 || *p.Opacity > 1) {
		return fmt.Errorf("%w: opacity %v out of range", ErrInvalidOperation, *p.Opacity)
	}
	if p.StrokeWidth != nil && *p.StrokeWidth < 0 {
		return fmt.Errorf("%w: negative stroke width", ErrInvalidOperation)
	}
	for _, id := range ids {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		st := &s.Objects[i].Style
		if p.Fill != nil {
			st.Fill = *p.Fill
		}
		if p.Stroke != nil {
			st.Stroke = *p.Stroke
		}
		if p.StrokeWidth != nil {
			st.StrokeWidth = *p.StrokeWidth
		}
		if p.Opacity != nil {
			st.Opacity = *p.Opacity
		}
		if p.FontSize != nil {
			st.FontSize = *p.FontSize
		}
		if p.FontFamily != nil {
			st.FontFamily = *p.FontFamily
		}
	}
	return nil
}

// applyReorder moves an object within its siblings. Z values need not be
// contiguous, so front/back only have to clear the current extremes.
func (s *Scene) applyReorder(op Operation) error {
	i := s.index(op.ObjectID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, op.ObjectID)
	}
	parent := s.Objects[i].Parent

	var siblings []int
	for j := range s.Objects {
		if s.Objects[j].Parent == parent {
			siblings = append(siblings, j)
		}
	}
	// s.Objects is sorted by Z, so siblings are too.
	pos := slices.Index(siblings, i)

	switch op.Reorder {
	case ReorderFront:
		if last := siblings[len(siblings)-1]; last != i {
			s.Objects[i].Z = s.Objects[last].Z + 1
		}
	case ReorderBack:
		if first := siblings[0]; first != i {
			s.Objects[i].Z = s.Objects[first].Z - 1
		}
	case ReorderForward:
		if pos < len(siblings)-1 {
			s.swapZ(i, siblings[pos+1])
		}
	case ReorderBackward:
		if pos > 0 {
			s.swapZ(i, siblings[pos-1])
		}
	default:
		return fmt.Errorf("%w: reorder mode %q", ErrInvalidOperation, op.Reorder)
	}
	return nil
}

func (s *Scene) swapZ(i, j int) {
	zi, zj := s.Objects[i].Z, s.Objects[j].Z
	if zi == zj {
		// Equal Z ties resolve by slice position; break the tie explicitly.
		if i < j {
			zj++
		} else {
			zi++
		}
	}
	s.Objects[i].Z, s.Objects[j].Z = zj, zi
}

func (s *Scene) applyGroup(op Operation) error {
	ids := op.targets()
	if len(ids) == 0 {
		return fmt.Errorf("%w: nothing to group", ErrInvalidOperation)
	}
	if op.GroupID == "" {
		return fmt.Errorf("%w: missing group id", ErrInvalidOperation)
	}
	if s.Has(op.GroupID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, op.GroupID)
	}

	parent := ""
	topZ := 0
	members := make([]int, 0, len(ids))
	for n, id := range ids {
		if slices.Contains(ids[:n], id) {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidOperation, id)
		}
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		if n == 0 {
			parent = s.Objects[i].Parent
			topZ = s.Objects[i].Z
		} else if s.Objects[i].Parent != parent {
			return fmt.Errorf("%w: grouped objects must share a parent", ErrInvalidOperation)
		}
		topZ = max(topZ, s.Objects[i].Z)
		members = append(members, i)
	}

	// Members keep their paint order inside the group.
	slices.Sort(members)
	children := make([]string, len(members))
	for n, i := range members {
		children[n] = s.Objects[i].ID
		s.Objects[i].Parent = op.GroupID
	}

	group := Object{
		ID:        op.GroupID,
		Kind:      KindGroup,
		Transform: At(0, 0),
		Z:         topZ,
		Style:     Style{Opacity: 1},
		Parent:    parent,
		Children:  children,
		Visible:   true,
	}

	if parent != "" {
		p := s.index(parent)
		siblings := slices.DeleteFunc(s.Objects[p].Children, func(c string) bool { return slices.Contains(children, c) })
		s.Objects[p].Children = append(siblings, op.GroupID)
	}

	s.Objects = append(s.Objects, group)
	return nil
}

// applyUngroup dissolves a group. Children move to the group's parent and
// take the baked transforms supplied in op.Transforms, if any.
func (s *Scene) applyUngroup(op Operation) error {
	gi := s.index(op.ObjectID)
	if gi < 0 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, op.ObjectID)
	}
	group := s.Objects[gi].clone()
	if group.Kind != KindGroup {
		return fmt.Errorf("%w: %s is not a group", ErrInvalidOperation, group.ID)
	}

	for _, c := range group.Children {
		i := s.index(c)
		s.Objects[i].Parent = group.Parent
		if t, ok := op.Transforms[c]; ok {
			if !t.Finite() {
				return fmt.Errorf("%w: non-finite transform for %s", ErrInvalidOperation, c)
			}
			s.Objects[i].Transform = t
		}
	}

	if group.Parent != "" {
		p := s.index(group.Parent)
		var children []string
		for _, c := range s.Objects[p].Children {
			if c == group.ID {
				children = append(children, group.Children...)
				continue
			}
			children = append(children, c)
		}
		s.Objects[p].Children = children
	}

	s.Objects = slices.Delete(s.Objects, gi, gi+1)
	return nil
}

func (s *Scene) applyVisibility(op Operation) error {
	if op.Visible == nil {
		return fmt.Errorf("%w: missing visible flag", ErrInvalidOperation)
	}
	return s.eachTarget(op, func(o *Object) { o.Visible = *op.Visible })
}

func (s *Scene) applyLocked(op Operation) error {
	if op.Locked == nil {
		return fmt.Errorf("%w: missing locked flag", ErrInvalidOperation)
	}
	return s.eachTarget(op, func(o *Object) { o.Locked = *op.Locked })
}

func (s *Scene) eachTarget(op Operation, fn func(o *Object)) error {
	ids := op.targets()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no target", ErrInvalidOperation)
	}
	for _, id := range ids {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		fn(&s.Objects[i])
	}
	return nil
}

func (s *Scene) applyCanvas(op Operation) error {
	if op.Canvas == nil {
		return fmt.Errorf("%w: missing canvas changes", ErrInvalidOperation)
	}
	if op.Canvas.Width != nil {
		if *op.Canvas.Width <= 0 {
			return fmt.Errorf("%w: width %d", ErrInvalidOperation, *op.Canvas.Width)
		}
		s.Canvas.Width = *op.Canvas.Width
	}
	if op.Canvas.Height != nil {
		if *op.Canvas.Height <= 0 {
			return fmt.Errorf("%w: height %d", ErrInvalidOperation, *op.Canvas.Height)
		}
		s.Canvas.Height = *op.Canvas.Height
	}
	if op.Canvas.Background != nil {
		s.Canvas.Background = *op.Canvas.Background
	}
	return nil
}
