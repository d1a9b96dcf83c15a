package document

import (
	"errors"
	"slices"
	"testing"
)

func testScene(t *testing.T) *Scene {
	t.Helper()
	s := NewBlankScene("doc_test")
	for _, obj := range []Object{
		NewShape("a", ShapeRect, 10, 10, 40, 40, "#ff0000"),
		NewShape("b", ShapeRect, 100, 10, 40, 40, "#00ff00"),
		NewShape("c", ShapeEllipse, 200, 10, 40, 40, "#0000ff"),
	} {
		if err := s.Apply(Operation{Type: OpCreate, Object: &obj}); err != nil {
			t.Fatalf("create %s: %v", obj.ID, err)
		}
	}
	return s
}

func order(s *Scene) []string {
	ids := make([]string, len(s.Objects))
	for i, o := range s.Objects {
		ids[i] = o.ID
	}
	return ids
}

func TestCreateAssignsIncreasingZ(t *testing.T) {
	s := testScene(t)
	if got := order(s); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected paint order [a b c], got %v", got)
	}
	if s.Objects[0].Z >= s.Objects[1].Z || s.Objects[1].Z >= s.Objects[2].Z {
		t.Errorf("expected strictly increasing z, got %d %d %d", s.Objects[0].Z, s.Objects[1].Z, s.Objects[2].Z)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := testScene(t)
	dup := NewShape("a", ShapeRect, 0, 0, 1, 1, "")
	err := s.Apply(Operation{Type: OpCreate, Object: &dup})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if len(s.Objects) != 3 {
		t.Errorf("expected scene untouched, got %d objects", len(s.Objects))
	}
}

func TestTransformKeepsID(t *testing.T) {
	s := testScene(t)
	tr := At(300, 400)
	tr.Rotation = 30
	if err := s.Apply(Operation{Type: OpTransform, Transforms: map[string]Transform{"b": tr}}); err != nil {
		t.Fatal(err)
	}
	b, ok := s.Object("b")
	if !ok {
		t.Fatal("object b disappeared")
	}
	if b.Transform != tr {
		t.Errorf("expected %+v, got %+v", tr, b.Transform)
	}
}

func TestFailedOperationLeavesSceneUntouched(t *testing.T) {
	s := testScene(t)
	before := s.Clone()
	err := s.Apply(Operation{Type: OpTransform, Transforms: map[string]Transform{
		"a":       At(1, 1),
		"missing": At(2, 2),
	}})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	a, _ := s.Object("a")
	want, _ := before.Object("a")
	if a.Transform != want.Transform {
		t.Errorf("partial apply: a moved to %+v", a.Transform)
	}
}

func TestStylePatch(t *testing.T) {
	s := testScene(t)
	fill := "#123456"
	opacity := 0.5
	err := s.Apply(Operation{Type: OpStyle, ObjectIDs: []string{"a", "c"}, Style: &StylePatch{Fill: &fill, Opacity: &opacity}})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "c"} {
		o, _ := s.Object(id)
		if o.Style.Fill != fill || o.Style.Opacity != opacity {
			t.Errorf("%s: expected fill %s opacity %v, got %+v", id, fill, opacity, o.Style)
		}
	}

	bad := 1.5
	if err := s.Apply(Operation{Type: OpStyle, ObjectID: "a", Style: &StylePatch{Opacity: &bad}}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for opacity 1.5, got %v", err)
	}
}

func TestReorder(t *testing.T) {
	cases := []struct {
		name string
		id   string
		mode ReorderMode
		want []string
	}{
		{"front", "a", ReorderFront, []string{"b", "c", "a"}},
		{"back", "c", ReorderBack, []string{"c", "a", "b"}},
		{"forward", "a", ReorderForward, []string{"b", "a", "c"}},
		{"backward", "c", ReorderBackward, []string{"a", "c", "b"}},
		{"front already", "c", ReorderFront, []string{"a", "b", "c"}},
		{"backward at bottom", "a", ReorderBackward, []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testScene(t)
			if err := s.Apply(Operation{Type: OpReorder, ObjectID: tc.id, Reorder: tc.mode}); err != nil {
				t.Fatal(err)
			}
			if got := order(s); !slices.Equal(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestReorderBreaksEqualZTies(t *testing.T) {
	s := NewBlankScene("doc_test")
	s.Objects = []Object{
		NewShape("a", ShapeRect, 0, 0, 1, 1, ""),
		NewShape("b", ShapeRect, 0, 0, 1, 1, ""),
	}
	if err := s.Apply(Operation{Type: OpReorder, ObjectID: "a", Reorder: ReorderForward}); err != nil {
		t.Fatal(err)
	}
	if got := order(s); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("expected [b a], got %v", got)
	}
}

func TestGroupAndUngroup(t *testing.T) {
	s := testScene(t)
	if err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"c", "a"}, GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	g, ok := s.Object("g")
	if !ok {
		t.Fatal("group not created")
	}
	if !slices.Equal(g.Children, []string{"a", "c"}) {
		t.Errorf("expected children in paint order [a c], got %v", g.Children)
	}
	if got := s.TopLevel(); !slices.Equal(got, []string{"b", "g"}) {
		t.Errorf("expected top level [b g], got %v", got)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("grouped scene invalid: %v", err)
	}

	moved := At(55, 66)
	err := s.Apply(Operation{Type: OpUngroup, ObjectID: "g", Transforms: map[string]Transform{"a": moved}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Has("g") {
		t.Error("group still present after ungroup")
	}
	a, _ := s.Object("a")
	if a.Parent != "" || a.Transform != moved {
		t.Errorf("expected a top-level at %+v, got parent %q transform %+v", moved, a.Parent, a.Transform)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("ungrouped scene invalid: %v", err)
	}
}

func TestGroupRejectsMixedParents(t *testing.T) {
	s := testScene(t)
	if err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"a", "b"}, GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"a", "c"}, GroupID: "g2"})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestGroupRejectsRepeatedMembers(t *testing.T) {
	s := testScene(t)
	err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"a", "b", "a"}, GroupID: "g"})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if s.Has("g") {
		t.Error("expected the scene untouched after a rejected group")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("scene no longer valid: %v", err)
	}
}

func TestDeleteGroupRemovesSubtree(t *testing.T) {
	s := testScene(t)
	if err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"a", "b"}, GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(Operation{Type: OpDelete, ObjectID: "g"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s); !slices.Equal(got, []string{"c"}) {
		t.Errorf("expected only c left, got %v", got)
	}
}

func TestDeleteChildDetachesFromGroup(t *testing.T) {
	s := testScene(t)
	if err := s.Apply(Operation{Type: OpGroup, ObjectIDs: []string{"a", "b"}, GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(Operation{Type: OpDelete, ObjectID: "a"}); err != nil {
		t.Fatal(err)
	}
	g, _ := s.Object("g")
	if !slices.Equal(g.Children, []string{"b"}) {
		t.Errorf("expected children [b], got %v", g.Children)
	}
}

func TestCanvasUpdate(t *testing.T) {
	s := testScene(t)
	w, bg := 2000, "#eeeeee"
	if err := s.Apply(Operation{Type: OpCanvas, Canvas: &CanvasPatch{Width: &w, Background: &bg}}); err != nil {
		t.Fatal(err)
	}
	if s.Canvas.Width != 2000 || s.Canvas.Background != bg || s.Canvas.Height != CardHeight {
		t.Errorf("unexpected canvas %+v", s.Canvas)
	}
	zero := 0
	if err := s.Apply(Operation{Type: OpCanvas, Canvas: &CanvasPatch{Height: &zero}}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for zero height, got %v", err)
	}
}

func TestVisibilityAndLocked(t *testing.T) {
	s := testScene(t)
	off, on := false, true
	if err := s.Apply(Operation{Type: OpVisibility, ObjectID: "a", Visible: &off}); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(Operation{Type: OpLocked, ObjectID: "a", Locked: &on}); err != nil {
		t.Fatal(err)
	}
	a, _ := s.Object("a")
	if a.Visible || !a.Locked {
		t.Errorf("expected hidden and locked, got visible=%v locked=%v", a.Visible, a.Locked)
	}
}

func TestUnknownOperation(t *testing.T) {
	s := testScene(t)
	if err := s.Apply(Operation{Type: "object.explode"}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}
