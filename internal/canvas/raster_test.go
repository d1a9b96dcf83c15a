package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/gogpu/gg"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/render"
)

func rgb(t *testing.T, r *Raster, x, y int) (uint32, uint32, uint32) {
	t.Helper()
	cr, cg, cb, _ := r.Image().At(x, y).RGBA()
	return cr >> 8, cg >> 8, cb >> 8
}

func TestDrawFillsShapesOverBackground(t *testing.T) {
	s := document.NewBlankScene("doc_canvas")
	s.Canvas.Width, s.Canvas.Height = 100, 100
	obj := document.NewShape("r", document.ShapeRect, 20, 20, 40, 40, "#ff0000")
	if err := s.Apply(document.Operation{Type: document.OpCreate, Object: &obj}); err != nil {
		t.Fatal(err)
	}

	r := NewRaster(100, 100)
	defer r.Close()
	if w, h := r.Size(); w != 100 || h != 100 {
		t.Fatalf("unexpected size %dx%d", w, h)
	}
	if err := r.Draw(s.Canvas.Background, render.Compile(s, render.Overlay{})); err != nil {
		t.Fatal(err)
	}

	if cr, cg, cb := rgb(t, r, 40, 40); cr < 200 || cg > 60 || cb > 60 {
		t.Errorf("expected red inside the shape, got (%d, %d, %d)", cr, cg, cb)
	}
	if cr, cg, cb := rgb(t, r, 5, 5); cr < 240 || cg < 240 || cb < 240 {
		t.Errorf("expected white background, got (%d, %d, %d)", cr, cg, cb)
	}
}

func TestDrawAppliesRotation(t *testing.T) {
	s := document.NewBlankScene("doc_canvas")
	obj := document.NewShape("r", document.ShapeRect, 20, 45, 60, 10, "#0000ff")
	obj.Transform.Rotation = 90
	if err := s.Apply(document.Operation{Type: document.OpCreate, Object: &obj}); err != nil {
		t.Fatal(err)
	}

	r := NewRaster(100, 100)
	defer r.Close()
	if err := r.Draw("#ffffff", render.Compile(s, render.Overlay{})); err != nil {
		t.Fatal(err)
	}

	// The bar now stands vertically through the center.
	if _, _, cb := rgb(t, r, 50, 25); cb < 200 {
		t.Errorf("expected blue above center after rotation, got %d", cb)
	}
	if cr, _, _ := rgb(t, r, 25, 50); cr < 240 {
		t.Errorf("expected white where the unrotated bar was, got red %d", cr)
	}
}

func TestPNG(t *testing.T) {
	data, err := PNG(32, 16, "#000000", nil)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("unexpected bounds %v", b)
	}
}

func TestMatrixLayout(t *testing.T) {
	m := matrix([]float64{1, 2, 3, 4, 5, 6})
	if m.A != 1 || m.B != 3 || m.C != 5 || m.D != 2 || m.E != 4 || m.F != 6 {
		t.Errorf("unexpected conversion %+v", m)
	}
}

type solidImages map[string]color.RGBA

func (s solidImages) Image(url string) (*gg.ImageBuf, bool) {
	c, ok := s[url]
	if !ok {
		return nil, false
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return gg.ImageBufFromImage(img), true
}

func TestDrawResolvesImages(t *testing.T) {
	s := document.NewBlankScene("doc_canvas")
	s.Canvas.Width, s.Canvas.Height = 100, 100
	known := document.NewImage("known", "/assets/green.png", 10, 10, 30, 30)
	missing := document.NewImage("missing", "/assets/gone.png", 60, 60, 30, 30)
	missing.Z = 1
	for _, obj := range []document.Object{known, missing} {
		if err := s.Apply(document.Operation{Type: document.OpCreate, Object: &obj}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRaster(100, 100)
	defer r.Close()
	r.SetImages(solidImages{"/assets/green.png": {G: 255, A: 255}})
	if err := r.Draw("#ffffff", render.Compile(s, render.Overlay{})); err != nil {
		t.Fatal(err)
	}

	if cr, cg, _ := rgb(t, r, 25, 25); cg < 200 || cr > 60 {
		t.Errorf("expected the asset drawn, got (%d, %d)", cr, cg)
	}
	// Unresolved assets fall back to the gray placeholder.
	if cr, cg, cb := rgb(t, r, 75, 75); cr > 240 || cb > 245 || cb < cr {
		t.Errorf("expected gray placeholder, got (%d, %d, %d)", cr, cg, cb)
	}
}
