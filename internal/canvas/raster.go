// Package canvas provides a software raster surface for draw commands.
package canvas

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/gogpu/gg"

	"github.com/printdesk/editor/internal/render"
)

// placeholderColor fills text boxes and images that cannot be drawn; the
// raster surface does not shape text.
const placeholderColor = "#d1d5db"

// ImageSource resolves an asset URL to decoded pixels.
type ImageSource interface {
	Image(url string) (*gg.ImageBuf, bool)
}

// Raster is a render.Surface backed by a gg software context.
type Raster struct {
	dc     *gg.Context
	images ImageSource
}

// NewRaster creates a surface of the given pixel size.
func NewRaster(width, height int) *Raster {
	return &Raster{dc: gg.NewContext(width, height)}
}

// SetImages makes image commands draw their asset instead of a placeholder.
func (r *Raster) SetImages(src ImageSource) {
	r.images = src
}

func (r *Raster) Size() (int, int) {
	return r.dc.Width(), r.dc.Height()
}

// Draw clears to background and executes commands in order.
func (r *Raster) Draw(background string, commands []render.DrawCommand) error {
	r.dc.Identity()
	r.dc.ClearWithColor(gg.Hex(background))
	for i, cmd := range commands {
		if err := r.execute(cmd); err != nil {
			return fmt.Errorf("draw command %d (%s): %w", i, cmd.Op, err)
		}
	}
	r.dc.Identity()
	return nil
}

func (r *Raster) execute(cmd render.DrawCommand) error {
	if cmd.Opacity <= 0 {
		return nil
	}
	r.dc.SetTransform(matrix(cmd.Transform))

	switch cmd.Op {
	case render.OpPath:
		return r.paint(cmd.Path, cmd.Fill, cmd.Stroke, cmd.StrokeWidth, cmd.Opacity)
	case render.OpImage, render.OpText:
		if cmd.Op == render.OpImage && r.drawImage(cmd) {
			return nil
		}
		box := []render.PathCommand{
			{"M", 0.0, 0.0},
			{"L", cmd.Width, 0.0},
			{"L", cmd.Width, cmd.Height},
			{"L", 0.0, cmd.Height},
			{"Z"},
		}
		return r.paint(box, placeholderColor, "", 0, cmd.Opacity*0.6)
	}
	return nil
}

// drawImage draws the asset of an image command. gg places images on
// axis-aligned rectangles only, so rotated images keep the placeholder.
func (r *Raster) drawImage(cmd render.DrawCommand) bool {
	if r.images == nil || cmd.AssetURL == "" || !axisAligned(cmd.Transform) {
		return false
	}
	img, ok := r.images.Image(cmd.AssetURL)
	if !ok {
		return false
	}
	r.dc.DrawImageEx(img, gg.DrawImageOptions{
		DstWidth:  cmd.Width,
		DstHeight: cmd.Height,
		Opacity:   cmd.Opacity,
	})
	return true
}

func axisAligned(m []float64) bool {
	return len(m) != 6 || (m[1] == 0 && m[2] == 0 && m[0] > 0 && m[3] > 0)
}

func (r *Raster) paint(path []render.PathCommand, fill, stroke string, width, opacity float64) error {
	if fill != "" && fill != "none" {
		trace(r.dc, path)
		brush := gg.SolidHex(fill)
		r.dc.SetFillBrush(brush.WithAlpha(brush.Color.A * opacity))
		if err := r.dc.Fill(); err != nil {
			return fmt.Errorf("fill: %w", err)
		}
	}
	if stroke != "" && stroke != "none" && width > 0 {
		trace(r.dc, path)
		brush := gg.SolidHex(stroke)
		r.dc.SetStrokeBrush(brush.WithAlpha(brush.Color.A * opacity))
		r.dc.SetLineWidth(width)
		if err := r.dc.Stroke(); err != nil {
			return fmt.Errorf("stroke: %w", err)
		}
	}
	return nil
}

// trace replays path into the context's current path.
func trace(dc *gg.Context, path []render.PathCommand) {
	for _, p := range path {
		if len(p) == 0 {
			continue
		}
		op, _ := p[0].(string)
		switch op {
		case "M":
			if len(p) >= 3 {
				dc.MoveTo(num(p[1]), num(p[2]))
			}
		case "L":
			if len(p) >= 3 {
				dc.LineTo(num(p[1]), num(p[2]))
			}
		case "C":
			if len(p) >= 7 {
				dc.CubicTo(num(p[1]), num(p[2]), num(p[3]), num(p[4]), num(p[5]), num(p[6]))
			}
		case "Q":
			if len(p) >= 5 {
				dc.QuadraticTo(num(p[1]), num(p[2]), num(p[3]), num(p[4]))
			}
		case "Z":
			dc.ClosePath()
		}
	}
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// matrix converts a [a, b, c, d, e, f] canvas matrix to gg's row layout.
func matrix(m []float64) gg.Matrix {
	if len(m) != 6 {
		return gg.Identity()
	}
	return gg.Matrix{
		A: m[0], B: m[2], C: m[4],
		D: m[1], E: m[3], F: m[5],
	}
}

// Image returns the rendered pixels.
func (r *Raster) Image() image.Image {
	return r.dc.Image()
}

// EncodePNG writes the current pixels as PNG.
func (r *Raster) EncodePNG(w io.Writer) error {
	if err := r.dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// PNG renders commands and returns the encoded image.
func PNG(width, height int, background string, commands []render.DrawCommand) ([]byte, error) {
	r := NewRaster(width, height)
	defer r.Close()
	if err := r.Draw(background, commands); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := r.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close releases the context.
func (r *Raster) Close() error {
	return r.dc.Close()
}
