package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

const (
	LineLabel    = "Detection Line"
	PolygonLabel = "Detection Area"
)

// Style holds the colours and sizes used to draw the shapes.
type Style struct {
	LineColor     color.Color
	LineWidth     float64
	LineHandle    float64
	PolygonStroke color.Color
	PolygonFill   color.Color
	PolygonWidth  float64
	PolygonHandle float64
	LabelSize     float64
	FlattenOnto   color.Color
}

// DefaultStyle is the dashboard palette: an emerald line and a blue area
// filled at 20% opacity.
func DefaultStyle() Style {
	emerald := mustHex("#10B981")
	blue := mustHex("#3B82F6")
	return Style{
		LineColor:     emerald,
		LineWidth:     3,
		LineHandle:    6,
		PolygonStroke: blue,
		PolygonFill:   withAlpha(blue, 0.2),
		PolygonWidth:  2,
		PolygonHandle: 5,
		LabelSize:     14,
		FlattenOnto:   color.RGBA{R: 17, G: 24, B: 39, A: 255},
	}
}

func mustHex(s string) color.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func withAlpha(c color.Color, alpha float64) color.Color {
	cf, _ := colorful.MakeColor(c)
	r, g, b := cf.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(alpha*255 + 0.5)}
}

// Renderer draws an ROI config over an optional background. Every call
// redraws the whole canvas.
type Renderer struct {
	style Style

	mu   sync.Mutex
	face font.Face
}

func NewRenderer(style Style) *Renderer {
	return &Renderer{
		style: style,
		face:  truetype.NewFace(labelFont, &truetype.Options{Size: style.LabelSize}),
	}
}

// Render clears dc, stretches background over it when present, then draws
// the line (2 points) and the polygon (3+ points). Incomplete shapes are
// not drawn.
func (r *Renderer) Render(dc *gg.Context, cfg roi.Config, background image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, h := dc.Width(), dc.Height()
	rect := roi.Rect{Width: float64(w), Height: float64(h)}

	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	if background != nil {
		b := background.Bounds()
		if b.Dx() != w || b.Dy() != h {
			background = imaging.Resize(background, w, h, imaging.Linear)
		}
		dc.DrawImage(background, 0, 0)
	}

	if cfg.HasLine() {
		r.drawLine(dc, project(cfg.Line(), rect))
	}
	if cfg.HasPolygon() {
		r.drawPolygon(dc, project(cfg.Polygon(), rect))
	}
}

func (r *Renderer) drawLine(dc *gg.Context, pts []roi.CanvasPoint) {
	start, end := pts[0], pts[1]

	dc.SetColor(r.style.LineColor)
	dc.SetLineWidth(r.style.LineWidth)
	dc.DrawLine(start.X, start.Y, end.X, end.Y)
	dc.Stroke()

	dc.DrawCircle(start.X, start.Y, r.style.LineHandle)
	dc.Fill()
	dc.DrawCircle(end.X, end.Y, r.style.LineHandle)
	dc.Fill()

	dc.SetFontFace(r.face)
	dc.DrawString(LineLabel, start.X-50, start.Y-15)
}

func (r *Renderer) drawPolygon(dc *gg.Context, pts []roi.CanvasPoint) {
	dc.NewSubPath()
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()

	dc.SetColor(r.style.PolygonFill)
	dc.FillPreserve()
	dc.SetColor(r.style.PolygonStroke)
	dc.SetLineWidth(r.style.PolygonWidth)
	dc.Stroke()

	for _, p := range pts {
		dc.DrawCircle(p.X, p.Y, r.style.PolygonHandle)
		dc.Fill()
	}

	dc.SetFontFace(r.face)
	dc.DrawString(PolygonLabel, pts[0].X, pts[0].Y-15)
}

// RenderImage renders into a new width x height RGBA image.
func (r *Renderer) RenderImage(width, height int, cfg roi.Config, background image.Image) image.Image {
	dc := gg.NewContext(width, height)
	r.Render(dc, cfg, background)
	return dc.Image()
}

// Flatten composites img onto the style's opaque backdrop, for formats
// without alpha.
func (r *Renderer) Flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), r.style.FlattenOnto)
	return imaging.Overlay(dst, img, image.Pt(0, 0), 1.0)
}

func project(pts []roi.Point, rect roi.Rect) []roi.CanvasPoint {
	out := make([]roi.CanvasPoint, len(pts))
	for i, p := range pts {
		out[i] = roi.ToCanvas(p, rect)
	}
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
