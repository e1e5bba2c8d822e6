package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func mustConfig(t *testing.T, line, polygon []roi.Point) roi.Config {
	t.Helper()
	cfg, err := roi.NewConfig(line, polygon)
	require.NoError(t, err)
	return cfg
}

func TestLineIsDrawnInAccentColour(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := mustConfig(t, []roi.Point{{X: 100, Y: 100}, {X: 300, Y: 100}}, nil)

	img := r.RenderImage(640, 360, cfg, nil)
	assert.Equal(t, color.RGBA{R: 16, G: 185, B: 129, A: 255}, rgbaAt(img, 200, 100))
	// Handle radius 6 around the end point.
	assert.Equal(t, color.RGBA{R: 16, G: 185, B: 129, A: 255}, rgbaAt(img, 300, 104))
	assert.Zero(t, rgbaAt(img, 200, 120).A)
}

func TestPolygonIsFilledTranslucent(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := mustConfig(t, nil, []roi.Point{{X: 400, Y: 200}, {X: 600, Y: 200}, {X: 600, Y: 340}, {X: 400, Y: 340}})

	img := r.RenderImage(640, 360, cfg, nil)
	inside := rgbaAt(img, 500, 270)
	assert.InDelta(t, 51, int(inside.A), 2)
	assert.Greater(t, inside.B, inside.R)

	edge := rgbaAt(img, 500, 200)
	assert.Equal(t, uint8(255), edge.A)
	assert.Zero(t, rgbaAt(img, 300, 270).A)
}

func TestClearedShapesLeaveCanvasEmpty(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := roi.DefaultConfig().ClearLine().ClearPolygon()

	img := r.RenderImage(320, 180, cfg, nil)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 3 {
		for x := b.Min.X; x < b.Max.X; x += 3 {
			require.Zero(t, rgbaAt(img, x, y).A, "pixel %d,%d", x, y)
		}
	}
}

func TestClearLineKeepsPolygon(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := roi.DefaultConfig().ClearLine()

	img := r.RenderImage(640, 360, cfg, nil)
	// Former line midpoint now only shows the polygon fill.
	assert.InDelta(t, 51, int(rgbaAt(img, 300, 230).A), 2)
}

func TestPartialShapesAreInvisible(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := mustConfig(t, []roi.Point{{X: 100, Y: 100}}, []roi.Point{{X: 200, Y: 200}, {X: 300, Y: 300}})

	img := r.RenderImage(640, 360, cfg, nil)
	assert.Zero(t, rgbaAt(img, 100, 100).A)
	assert.Zero(t, rgbaAt(img, 200, 200).A)
	assert.Zero(t, rgbaAt(img, 250, 250).A)
}

func TestShapesScaleWithCanvas(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	cfg := mustConfig(t, []roi.Point{{X: 100, Y: 100}, {X: 300, Y: 100}}, nil)

	img := r.RenderImage(320, 180, cfg, nil)
	assert.Equal(t, color.RGBA{R: 16, G: 185, B: 129, A: 255}, rgbaAt(img, 100, 50))
	assert.Zero(t, rgbaAt(img, 200, 100).A)
}

func TestBackgroundIsStretched(t *testing.T) {
	bg := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			bg.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	r := NewRenderer(DefaultStyle())

	img := r.RenderImage(64, 36, roi.Config{}, bg)
	got := rgbaAt(img, 60, 30)
	assert.Equal(t, uint8(255), got.A)
	assert.InDelta(t, 200, int(got.R), 2)
}

func TestFlattenAndEncode(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	img := r.Flatten(r.RenderImage(64, 36, roi.Config{}, nil))
	assert.Equal(t, uint8(255), rgbaAt(img, 5, 5).A)

	data, err := EncodePNG(img)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())

	jpg, err := EncodeJPEG(img, 80)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpg[:2])
}

func TestDefaultStyleColours(t *testing.T) {
	s := DefaultStyle()
	assert.Equal(t, color.RGBA{R: 16, G: 185, B: 129, A: 255}, s.LineColor)
	assert.Equal(t, color.RGBA{R: 59, G: 130, B: 246, A: 255}, s.PolygonStroke)
	assert.Equal(t, color.NRGBA{R: 59, G: 130, B: 246, A: 51}, s.PolygonFill)
}
