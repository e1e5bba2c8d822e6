package roi

import "math"

// Processing resolution used by the remote detector. All persisted
// coordinates live in this space.
const (
	ProcessingWidth  = 640
	ProcessingHeight = 360
)

// Point is a coordinate in processing space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InBounds reports whether p lies inside [0,640)x[0,360).
func (p Point) InBounds() bool {
	return p.X >= 0 && p.X < ProcessingWidth && p.Y >= 0 && p.Y < ProcessingHeight
}

// Clamp pulls p into the processing bounds.
func (p Point) Clamp() Point {
	return Point{
		X: clampInt(p.X, 0, ProcessingWidth-1),
		Y: clampInt(p.Y, 0, ProcessingHeight-1),
	}
}

// CanvasPoint is a pixel position relative to the rendered canvas element.
type CanvasPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the rendered size of the canvas element.
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rect can be used for mapping.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0 &&
		!math.IsInf(r.Width, 0) && !math.IsInf(r.Height, 0)
}

// ProcessingRect is the rect of a canvas rendered at processing resolution.
var ProcessingRect = Rect{Width: ProcessingWidth, Height: ProcessingHeight}

// ToProcessing converts a canvas position to processing space, rounding to
// the nearest integer. An invalid rect maps everything to the origin.
func ToProcessing(p CanvasPoint, r Rect) Point {
	if !r.Valid() {
		return Point{}
	}
	return Point{
		X: int(math.Round(p.X * ProcessingWidth / r.Width)),
		Y: int(math.Round(p.Y * ProcessingHeight / r.Height)),
	}
}

// ToCanvas projects a processing point onto the rendered canvas.
func ToCanvas(p Point, r Rect) CanvasPoint {
	if !r.Valid() {
		return CanvasPoint{}
	}
	return CanvasPoint{
		X: float64(p.X) * r.Width / ProcessingWidth,
		Y: float64(p.Y) * r.Height / ProcessingHeight,
	}
}

// Distance is the Euclidean distance between two canvas positions.
func Distance(a, b CanvasPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
