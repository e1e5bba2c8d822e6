package roi

import (
	"errors"
	"fmt"
	"slices"
)

// MaxLinePoints is the size of a complete detection line.
const MaxLinePoints = 2

var (
	ErrInvalidIndex = errors.New("roi: invalid point index")
	ErrOutOfBounds  = errors.New("roi: point outside processing resolution")
	ErrLineTooLong  = errors.New("roi: detection line has more than 2 points")
)

// Config is one detection line plus one detection polygon. It is an
// immutable value: every mutator returns a new Config and leaves the
// receiver untouched.
type Config struct {
	line    []Point
	polygon []Point
}

// NewConfig validates the shapes and returns a Config holding copies of them.
func NewConfig(line, polygon []Point) (Config, error) {
	if len(line) > MaxLinePoints {
		return Config{}, ErrLineTooLong
	}
	for i, p := range line {
		if !p.InBounds() {
			return Config{}, fmt.Errorf("line point %d %v: %w", i, p, ErrOutOfBounds)
		}
	}
	for i, p := range polygon {
		if !p.InBounds() {
			return Config{}, fmt.Errorf("polygon point %d %v: %w", i, p, ErrOutOfBounds)
		}
	}
	return Config{line: slices.Clone(line), polygon: slices.Clone(polygon)}, nil
}

// DefaultConfig is the layout restored by a reset: a vertical line across
// the middle of the frame and an area covering most of it.
func DefaultConfig() Config {
	return Config{
		line: []Point{{X: 300, Y: 150}, {X: 300, Y: 310}},
		polygon: []Point{
			{X: 50, Y: 100}, {X: 590, Y: 100},
			{X: 590, Y: 320}, {X: 50, Y: 320},
		},
	}
}

// Line returns a copy of the detection line points.
func (c Config) Line() []Point { return slices.Clone(c.line) }

// Polygon returns a copy of the detection polygon points.
func (c Config) Polygon() []Point { return slices.Clone(c.polygon) }

func (c Config) LineLen() int    { return len(c.line) }
func (c Config) PolygonLen() int { return len(c.polygon) }

// HasLine reports whether the line is complete enough to draw.
func (c Config) HasLine() bool { return len(c.line) >= MaxLinePoints }

// HasPolygon reports whether the polygon encloses an area.
func (c Config) HasPolygon() bool { return len(c.polygon) >= 3 }

// IsEmpty reports whether both shapes are empty.
func (c Config) IsEmpty() bool { return len(c.line) == 0 && len(c.polygon) == 0 }

func (c Config) Equal(o Config) bool {
	return slices.Equal(c.line, o.line) && slices.Equal(c.polygon, o.polygon)
}

// SetLinePoint writes point at index 0 or 1. Writing at index == len appends.
func (c Config) SetLinePoint(index int, p Point) (Config, error) {
	if index < 0 || index >= MaxLinePoints || index > len(c.line) {
		return c, fmt.Errorf("line index %d (len %d): %w", index, len(c.line), ErrInvalidIndex)
	}
	line := slices.Clone(c.line)
	if index == len(line) {
		line = append(line, p)
	} else {
		line[index] = p
	}
	return Config{line: line, polygon: c.polygon}, nil
}

// AppendOrReplaceLinePoint appends while the line is incomplete and
// replaces the second point once it has two.
func (c Config) AppendOrReplaceLinePoint(p Point) Config {
	line := slices.Clone(c.line)
	if len(line) < MaxLinePoints {
		line = append(line, p)
	} else {
		line[MaxLinePoints-1] = p
	}
	return Config{line: line, polygon: c.polygon}
}

// AppendPolygonPoint adds a vertex after the last one.
func (c Config) AppendPolygonPoint(p Point) Config {
	polygon := make([]Point, len(c.polygon), len(c.polygon)+1)
	copy(polygon, c.polygon)
	return Config{line: c.line, polygon: append(polygon, p)}
}

// SetPolygonPoint moves an existing vertex.
func (c Config) SetPolygonPoint(index int, p Point) (Config, error) {
	if index < 0 || index >= len(c.polygon) {
		return c, fmt.Errorf("polygon index %d (len %d): %w", index, len(c.polygon), ErrInvalidIndex)
	}
	polygon := slices.Clone(c.polygon)
	polygon[index] = p
	return Config{line: c.line, polygon: polygon}, nil
}

func (c Config) ClearLine() Config    { return Config{polygon: c.polygon} }
func (c Config) ClearPolygon() Config { return Config{line: c.line} }
