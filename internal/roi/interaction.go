package roi

import "fmt"

// HitRadius is the pick distance around a handle, in canvas pixels.
const HitRadius = 10.0

// DrawingMode selects what a click on empty canvas does.
type DrawingMode string

const (
	ModeNone    DrawingMode = "none"
	ModeLine    DrawingMode = "line"
	ModePolygon DrawingMode = "polygon"
)

// ParseMode parses a drawing mode name. The empty string means none.
func ParseMode(s string) (DrawingMode, error) {
	switch DrawingMode(s) {
	case ModeNone, "":
		return ModeNone, nil
	case ModeLine:
		return ModeLine, nil
	case ModePolygon:
		return ModePolygon, nil
	default:
		return ModeNone, fmt.Errorf("unknown drawing mode %q", s)
	}
}

// Shape names one of the two editable shapes.
type Shape int

const (
	ShapeLine Shape = iota
	ShapePolygon
)

func (s Shape) String() string {
	switch s {
	case ShapeLine:
		return "line"
	case ShapePolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Handle addresses one point of one shape.
type Handle struct {
	Shape Shape
	Index int
}

// Interaction is the editor's pointer state: Idle, or DraggingPoint with
// the handle being dragged. It is a value; transitions return a new one.
type Interaction struct {
	mode DrawingMode
	drag *Handle
}

// NewInteraction returns an idle interaction in the given mode.
func NewInteraction(mode DrawingMode) Interaction {
	return Interaction{mode: mode}
}

func (in Interaction) Mode() DrawingMode { return in.mode }

// WithMode switches the drawing mode. Any drag in progress ends.
func (in Interaction) WithMode(mode DrawingMode) Interaction {
	return Interaction{mode: mode}
}

// Dragging returns the dragged handle, if any.
func (in Interaction) Dragging() (Handle, bool) {
	if in.drag == nil {
		return Handle{}, false
	}
	return *in.drag, true
}

func (in Interaction) IsIdle() bool { return in.drag == nil }

// String is "idle" or "dragging(<shape>,<index>)".
func (in Interaction) String() string {
	if in.drag == nil {
		return "idle"
	}
	return fmt.Sprintf("dragging(%s,%d)", in.drag.Shape, in.drag.Index)
}

// HitTest finds the handle under pos. Line points are tested before polygon
// points, each in index order; the first one within HitRadius wins.
func HitTest(cfg Config, pos CanvasPoint, rect Rect) (Handle, bool) {
	if !rect.Valid() {
		return Handle{}, false
	}
	for i, p := range cfg.line {
		if Distance(ToCanvas(p, rect), pos) <= HitRadius {
			return Handle{Shape: ShapeLine, Index: i}, true
		}
	}
	for i, p := range cfg.polygon {
		if Distance(ToCanvas(p, rect), pos) <= HitRadius {
			return Handle{Shape: ShapePolygon, Index: i}, true
		}
	}
	return Handle{}, false
}

// PointerDown picks up a handle under pos, or places a new point according
// to the drawing mode. The returned bool reports whether cfg changed.
func (in Interaction) PointerDown(cfg Config, pos CanvasPoint, rect Rect) (Interaction, Config, bool) {
	if !rect.Valid() {
		return in, cfg, false
	}
	if h, ok := HitTest(cfg, pos, rect); ok {
		return Interaction{mode: in.mode, drag: &h}, cfg, false
	}

	p := ToProcessing(pos, rect).Clamp()
	next := Interaction{mode: in.mode}
	switch in.mode {
	case ModeLine:
		out := cfg.AppendOrReplaceLinePoint(p)
		return next, out, !out.Equal(cfg)
	case ModePolygon:
		return next, cfg.AppendPolygonPoint(p), true
	default:
		return next, cfg, false
	}
}

// PointerMove moves the dragged handle to pos. Outside a drag, or when the
// dragged point no longer exists, it does nothing.
func (in Interaction) PointerMove(cfg Config, pos CanvasPoint, rect Rect) (Interaction, Config, bool) {
	if in.drag == nil || !rect.Valid() {
		return in, cfg, false
	}

	p := ToProcessing(pos, rect).Clamp()
	var (
		out Config
		err error
	)
	switch in.drag.Shape {
	case ShapeLine:
		if in.drag.Index >= len(cfg.line) || cfg.line[in.drag.Index] == p {
			return in, cfg, false
		}
		out, err = cfg.SetLinePoint(in.drag.Index, p)
	case ShapePolygon:
		if in.drag.Index >= len(cfg.polygon) || cfg.polygon[in.drag.Index] == p {
			return in, cfg, false
		}
		out, err = cfg.SetPolygonPoint(in.drag.Index, p)
	default:
		return in, cfg, false
	}
	if err != nil {
		return in, cfg, false
	}
	return in, out, true
}

// PointerUp ends any drag.
func (in Interaction) PointerUp() Interaction {
	return Interaction{mode: in.mode}
}

// PointerLeave behaves like PointerUp.
func (in Interaction) PointerLeave() Interaction {
	return in.PointerUp()
}
