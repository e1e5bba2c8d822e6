package footfall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

// ROIDocument is a validated /api/roi-config body. Video dimensions are
// carried through untouched when the service reports them.
type ROIDocument struct {
	Config      roi.Config
	VideoWidth  *int
	VideoHeight *int
}

type wirePoint [2]int

func (p *wirePoint) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("point %s: %w", data, err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("point %s: want 2 coordinates, got %d", data, len(raw))
	}
	for i, v := range raw {
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return fmt.Errorf("point %s: coordinate %v is not an integer", data, v)
		}
		p[i] = int(v)
	}
	return nil
}

type wireROI struct {
	LinePoints    *[]wirePoint `json:"line_points"`
	PolygonPoints *[]wirePoint `json:"polygon_points"`
	VideoWidth    *int         `json:"video_width,omitempty"`
	VideoHeight   *int         `json:"video_height,omitempty"`
}

// DecodeROIConfig parses and validates an ROI config body. Both point lists
// must be present; coordinates must be integers inside the processing
// resolution and the line may hold at most two points. Any violation is
// reported as ErrMalformed.
func DecodeROIConfig(data []byte) (ROIDocument, error) {
	var w wireROI
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return ROIDocument{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.LinePoints == nil {
		return ROIDocument{}, fmt.Errorf("%w: missing line_points", ErrMalformed)
	}
	if w.PolygonPoints == nil {
		return ROIDocument{}, fmt.Errorf("%w: missing polygon_points", ErrMalformed)
	}
	cfg, err := roi.NewConfig(toPoints(*w.LinePoints), toPoints(*w.PolygonPoints))
	if err != nil {
		return ROIDocument{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return ROIDocument{Config: cfg, VideoWidth: w.VideoWidth, VideoHeight: w.VideoHeight}, nil
}

// EncodeROIConfig renders doc in the wire format. Empty shapes encode as [].
func EncodeROIConfig(doc ROIDocument) ([]byte, error) {
	return json.Marshal(doc)
}

func (d ROIDocument) MarshalJSON() ([]byte, error) {
	line := fromPoints(d.Config.Line())
	polygon := fromPoints(d.Config.Polygon())
	return json.Marshal(wireROI{
		LinePoints:    &line,
		PolygonPoints: &polygon,
		VideoWidth:    d.VideoWidth,
		VideoHeight:   d.VideoHeight,
	})
}

func (d *ROIDocument) UnmarshalJSON(data []byte) error {
	doc, err := DecodeROIConfig(data)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

func toPoints(in []wirePoint) []roi.Point {
	out := make([]roi.Point, len(in))
	for i, p := range in {
		out[i] = roi.Point{X: p[0], Y: p[1]}
	}
	return out
}

func fromPoints(in []roi.Point) []wirePoint {
	out := make([]wirePoint, len(in))
	for i, p := range in {
		out[i] = wirePoint{p.X, p.Y}
	}
	return out
}
