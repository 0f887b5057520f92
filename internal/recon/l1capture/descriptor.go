package l1capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dreamseal/facerecon/internal/recon"
)

// FrameDescriptor is what the capture layer hands over for one frame: file
// paths, declared depth dimensions, intrinsics and ordering metadata.
type FrameDescriptor struct {
	ColorPath   string  `json:"colorImagePath"`
	DepthPath   string  `json:"depthDataPath"`
	DepthWidth  int     `json:"depthWidth"`
	DepthHeight int     `json:"depthHeight"`
	Fx          float64 `json:"fx"`
	Fy          float64 `json:"fy"`
	Cx          float64 `json:"cx"`
	Cy          float64 `json:"cy"`
	// IntrinsicWidth and IntrinsicHeight are the image size the intrinsics
	// were calibrated at. Zero means the depth map's own dimensions.
	IntrinsicWidth  int     `json:"intrinsicWidth,omitempty"`
	IntrinsicHeight int     `json:"intrinsicHeight,omitempty"`
	Timestamp       float64 `json:"timestamp"`
	AngleID         string  `json:"angleId,omitempty"`
}

// Intrinsics returns the descriptor's intrinsics rescaled to depth-map
// resolution.
func (d FrameDescriptor) Intrinsics() recon.Intrinsics {
	refW, refH := d.IntrinsicWidth, d.IntrinsicHeight
	if refW <= 0 {
		refW = d.DepthWidth
	}
	if refH <= 0 {
		refH = d.DepthHeight
	}
	in := recon.Intrinsics{
		Fx: d.Fx, Fy: d.Fy, Cx: d.Cx, Cy: d.Cy,
		ReferenceWidth:  float64(refW),
		ReferenceHeight: float64(refH),
	}
	return in.ScaledTo(d.DepthWidth, d.DepthHeight)
}

// Validate checks the descriptor at position index.
func (d FrameDescriptor) Validate(index int) error {
	if d.ColorPath == "" {
		return recon.InvalidFrameData(index, "colorImagePath is required")
	}
	if d.DepthPath == "" {
		return recon.InvalidFrameData(index, "depthDataPath is required")
	}
	if d.DepthWidth <= 0 || d.DepthHeight <= 0 {
		return recon.InvalidFrameData(index, "depth dimensions must be positive, got %dx%d", d.DepthWidth, d.DepthHeight)
	}
	if d.IntrinsicWidth < 0 || d.IntrinsicHeight < 0 {
		return recon.InvalidFrameData(index, "intrinsic dimensions must not be negative")
	}
	if math.IsNaN(d.Timestamp) || math.IsInf(d.Timestamp, 0) {
		return recon.InvalidFrameData(index, "timestamp must be finite")
	}
	if err := d.Intrinsics().Validate(); err != nil {
		return recon.InvalidFrameData(index, "%v", err)
	}
	return nil
}

// ValidateDescriptors enforces the minimum frame count and validates every
// descriptor. It reads no files.
func ValidateDescriptors(descs []FrameDescriptor, minFrames int) error {
	if len(descs) < minFrames {
		return recon.FrameCountTooLow(len(descs), minFrames)
	}
	for i, d := range descs {
		if err := d.Validate(i); err != nil {
			return err
		}
	}
	return nil
}

// ParseDescriptors decodes a JSON array of loosely typed descriptor objects.
// Numeric fields may be integers or floats; a missing required field or a
// value of the wrong type yields InvalidFrameData for that index.
func ParseDescriptors(data []byte) ([]FrameDescriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, recon.InvalidFrameData(-1, "descriptors must be a JSON array of objects: %v", err)
	}

	out := make([]FrameDescriptor, 0, len(raw))
	for i, obj := range raw {
		if obj == nil {
			return nil, recon.InvalidFrameData(i, "descriptor is null")
		}
		p := fieldParser{index: i, obj: obj}
		d := FrameDescriptor{
			ColorPath:       p.str("colorImagePath", true),
			DepthPath:       p.str("depthDataPath", true),
			DepthWidth:      p.integer("depthWidth", true),
			DepthHeight:     p.integer("depthHeight", true),
			Fx:              p.number("fx", true),
			Fy:              p.number("fy", true),
			Cx:              p.number("cx", true),
			Cy:              p.number("cy", true),
			IntrinsicWidth:  p.integer("intrinsicWidth", false),
			IntrinsicHeight: p.integer("intrinsicHeight", false),
			Timestamp:       p.number("timestamp", true),
			AngleID:         p.str("angleId", false),
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, d)
	}
	return out, nil
}

// fieldParser records the first field error and ignores the rest.
type fieldParser struct {
	index int
	obj   map[string]interface{}
	err   error
}

func (p *fieldParser) lookup(key string, required bool) (interface{}, bool) {
	if p.err != nil {
		return nil, false
	}
	v, ok := p.obj[key]
	if !ok || v == nil {
		if required {
			p.err = recon.InvalidFrameData(p.index, "missing required field %q", key)
		}
		return nil, false
	}
	return v, true
}

func (p *fieldParser) str(key string, required bool) string {
	v, ok := p.lookup(key, required)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		p.err = recon.InvalidFrameData(p.index, "field %q must be a string, got %T", key, v)
		return ""
	}
	return s
}

func (p *fieldParser) number(key string, required bool) float64 {
	v, ok := p.lookup(key, required)
	if !ok {
		return 0
	}
	n, isNum := v.(json.Number)
	if !isNum {
		p.err = recon.InvalidFrameData(p.index, "field %q must be a number, got %T", key, v)
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		p.err = recon.InvalidFrameData(p.index, "field %q: %v", key, err)
		return 0
	}
	return f
}

func (p *fieldParser) integer(key string, required bool) int {
	f := p.number(key, required)
	if p.err != nil {
		return 0
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		p.err = recon.InvalidFrameData(p.index, "field %q must be an integer, got %v", key, f)
		return 0
	}
	return int(f)
}

// String implements fmt.Stringer for log lines.
func (d FrameDescriptor) String() string {
	angle := d.AngleID
	if angle == "" {
		angle = string(recon.AngleUnknown)
	}
	return fmt.Sprintf("%s %dx%d t=%.3f", angle, d.DepthWidth, d.DepthHeight, d.Timestamp)
}
