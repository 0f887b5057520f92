package recon

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// AngleLabel names the head angle a frame was captured from. It is used for
// ordering and diagnostics only; alignment is purely geometric.
type AngleLabel string

const (
	AngleFront   AngleLabel = "front"
	AngleLeft    AngleLabel = "left"
	AngleRight   AngleLabel = "right"
	AngleTop     AngleLabel = "top"
	AngleBottom  AngleLabel = "bottom"
	AngleUnknown AngleLabel = "unknown"
)

// ParseAngleLabel maps a capture-layer angle id onto an AngleLabel.
// Unrecognised or empty ids become AngleUnknown.
func ParseAngleLabel(s string) AngleLabel {
	switch AngleLabel(strings.ToLower(strings.TrimSpace(s))) {
	case AngleFront:
		return AngleFront
	case AngleLeft:
		return AngleLeft
	case AngleRight:
		return AngleRight
	case AngleTop:
		return AngleTop
	case AngleBottom:
		return AngleBottom
	default:
		return AngleUnknown
	}
}

// Intrinsics are pinhole camera parameters in pixels. ReferenceWidth and
// ReferenceHeight are the image dimensions the parameters were calibrated at.
type Intrinsics struct {
	Fx, Fy          float64
	Cx, Cy          float64
	ReferenceWidth  float64
	ReferenceHeight float64
}

// ScaledTo returns the intrinsics rescaled to a width x height image. When
// the reference dimensions already match (or are unset) the receiver is
// returned unchanged.
func (in Intrinsics) ScaledTo(width, height int) Intrinsics {
	out := in
	if in.ReferenceWidth > 0 && in.ReferenceWidth != float64(width) {
		sx := float64(width) / in.ReferenceWidth
		out.Fx *= sx
		out.Cx *= sx
	}
	if in.ReferenceHeight > 0 && in.ReferenceHeight != float64(height) {
		sy := float64(height) / in.ReferenceHeight
		out.Fy *= sy
		out.Cy *= sy
	}
	out.ReferenceWidth = float64(width)
	out.ReferenceHeight = float64(height)
	return out
}

// Project maps a camera-space point to pixel coordinates. ok is false for
// points at or behind the camera plane.
func (in Intrinsics) Project(p r3.Vec) (u, v float64, ok bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	return p.X*in.Fx/p.Z + in.Cx, p.Y*in.Fy/p.Z + in.Cy, true
}

// BackProject maps pixel (u, v) at depth d to a camera-space point.
func (in Intrinsics) BackProject(u, v, d float64) r3.Vec {
	return r3.Vec{
		X: (u - in.Cx) * d / in.Fx,
		Y: (v - in.Cy) * d / in.Fy,
		Z: d,
	}
}

// Validate reports whether the intrinsics can be used for projection.
func (in Intrinsics) Validate() error {
	if !(in.Fx > 0) || math.IsInf(in.Fx, 0) {
		return fmt.Errorf("fx must be a positive finite focal length, got %v", in.Fx)
	}
	if !(in.Fy > 0) || math.IsInf(in.Fy, 0) {
		return fmt.Errorf("fy must be a positive finite focal length, got %v", in.Fy)
	}
	if math.IsNaN(in.Cx) || math.IsInf(in.Cx, 0) || math.IsNaN(in.Cy) || math.IsInf(in.Cy, 0) {
		return fmt.Errorf("principal point must be finite, got (%v, %v)", in.Cx, in.Cy)
	}
	return nil
}

// DepthMap is a row-major grid of per-pixel distances from the camera in
// meters.
type DepthMap struct {
	Width  int
	Height int
	Values []float32
}

// At returns the depth at (col, row). Callers must stay within bounds.
func (d *DepthMap) At(col, row int) float32 {
	return d.Values[row*d.Width+col]
}

// CaptureFrame is one decoded depth+color sample from one head angle.
// Color and Depth are released by Release once the frame has been projected.
type CaptureFrame struct {
	Index      int
	Angle      AngleLabel
	Timestamp  float64
	ColorPath  string
	DepthPath  string
	Color      *image.RGBA
	Depth      *DepthMap
	Intrinsics Intrinsics
}

// Release drops the raster buffers so they can be collected.
func (f *CaptureFrame) Release() {
	f.Color = nil
	f.Depth = nil
}

// Point3D is a single 3D sample in a frame's camera space or, once posed,
// in reconstruction space.
type Point3D struct {
	X, Y, Z float64
	Normal  r3.Vec
	Color   color.RGBA
	// Weight is the observation confidence in [0, 1]; it decays with range
	// and with the obliqueness of the viewing ray. Zero marks a sample seen
	// too obliquely to integrate.
	Weight float64
}

// Vec returns the point position as an r3.Vec.
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// ProjectionStats counts how each sampled pixel of a frame was handled.
// Every rejected sample is a deliberate, counted exclusion.
type ProjectionStats struct {
	Sampled             int
	Emitted             int
	RejectedNonPositive int
	RejectedNonFinite   int
	RejectedOutOfRange  int
}

// Rejected returns the total number of excluded samples.
func (s ProjectionStats) Rejected() int {
	return s.RejectedNonPositive + s.RejectedNonFinite + s.RejectedOutOfRange
}

// PointSet is an organized point cloud: the points of one frame together
// with the sampled pixel grid they came from, so that callers can look up
// the observation behind any pixel.
type PointSet struct {
	FrameIndex int
	Angle      AngleLabel
	Timestamp  float64
	// Intrinsics are the effective parameters at depth-map resolution.
	Intrinsics Intrinsics
	Stride     int
	GridWidth  int
	GridHeight int
	// Grid maps sampled cell (row*GridWidth + col) to an index into Points,
	// or -1 when the sample was rejected.
	Grid   []int32
	Points []Point3D
	Stats  ProjectionStats
}

// Len returns the number of points.
func (ps *PointSet) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.Points)
}

// LookupPixel returns the point observed nearest to depth-map pixel (u, v).
func (ps *PointSet) LookupPixel(u, v float64) (*Point3D, bool) {
	if ps == nil || ps.Stride <= 0 {
		return nil, false
	}
	gc := int(math.Floor(u/float64(ps.Stride) + 0.5))
	gr := int(math.Floor(v/float64(ps.Stride) + 0.5))
	if gc < 0 || gr < 0 || gc >= ps.GridWidth || gr >= ps.GridHeight {
		return nil, false
	}
	idx := ps.Grid[gr*ps.GridWidth+gc]
	if idx < 0 {
		return nil, false
	}
	return &ps.Points[idx], true
}

// Surface is the extracted fused surface in reconstruction space. Faces is
// empty for a point cloud. Colors is either empty or parallel to Vertices.
type Surface struct {
	Vertices []r3.Vec
	Colors   []color.RGBA
	Faces    [][3]int32
}

// VertexCount returns the number of vertices.
func (s *Surface) VertexCount() int {
	if s == nil {
		return 0
	}
	return len(s.Vertices)
}

// FaceCount returns the number of triangles.
func (s *Surface) FaceCount() int {
	if s == nil {
		return 0
	}
	return len(s.Faces)
}

// HasColor reports whether every vertex carries a color.
func (s *Surface) HasColor() bool {
	return s != nil && len(s.Vertices) > 0 && len(s.Colors) == len(s.Vertices)
}
