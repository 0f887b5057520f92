package l2points

import (
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
)

// DepthJumpRatio marks two neighbouring samples as lying on different
// surfaces when their depths differ by more than this fraction.
const DepthJumpRatio = 0.05

// Project back-projects frame's depth map into an organized point set in
// camera space. Samples are visited row-major on a Stride grid starting at
// pixel (0, 0); rejected samples leave a -1 hole in the grid and are counted
// by reason. The result depends only on frame and cfg.
func Project(frame *recon.CaptureFrame, cfg Config) *recon.PointSet {
	stride := cfg.Stride
	if stride < 1 {
		stride = 1
	}
	ps := &recon.PointSet{
		FrameIndex: frame.Index,
		Angle:      frame.Angle,
		Timestamp:  frame.Timestamp,
		Intrinsics: frame.Intrinsics,
		Stride:     stride,
	}
	depth := frame.Depth
	if depth == nil || depth.Width == 0 || depth.Height == 0 {
		return ps
	}

	ps.GridWidth = (depth.Width + stride - 1) / stride
	ps.GridHeight = (depth.Height + stride - 1) / stride
	ps.Grid = make([]int32, ps.GridWidth*ps.GridHeight)
	ps.Points = make([]recon.Point3D, 0, len(ps.Grid))

	in := frame.Intrinsics
	for gr := 0; gr < ps.GridHeight; gr++ {
		row := gr * stride
		for gc := 0; gc < ps.GridWidth; gc++ {
			col := gc * stride
			cell := gr*ps.GridWidth + gc
			ps.Grid[cell] = -1
			ps.Stats.Sampled++

			d := float64(depth.At(col, row))
			switch {
			case math.IsNaN(d) || math.IsInf(d, 0):
				ps.Stats.RejectedNonFinite++
				continue
			case d <= 0:
				ps.Stats.RejectedNonPositive++
				continue
			case d > cfg.MaxRange:
				ps.Stats.RejectedOutOfRange++
				continue
			}

			p := recon.Point3D{
				X: (float64(col) - in.Cx) * d / in.Fx,
				Y: (float64(row) - in.Cy) * d / in.Fy,
				Z: d,
			}
			p.Color = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if frame.Color != nil {
				p.Color = frame.Color.RGBAAt(col, row)
			}
			ps.Grid[cell] = int32(len(ps.Points))
			ps.Points = append(ps.Points, p)
		}
	}
	ps.Stats.Emitted = len(ps.Points)

	estimateNormals(ps, cfg)
	return ps
}

// estimateNormals fills Normal and Weight from the sampled grid neighbours.
// Normals face the camera. A sample with no usable neighbours gets the
// reversed viewing ray as its normal.
func estimateNormals(ps *recon.PointSet, cfg Config) {
	for gr := 0; gr < ps.GridHeight; gr++ {
		for gc := 0; gc < ps.GridWidth; gc++ {
			idx := ps.Grid[gr*ps.GridWidth+gc]
			if idx < 0 {
				continue
			}
			p := &ps.Points[idx]
			pos := p.Vec()
			view := r3.Unit(pos)

			du, okU := tangent(ps, gc, gr, 1, 0, pos)
			dv, okV := tangent(ps, gc, gr, 0, 1, pos)
			n := r3.Scale(-1, view)
			if okU && okV {
				c := r3.Cross(du, dv)
				if r3.Norm(c) > 0 {
					n = r3.Unit(c)
					if r3.Dot(n, view) > 0 {
						n = r3.Scale(-1, n)
					}
				}
			}
			p.Normal = n

			cos := -r3.Dot(n, view)
			if cos < cfg.ObliqueMinCos {
				p.Weight = 0
				continue
			}
			r := pos.Z / cfg.RangeFalloff
			p.Weight = cos / (1 + r*r)
		}
	}
}

// tangent returns the central (or one-sided) difference along the grid
// direction (sx, sy), skipping neighbours across a depth discontinuity.
func tangent(ps *recon.PointSet, gc, gr, sx, sy int, center r3.Vec) (r3.Vec, bool) {
	fwd, okF := neighbour(ps, gc+sx, gr+sy, center)
	back, okB := neighbour(ps, gc-sx, gr-sy, center)
	switch {
	case okF && okB:
		return r3.Sub(fwd, back), true
	case okF:
		return r3.Sub(fwd, center), true
	case okB:
		return r3.Sub(center, back), true
	}
	return r3.Vec{}, false
}

func neighbour(ps *recon.PointSet, gc, gr int, center r3.Vec) (r3.Vec, bool) {
	if gc < 0 || gr < 0 || gc >= ps.GridWidth || gr >= ps.GridHeight {
		return r3.Vec{}, false
	}
	idx := ps.Grid[gr*ps.GridWidth+gc]
	if idx < 0 {
		return r3.Vec{}, false
	}
	q := ps.Points[idx].Vec()
	if math.Abs(q.Z-center.Z) > DepthJumpRatio*center.Z {
		return r3.Vec{}, false
	}
	return q, true
}
