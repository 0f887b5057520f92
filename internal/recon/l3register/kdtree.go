package l3register

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// refPoint is a model point carrying its index so that a nearest-neighbour
// hit can be mapped back to the model's normal.
type refPoint struct {
	pos r3.Vec
	idx int
}

func coord(v r3.Vec, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Compare satisfies kdtree.Comparable.
func (p refPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(refPoint)
	return coord(p.pos, d) - coord(q.pos, d)
}

// Dims satisfies kdtree.Comparable.
func (p refPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p refPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(refPoint)
	d := r3.Sub(p.pos, q.pos)
	return r3.Dot(d, d)
}

// refPoints satisfies kdtree.Interface.
type refPoints []refPoint

func (p refPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p refPoints) Len() int                      { return len(p) }
func (p refPoints) Pivot(d kdtree.Dim) int {
	return refPlane{refPoints: p, dim: d}.Pivot()
}
func (p refPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// refPlane sorts refPoints along one dimension.
type refPlane struct {
	refPoints
	dim kdtree.Dim
}

func (p refPlane) Less(i, j int) bool {
	return coord(p.refPoints[i].pos, p.dim) < coord(p.refPoints[j].pos, p.dim)
}
func (p refPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p refPlane) Slice(start, end int) kdtree.SortSlicer {
	p.refPoints = p.refPoints[start:end]
	return p
}
func (p refPlane) Swap(i, j int) {
	p.refPoints[i], p.refPoints[j] = p.refPoints[j], p.refPoints[i]
}
