package l4volume

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/recon"
)

// Extraction modes.
const (
	ModePoints = config.OutputPoints
	ModeMesh   = config.OutputMesh
)

// cubeCorners are the corner offsets of a grid cube.
var cubeCorners = [8]Key{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTetrahedra splits a cube into six tetrahedra sharing the 0-6
// diagonal, so neighbouring cubes agree on their shared faces.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// Extract returns the zero-level surface in the given mode.
func (v *Volume) Extract(mode string) (*recon.Surface, error) {
	switch mode {
	case ModePoints:
		return v.ExtractPoints(), nil
	case ModeMesh:
		return v.ExtractMesh(), nil
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", mode)
	}
}

type corner struct {
	key  Key
	cell *Cell
}

// crossing interpolates the zero crossing on the edge a-b.
func (v *Volume) crossing(a, b corner) (r3.Vec, color.RGBA) {
	t := a.cell.TSDF / (a.cell.TSDF - b.cell.TSDF)
	pa, pb := v.Center(a.key), v.Center(b.key)
	pos := r3.Add(pa, r3.Scale(t, r3.Sub(pb, pa)))
	lerp := func(x, y float64) uint8 {
		return uint8(math.Round(math.Max(0, math.Min(255, x+t*(y-x)))))
	}
	col := color.RGBA{
		R: lerp(a.cell.R, b.cell.R),
		G: lerp(a.cell.G, b.cell.G),
		B: lerp(a.cell.B, b.cell.B),
		A: 255,
	}
	return pos, col
}

// ExtractPoints returns one point for every sign change between usable
// neighbours along the +X, +Y and +Z axes, in key order.
func (v *Volume) ExtractPoints() *recon.Surface {
	s := &recon.Surface{}
	axes := [3]Key{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for _, k := range v.Keys() {
		c, _ := v.Lookup(k)
		if !v.usable(c) {
			continue
		}
		for _, ax := range axes {
			nk := Key{k.X + ax.X, k.Y + ax.Y, k.Z + ax.Z}
			n, ok := v.Lookup(nk)
			if !ok || !v.usable(n) {
				continue
			}
			if (c.TSDF < 0) == (n.TSDF < 0) {
				continue
			}
			pos, col := v.crossing(corner{k, c}, corner{nk, n})
			s.Vertices = append(s.Vertices, pos)
			s.Colors = append(s.Colors, col)
		}
	}
	v.logger.Diagf("extracted %d surface points", len(s.Vertices))
	return s
}

type edgeKey struct{ a, b Key }

func makeEdgeKey(a, b Key) edgeKey {
	if b.Less(a) {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// meshBuilder deduplicates vertices shared between triangles.
type meshBuilder struct {
	v     *Volume
	s     *recon.Surface
	index map[edgeKey]int32
}

func (m *meshBuilder) vertex(a, b corner) int32 {
	ek := makeEdgeKey(a.key, b.key)
	if i, ok := m.index[ek]; ok {
		return i
	}
	// Interpolate from the lower key so both orientations agree exactly.
	if b.key.Less(a.key) {
		a, b = b, a
	}
	pos, col := m.v.crossing(a, b)
	i := int32(len(m.s.Vertices))
	m.s.Vertices = append(m.s.Vertices, pos)
	m.s.Colors = append(m.s.Colors, col)
	m.index[ek] = i
	return i
}

// triangle appends a face oriented so its normal points along outward,
// from negative (behind the surface) toward positive distance.
func (m *meshBuilder) triangle(i0, i1, i2 int32, outward r3.Vec) {
	if i0 == i1 || i1 == i2 || i0 == i2 {
		return
	}
	p0, p1, p2 := m.s.Vertices[i0], m.s.Vertices[i1], m.s.Vertices[i2]
	n := r3.Cross(r3.Sub(p1, p0), r3.Sub(p2, p0))
	if r3.Norm(n) == 0 {
		return
	}
	if r3.Dot(n, outward) < 0 {
		i1, i2 = i2, i1
	}
	m.s.Faces = append(m.s.Faces, [3]int32{i0, i1, i2})
}

// ExtractMesh polygonises the zero level set with marching tetrahedra over
// every cube whose eight corners are usable. Cubes are visited in key order
// and shared edge vertices are emitted once.
func (v *Volume) ExtractMesh() *recon.Surface {
	m := &meshBuilder{v: v, s: &recon.Surface{}, index: make(map[edgeKey]int32)}
	var corners [8]corner
	for _, k := range v.Keys() {
		complete := true
		for i, off := range cubeCorners {
			ck := Key{k.X + off.X, k.Y + off.Y, k.Z + off.Z}
			c, ok := v.Lookup(ck)
			if !ok || !v.usable(c) {
				complete = false
				break
			}
			corners[i] = corner{ck, c}
		}
		if !complete {
			continue
		}
		for _, tet := range cubeTetrahedra {
			m.tetrahedron(corners[tet[0]], corners[tet[1]], corners[tet[2]], corners[tet[3]])
		}
	}
	v.logger.Diagf("extracted mesh with %d vertices and %d faces", len(m.s.Vertices), len(m.s.Faces))
	return m.s
}

func (m *meshBuilder) tetrahedron(c ...corner) {
	var in, out []corner
	for _, x := range c {
		if x.cell.TSDF < 0 {
			in = append(in, x)
		} else {
			out = append(out, x)
		}
	}
	if len(in) == 0 || len(out) == 0 {
		return
	}

	outward := r3.Sub(m.centroid(out), m.centroid(in))
	switch len(in) {
	case 1:
		m.triangle(m.vertex(in[0], out[0]), m.vertex(in[0], out[1]), m.vertex(in[0], out[2]), outward)
	case 3:
		m.triangle(m.vertex(out[0], in[0]), m.vertex(out[0], in[1]), m.vertex(out[0], in[2]), outward)
	case 2:
		e00 := m.vertex(in[0], out[0])
		e01 := m.vertex(in[0], out[1])
		e11 := m.vertex(in[1], out[1])
		e10 := m.vertex(in[1], out[0])
		m.triangle(e00, e01, e11, outward)
		m.triangle(e00, e11, e10, outward)
	}
}

func (m *meshBuilder) centroid(cs []corner) r3.Vec {
	var sum r3.Vec
	for _, c := range cs {
		sum = r3.Add(sum, m.v.Center(c.key))
	}
	return r3.Scale(1/float64(len(cs)), sum)
}
