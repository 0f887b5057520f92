package l3register

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
)

type cellKey struct{ x, y, z int32 }

type cellAccum struct {
	sum    r3.Vec
	normal r3.Vec
	n      int
}

// Model is the accumulated reference surface in reconstruction space,
// downsampled to one averaged point per voxel. It is rebuilt into a kd-tree
// after every Add.
type Model struct {
	voxel   float64
	cells   map[cellKey]*cellAccum
	points  []r3.Vec
	normals []r3.Vec
	tree    *kdtree.Tree
}

// NewModel creates an empty model with the given downsampling cell size.
func NewModel(voxel float64) *Model {
	return &Model{voxel: voxel, cells: make(map[cellKey]*cellAccum)}
}

// Len returns the number of downsampled model points.
func (m *Model) Len() int { return len(m.points) }

// Add merges points, posed by pose, into the model. Samples with zero
// weight are skipped.
func (m *Model) Add(points []recon.Point3D, pose recon.Transform) {
	for _, p := range points {
		if p.Weight <= 0 {
			continue
		}
		w := pose.Apply(p.Vec())
		k := cellKey{
			x: int32(math.Floor(w.X / m.voxel)),
			y: int32(math.Floor(w.Y / m.voxel)),
			z: int32(math.Floor(w.Z / m.voxel)),
		}
		c, ok := m.cells[k]
		if !ok {
			c = &cellAccum{}
			m.cells[k] = c
		}
		c.sum = r3.Add(c.sum, w)
		c.normal = r3.Add(c.normal, pose.Rotate(p.Normal))
		c.n++
	}
	m.rebuild()
}

// rebuild flattens the cells in key order so the tree, and every search
// against it, is deterministic.
func (m *Model) rebuild() {
	keys := make([]cellKey, 0, len(m.cells))
	for k := range m.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.x != b.x {
			return a.x < b.x
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.z < b.z
	})

	m.points = m.points[:0]
	m.normals = m.normals[:0]
	refs := make(refPoints, 0, len(keys))
	for i, k := range keys {
		c := m.cells[k]
		pos := r3.Scale(1/float64(c.n), c.sum)
		n := c.normal
		if r3.Norm(n) > 0 {
			n = r3.Unit(n)
		}
		m.points = append(m.points, pos)
		m.normals = append(m.normals, n)
		refs = append(refs, refPoint{pos: pos, idx: i})
	}
	m.tree = nil
	if len(refs) > 0 {
		m.tree = kdtree.New(refs, false)
	}
}

// nearest returns the model index and squared distance of the model point
// closest to q, or -1 when the model is empty.
func (m *Model) nearest(q r3.Vec) (int, float64) {
	if m.tree == nil {
		return -1, math.Inf(1)
	}
	c, d2 := m.tree.Nearest(refPoint{pos: q})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(refPoint).idx, d2
}
