package l4volume

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
)

// shardsPerWorker spreads cells over more shards than workers so uneven
// shards still balance.
const shardsPerWorker = 4

// Key addresses a cell by integer grid coordinates.
type Key struct{ X, Y, Z int32 }

// Less orders keys by X, then Y, then Z.
func (k Key) Less(o Key) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// Cell accumulates a weighted running average of the truncated signed
// distance (normalised to [-1, 1], positive in front of the surface) and
// color.
type Cell struct {
	TSDF    float64
	Weight  float64
	R, G, B float64
	// Trusted is set once a frame whose registration converged has observed
	// the cell near the surface.
	Trusted bool
}

// Observation is one posed, organized point set to integrate.
type Observation struct {
	Points *recon.PointSet
	// Pose maps the frame's camera space into reconstruction space.
	Pose recon.Transform
	// Trusted marks the anchor and converged frames.
	Trusted bool
}

type shard struct {
	cells map[Key]*Cell
}

// Volume is a sparse TSDF grid partitioned into independently updated
// shards.
type Volume struct {
	cfg     Config
	workers int
	shards  []*shard
	logger  *recon.Logger
}

// NewVolume creates an empty volume.
func NewVolume(cfg Config, logger *recon.Logger) *Volume {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	v := &Volume{cfg: cfg, workers: workers, logger: logger, shards: make([]*shard, workers*shardsPerWorker)}
	for i := range v.shards {
		v.shards[i] = &shard{cells: make(map[Key]*Cell)}
	}
	return v
}

func (v *Volume) shardOf(k Key) int {
	h := uint32(k.X)*73856093 ^ uint32(k.Y)*19349663 ^ uint32(k.Z)*83492791
	return int(h % uint32(len(v.shards)))
}

// KeyOf returns the cell containing world point p.
func (v *Volume) KeyOf(p r3.Vec) Key {
	return Key{
		X: int32(math.Floor(p.X / v.cfg.VoxelSize)),
		Y: int32(math.Floor(p.Y / v.cfg.VoxelSize)),
		Z: int32(math.Floor(p.Z / v.cfg.VoxelSize)),
	}
}

// Center returns the world position of a cell's centre.
func (v *Volume) Center(k Key) r3.Vec {
	s := v.cfg.VoxelSize
	return r3.Vec{
		X: (float64(k.X) + 0.5) * s,
		Y: (float64(k.Y) + 0.5) * s,
		Z: (float64(k.Z) + 0.5) * s,
	}
}

// Lookup returns the cell at k.
func (v *Volume) Lookup(k Key) (*Cell, bool) {
	c, ok := v.shards[v.shardOf(k)].cells[k]
	return c, ok
}

// CellCount returns the number of allocated cells.
func (v *Volume) CellCount() int {
	n := 0
	for _, s := range v.shards {
		n += len(s.cells)
	}
	return n
}

// Keys returns every allocated key in sorted order.
func (v *Volume) Keys() []Key {
	keys := make([]Key, 0, v.CellCount())
	for _, s := range v.shards {
		for k := range s.cells {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Integrate allocates cells along every observed viewing ray within the
// truncation band and then folds each observation into every cell, in the
// order given. Shards run concurrently; within a cell the update order is
// always the observation order, so results do not depend on scheduling.
func (v *Volume) Integrate(ctx context.Context, obs []Observation) error {
	buckets := make([][][]Key, len(obs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range obs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			buckets[i] = v.allocationKeys(obs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	inverses := make([]recon.Transform, len(obs))
	for i, o := range obs {
		inverses[i] = o.Pose.Inverse()
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for si := range v.shards {
		si := si
		g.Go(func() error {
			s := v.shards[si]
			for i := range obs {
				for _, k := range buckets[i][si] {
					if _, ok := s.cells[k]; !ok {
						s.cells[k] = &Cell{}
					}
				}
			}
			for i, o := range obs {
				if err := gctx.Err(); err != nil {
					return err
				}
				for k, c := range s.cells {
					v.update(c, v.Center(k), o, inverses[i])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	v.logger.Diagf("volume integrated %d observations into %d cells", len(obs), v.CellCount())
	return nil
}

// allocationKeys walks each usable point's viewing ray from -truncation to
// +truncation around the point, at half-voxel steps, bucketed by shard.
func (v *Volume) allocationKeys(o Observation) [][]Key {
	out := make([][]Key, len(v.shards))
	if o.Points == nil {
		return out
	}
	origin := o.Pose.TranslationVec()
	step := v.cfg.VoxelSize / 2
	n := int(math.Ceil(v.cfg.Truncation / step))
	for _, p := range o.Points.Points {
		if p.Weight <= 0 {
			continue
		}
		w := o.Pose.Apply(p.Vec())
		dir := r3.Sub(w, origin)
		if r3.Norm(dir) == 0 {
			continue
		}
		dir = r3.Unit(dir)
		for s := -n; s <= n; s++ {
			k := v.KeyOf(r3.Add(w, r3.Scale(float64(s)*step, dir)))
			si := v.shardOf(k)
			out[si] = append(out[si], k)
		}
	}
	return out
}

// update folds one observation of the cell centred at center into c.
func (v *Volume) update(c *Cell, center r3.Vec, o Observation, inv recon.Transform) {
	ps := o.Points
	if ps == nil || ps.Len() == 0 {
		return
	}
	local := inv.Apply(center)
	u, px, ok := ps.Intrinsics.Project(local)
	if !ok {
		return
	}
	p, ok := ps.LookupPixel(u, px)
	if !ok || p.Weight <= 0 {
		return
	}
	sdf := p.Z - local.Z
	if sdf < -v.cfg.Truncation {
		return
	}
	tsdf := math.Min(1, sdf/v.cfg.Truncation)

	w := p.Weight
	if !o.Trusted {
		w *= v.cfg.UnconvergedWeightScale
	}
	if w <= 0 {
		return
	}
	total := c.Weight + w
	c.TSDF = (c.TSDF*c.Weight + tsdf*w) / total
	c.R = (c.R*c.Weight + float64(p.Color.R)*w) / total
	c.G = (c.G*c.Weight + float64(p.Color.G)*w) / total
	c.B = (c.B*c.Weight + float64(p.Color.B)*w) / total
	c.Weight = math.Min(total, v.cfg.MaxWeight)
	if o.Trusted && math.Abs(sdf) <= v.cfg.Truncation {
		c.Trusted = true
	}
}

// usable reports whether a cell may contribute to extraction.
func (v *Volume) usable(c *Cell) bool {
	return c != nil && c.Trusted && c.Weight >= v.cfg.MinExtractWeight
}
