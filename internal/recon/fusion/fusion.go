// Package fusion aligns per-frame point sets into one reconstruction space
// and fuses them into a single surface.
//
// Frames are processed in timestamp order (ties by input index). The anchor
// defines reconstruction space; every other frame is registered against the
// growing reference model, then all usable frames are integrated into a TSDF
// volume from which the surface is extracted.
package fusion

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/l3register"
	"github.com/dreamseal/facerecon/internal/recon/l4volume"
)

// Anchor policies.
const (
	AnchorFirst = config.AnchorFirst
	AnchorFront = config.AnchorFront
)

// MinAlignedFrames is the fewest usably aligned frames, anchor included,
// that fusion accepts.
const MinAlignedFrames = 2

// Config holds fusion engine parameters.
type Config struct {
	AnchorPolicy string
	// Mode selects points or mesh extraction.
	Mode     string
	Register l3register.Config
	Volume   l4volume.Config
}

// DefaultConfig returns the fusion defaults.
func DefaultConfig() Config {
	return Config{
		AnchorPolicy: config.DefaultAnchorPolicy,
		Mode:         config.DefaultOutputMode,
		Register:     l3register.DefaultConfig(),
		Volume:       l4volume.DefaultConfig(),
	}
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	if c.AnchorPolicy != AnchorFirst && c.AnchorPolicy != AnchorFront {
		return fmt.Errorf("unknown anchor policy %q", c.AnchorPolicy)
	}
	if c.Mode != l4volume.ModePoints && c.Mode != l4volume.ModeMesh {
		return fmt.Errorf("unknown output mode %q", c.Mode)
	}
	if err := c.Register.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := c.Volume.Validate(); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	return nil
}

// Result is the fused surface plus per-frame alignment outcomes.
type Result struct {
	Surface *recon.Surface
	// Registrations holds one entry per input point set, in input order.
	// The anchor's entry has zero iterations and an identity pose.
	Registrations []l3register.Result
	AnchorIndex   int
	AlignedFrames int
	CellCount     int
	// DepthMean and DepthStd describe vertex Z in reconstruction space.
	DepthMean float64
	DepthStd  float64
}

// Engine fuses point sets.
type Engine struct {
	cfg    Config
	logger *recon.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, logger *recon.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Order returns indices of sets sorted by timestamp, ties by frame index.
func Order(sets []*recon.PointSet) []int {
	order := make([]int, len(sets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := sets[order[a]], sets[order[b]]
		if sa.Timestamp != sb.Timestamp {
			return sa.Timestamp < sb.Timestamp
		}
		return sa.FrameIndex < sb.FrameIndex
	})
	return order
}

// chooseAnchor picks the anchor position within order. Frames without
// points are never chosen.
func (e *Engine) chooseAnchor(sets []*recon.PointSet, order []int) (int, bool) {
	if e.cfg.AnchorPolicy == AnchorFront {
		for _, i := range order {
			if sets[i].Angle == recon.AngleFront && sets[i].Len() > 0 {
				return i, true
			}
		}
		e.logger.Diagf("no front frame with points, anchoring on first usable frame")
	}
	for _, i := range order {
		if sets[i].Len() > 0 {
			return i, true
		}
	}
	return -1, false
}

// Fuse aligns and fuses sets. The inputs are not modified. A context error
// is returned unwrapped; every other failure is a FusionFailed *recon.Error.
func (e *Engine) Fuse(ctx context.Context, sets []*recon.PointSet) (*Result, error) {
	order := Order(sets)
	anchor, ok := e.chooseAnchor(sets, order)
	if !ok {
		return nil, recon.FusionFailed("no frame produced any valid points")
	}
	e.logger.Opsf("fusing %d frames, anchor frame %d (%s)", len(sets), sets[anchor].FrameIndex, sets[anchor].Angle)

	res := &Result{
		Registrations: make([]l3register.Result, len(sets)),
		AnchorIndex:   anchor,
	}
	res.Registrations[anchor] = l3register.Result{
		FrameIndex: sets[anchor].FrameIndex,
		Pose:       recon.Identity(),
		Converged:  true,
	}

	model := l3register.NewModel(e.cfg.Register.ReferenceVoxel)
	model.Add(sets[anchor].Points, recon.Identity())
	registrar := l3register.NewRegistrar(e.cfg.Register, e.logger)

	aligned := 1
	for _, i := range order {
		if i == anchor {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set := sets[i]
		if set.Len() == 0 {
			res.Registrations[i] = l3register.Result{
				FrameIndex: set.FrameIndex,
				Pose:       recon.Identity(),
				RMS:        math.Inf(1),
				Err:        recon.RegistrationDidNotConverge(set.FrameIndex, "frame has no valid points"),
			}
			e.logger.Warnf("frame %d has no valid points, skipping", set.FrameIndex)
			continue
		}
		reg, err := registrar.Align(ctx, model, set, recon.Identity())
		if err != nil {
			return nil, err
		}
		res.Registrations[i] = reg
		if reg.Converged {
			aligned++
			model.Add(set.Points, reg.Pose)
			e.logger.Diagf("frame %d (%s) aligned: %s", set.FrameIndex, set.Angle, reg)
		} else {
			e.logger.Warnf("%v", reg.Err)
		}
	}
	res.AlignedFrames = aligned
	if aligned < MinAlignedFrames {
		return res, recon.FusionFailed("only %d of %d frames aligned, need at least %d", aligned, len(sets), MinAlignedFrames)
	}

	obs := make([]l4volume.Observation, 0, len(sets))
	for _, i := range order {
		reg := res.Registrations[i]
		if sets[i].Len() == 0 || math.IsInf(reg.RMS, 1) {
			continue
		}
		obs = append(obs, l4volume.Observation{Points: sets[i], Pose: reg.Pose, Trusted: reg.Converged})
	}

	vol := l4volume.NewVolume(e.cfg.Volume, e.logger)
	if err := vol.Integrate(ctx, obs); err != nil {
		return nil, err
	}
	res.CellCount = vol.CellCount()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	surface, err := vol.Extract(e.cfg.Mode)
	if err != nil {
		return nil, recon.FusionFailed("%v", err)
	}
	if surface.VertexCount() == 0 {
		return res, recon.FusionFailed("surface extraction produced no vertices from %d cells", res.CellCount)
	}
	res.Surface = surface

	zs := make([]float64, len(surface.Vertices))
	for i, v := range surface.Vertices {
		zs[i] = v.Z
	}
	res.DepthMean, res.DepthStd = stat.MeanStdDev(zs, nil)
	if len(zs) < 2 {
		res.DepthStd = 0
	}
	e.logger.Opsf("fused %d/%d frames into %d vertices, %d faces", aligned, len(sets), surface.VertexCount(), surface.FaceCount())
	return res, nil
}
