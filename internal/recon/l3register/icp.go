package l3register

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
)

const (
	// MinCorrespondences is the fewest pairs an iteration may solve with.
	MinCorrespondences = 10
	// searchChunk is the number of source points per search task.
	searchChunk = 512
	// planeDamping regularises the point-to-plane normal equations relative
	// to their trace, so motion the surface cannot constrain stays near zero.
	planeDamping = 1e-6
)

// Result describes one frame's alignment.
type Result struct {
	FrameIndex int
	Pose       recon.Transform
	Iterations int
	// RMS is the final residual under the configured error metric.
	RMS             float64
	Correspondences int
	Converged       bool
	// HitIterationCap is set when the loop stopped on MaxIterations.
	HitIterationCap bool
	ResidualHistory []float64
	// Err is a RegistrationDidNotConverge annotation when Converged is false.
	Err *recon.Error
}

// Registrar aligns point sets against a Model.
type Registrar struct {
	cfg    Config
	logger *recon.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(cfg Config, logger *recon.Logger) *Registrar {
	return &Registrar{cfg: cfg, logger: logger}
}

type pair struct {
	src, ref r3.Vec
	normal   r3.Vec
	dist     float64
}

// Align estimates the pose of src in model space, starting from initial.
// A non-converged alignment is reported in the Result, not as an error; the
// returned error is non-nil only when ctx is cancelled.
func (r *Registrar) Align(ctx context.Context, model *Model, src *recon.PointSet, initial recon.Transform) (Result, error) {
	res := Result{FrameIndex: src.FrameIndex, Pose: initial}
	samples := sampleSource(src.Points, r.cfg.SamplePoints)
	if len(samples) < MinCorrespondences || model.Len() < MinCorrespondences {
		res.RMS = math.Inf(1)
		res.Err = recon.RegistrationDidNotConverge(src.FrameIndex,
			"not enough points to align (%d source, %d model)", len(samples), model.Len())
		return res, nil
	}

	pose := initial
	stepConverged := false
	for iter := 1; iter <= r.cfg.MaxIterations; iter++ {
		pairs, err := r.correspond(ctx, model, samples, pose)
		if err != nil {
			return res, err
		}
		res.Iterations = iter
		if len(pairs) < MinCorrespondences {
			res.Pose = pose
			res.RMS = math.Inf(1)
			res.Err = recon.RegistrationDidNotConverge(src.FrameIndex,
				"only %d correspondences within %.4fm at iteration %d", len(pairs), r.cfg.MaxCorrespondence, iter)
			return res, nil
		}
		rms := r.residual(pairs)
		res.ResidualHistory = append(res.ResidualHistory, rms)

		var step recon.Transform
		var ok bool
		if r.cfg.Method == MethodPointToPoint {
			step, ok = solvePointToPoint(pairs)
		} else {
			step, ok = solvePointToPlane(pairs)
		}
		if !ok {
			res.Pose = pose
			res.RMS = rms
			res.Err = recon.RegistrationDidNotConverge(src.FrameIndex, "degenerate correspondence geometry at iteration %d", iter)
			return res, nil
		}
		pose = step.Mul(pose)

		dRot := step.RotationAngle()
		dTrans := r3.Norm(step.TranslationVec())
		r.logger.Tracef("frame %d icp iter=%d pairs=%d rms=%.6f drot=%.2e dtrans=%.2e",
			src.FrameIndex, iter, len(pairs), rms, dRot, dTrans)
		if dRot < r.cfg.RotationEpsilon && dTrans < r.cfg.TranslationEpsilon {
			stepConverged = true
			break
		}
	}

	res.Pose = pose
	final, err := r.correspond(ctx, model, samples, pose)
	if err != nil {
		return res, err
	}
	res.Correspondences = len(final)
	if len(final) < MinCorrespondences {
		res.RMS = math.Inf(1)
	} else {
		res.RMS = r.residual(final)
	}
	res.HitIterationCap = !stepConverged

	switch {
	case !stepConverged:
		res.Err = recon.RegistrationDidNotConverge(src.FrameIndex,
			"hit iteration cap %d with rms %.6fm", r.cfg.MaxIterations, res.RMS)
	case res.RMS > r.cfg.MaxResidual:
		res.Err = recon.RegistrationDidNotConverge(src.FrameIndex,
			"rms residual %.6fm exceeds %.6fm", res.RMS, r.cfg.MaxResidual)
	default:
		res.Converged = true
	}
	return res, nil
}

// sampleSource takes an evenly spaced, order-preserving subset of at most
// limit points, skipping samples with zero weight.
func sampleSource(points []recon.Point3D, limit int) []r3.Vec {
	usable := make([]r3.Vec, 0, len(points))
	for _, p := range points {
		if p.Weight > 0 {
			usable = append(usable, p.Vec())
		}
	}
	if limit <= 0 || len(usable) <= limit {
		return usable
	}
	out := make([]r3.Vec, limit)
	step := float64(len(usable)) / float64(limit)
	for i := range out {
		out[i] = usable[int(float64(i)*step)]
	}
	return out
}

// correspond pairs each posed sample with its nearest model point, drops
// pairs beyond MaxCorrespondence, then keeps the OutlierPercentile closest.
// Searches run in parallel chunks; results are assembled in sample order.
func (r *Registrar) correspond(ctx context.Context, model *Model, samples []r3.Vec, pose recon.Transform) ([]pair, error) {
	found := make([]pair, len(samples))
	valid := make([]bool, len(samples))
	maxD2 := r.cfg.MaxCorrespondence * r.cfg.MaxCorrespondence

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Workers > 0 {
		g.SetLimit(r.cfg.Workers)
	}
	for start := 0; start < len(samples); start += searchChunk {
		start := start
		end := start + searchChunk
		if end > len(samples) {
			end = len(samples)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				q := pose.Apply(samples[i])
				idx, d2 := model.nearest(q)
				if idx < 0 || d2 > maxD2 {
					continue
				}
				found[i] = pair{src: q, ref: model.points[idx], normal: model.normals[idx], dist: math.Sqrt(d2)}
				valid[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairs := make([]pair, 0, len(samples))
	for i, ok := range valid {
		if ok {
			pairs = append(pairs, found[i])
		}
	}
	if r.cfg.OutlierPercentile >= 1 || len(pairs) == 0 {
		return pairs, nil
	}
	dists := make([]float64, len(pairs))
	for i, p := range pairs {
		dists[i] = p.dist
	}
	sort.Float64s(dists)
	cut := dists[int(math.Ceil(r.cfg.OutlierPercentile*float64(len(dists))))-1]
	kept := pairs[:0]
	for _, p := range pairs {
		if p.dist <= cut {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// residual is the RMS error under the configured metric: point distance
// for point-to-point, distance along the model normal for point-to-plane.
func (r *Registrar) residual(pairs []pair) float64 {
	var sum float64
	for _, p := range pairs {
		var e float64
		if r.cfg.Method == MethodPointToPlane && r3.Norm(p.normal) > 0 {
			e = r3.Dot(r3.Sub(p.src, p.ref), p.normal)
		} else {
			e = p.dist
		}
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(pairs)))
}

// solvePointToPoint returns the rigid motion taking the sources onto their
// references in the least-squares sense (Kabsch).
func solvePointToPoint(pairs []pair) (recon.Transform, bool) {
	var cs, cr r3.Vec
	for _, p := range pairs {
		cs = r3.Add(cs, p.src)
		cr = r3.Add(cr, p.ref)
	}
	n := float64(len(pairs))
	cs = r3.Scale(1/n, cs)
	cr = r3.Scale(1/n, cr)

	h := mat.NewDense(3, 3, nil)
	for _, p := range pairs {
		a := r3.Sub(p.src, cs)
		b := r3.Sub(p.ref, cr)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h.Set(i, j, h.At(i, j)+av[i]*bv[j])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return recon.Transform{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// Reflection: flip the axis of the smallest singular value.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&v, u.T())
	}

	var r9 [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r9[i*3+j] = rot.At(i, j)
		}
	}
	rt := recon.NewTransform(r9, r3.Vec{})
	t := r3.Sub(cr, rt.Rotate(cs))
	return recon.NewTransform(r9, t), true
}

// solvePointToPlane linearises the rotation about the source centroid and
// solves the damped 6x6 normal equations for the motion minimising distance
// along the model normals.
func solvePointToPlane(pairs []pair) (recon.Transform, bool) {
	var centroid r3.Vec
	for _, p := range pairs {
		centroid = r3.Add(centroid, p.src)
	}
	centroid = r3.Scale(1/float64(len(pairs)), centroid)

	var ata [36]float64
	var atb [6]float64
	for _, p := range pairs {
		if r3.Norm(p.normal) == 0 {
			continue
		}
		c := r3.Cross(r3.Sub(p.src, centroid), p.normal)
		row := [6]float64{c.X, c.Y, c.Z, p.normal.X, p.normal.Y, p.normal.Z}
		b := -r3.Dot(r3.Sub(p.src, p.ref), p.normal)
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				ata[i*6+j] += row[i] * row[j]
			}
			atb[i] += row[i] * b
		}
	}
	var trace float64
	for i := 0; i < 6; i++ {
		trace += ata[i*6+i]
	}
	if trace == 0 {
		return recon.Transform{}, false
	}
	lambda := planeDamping*trace/6 + 1e-12
	for i := 0; i < 6; i++ {
		ata[i*6+i] += lambda
	}

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(6, ata[:])) {
		return recon.Transform{}, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(6, atb[:])); err != nil {
		return recon.Transform{}, false
	}

	omega := r3.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	t := r3.Vec{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	rot := recon.AxisAngle(omega, r3.Norm(omega))
	return recon.Translation(r3.Add(centroid, t)).Mul(rot).Mul(recon.Translation(r3.Scale(-1, centroid))), true
}

// String formats a result for diagnostics.
func (r Result) String() string {
	return fmt.Sprintf("frame=%d iters=%d rms=%.6f pairs=%d converged=%t",
		r.FrameIndex, r.Iterations, r.RMS, r.Correspondences, r.Converged)
}
