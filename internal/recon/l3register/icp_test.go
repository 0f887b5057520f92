package l3register

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
)

// saddleSurface samples an asymmetric curved patch that constrains all six
// degrees of freedom.
func saddleSurface() []recon.Point3D {
	var pts []recon.Point3D
	for y := -0.04; y <= 0.04+1e-9; y += 0.002 {
		for x := -0.04; x <= 0.04+1e-9; x += 0.002 {
			z := 0.5 + 15*x*x + 8*y*y + 0.3*x
			n := r3.Unit(r3.Vec{X: 30*x + 0.3, Y: 16 * y, Z: -1})
			pts = append(pts, recon.Point3D{X: x, Y: y, Z: z, Normal: n, Weight: 1})
		}
	}
	return pts
}

func movedSet(pts []recon.Point3D, motion recon.Transform) *recon.PointSet {
	out := make([]recon.Point3D, len(pts))
	for i, p := range pts {
		q := motion.Apply(p.Vec())
		out[i] = recon.Point3D{X: q.X, Y: q.Y, Z: q.Z, Normal: motion.Rotate(p.Normal), Weight: 1}
	}
	return &recon.PointSet{FrameIndex: 1, Points: out}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReferenceVoxel = 0.001
	cfg.MaxIterations = 100
	cfg.Workers = 2
	return cfg
}

func TestAlign_PointToPlaneRecoversMotion(t *testing.T) {
	t.Parallel()
	surface := saddleSurface()
	model := NewModel(0.001)
	model.Add(surface, recon.Identity())
	require.Equal(t, len(surface), model.Len())

	motion := recon.Translation(r3.Vec{X: 0.001, Y: -0.0005, Z: 0.001}).
		Mul(recon.AxisAngle(r3.Vec{X: 0.3, Y: 1, Z: 0.2}, 0.5*math.Pi/180))
	src := movedSet(surface, motion)

	res, err := NewRegistrar(testConfig(), nil).Align(context.Background(), model, src, recon.Identity())
	require.NoError(t, err)
	require.True(t, res.Converged, "result: %s err=%v", res, res.Err)
	assert.Nil(t, res.Err)
	assert.Less(t, res.RMS, 1e-4)
	assert.True(t, recon.IsValidTransformMatrix(res.Pose))

	for i := 0; i < len(surface); i += 37 {
		got := res.Pose.Apply(src.Points[i].Vec())
		want := surface[i].Vec()
		assert.Less(t, r3.Norm(r3.Sub(got, want)), 5e-4, "point %d", i)
	}
	assert.NotEmpty(t, res.ResidualHistory)
}

func TestAlign_AlreadyAlignedConvergesImmediately(t *testing.T) {
	t.Parallel()
	for _, method := range []string{MethodPointToPoint, MethodPointToPlane} {
		method := method
		t.Run(method, func(t *testing.T) {
			t.Parallel()
			surface := saddleSurface()
			model := NewModel(0.001)
			model.Add(surface, recon.Identity())

			cfg := testConfig()
			cfg.Method = method
			res, err := NewRegistrar(cfg, nil).Align(context.Background(), model, movedSet(surface, recon.Identity()), recon.Identity())
			require.NoError(t, err)
			assert.True(t, res.Converged)
			assert.LessOrEqual(t, res.Iterations, 2)
			assert.InDelta(t, 0, res.RMS, 1e-9)
		})
	}
}

func TestAlign_NoOverlapDoesNotConverge(t *testing.T) {
	t.Parallel()
	surface := saddleSurface()
	model := NewModel(0.001)
	model.Add(surface, recon.Identity())
	src := movedSet(surface, recon.Translation(r3.Vec{X: 1}))

	res, err := NewRegistrar(testConfig(), nil).Align(context.Background(), model, src, recon.Identity())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, recon.ErrRegistrationDidNotConverge)
	assert.Equal(t, 1, res.Err.FrameIndex)
}

func TestAlign_EmptyModel(t *testing.T) {
	t.Parallel()
	res, err := NewRegistrar(testConfig(), nil).Align(context.Background(), NewModel(0.002), movedSet(saddleSurface(), recon.Identity()), recon.Identity())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.ErrorIs(t, res.Err, recon.ErrRegistrationDidNotConverge)
}

func TestAlign_Cancelled(t *testing.T) {
	t.Parallel()
	surface := saddleSurface()
	model := NewModel(0.001)
	model.Add(surface, recon.Identity())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRegistrar(testConfig(), nil).Align(ctx, model, movedSet(surface, recon.Identity()), recon.Identity())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlign_Deterministic(t *testing.T) {
	t.Parallel()
	surface := saddleSurface()
	motion := recon.AxisAngle(r3.Vec{Y: 1}, 0.02)
	run := func() Result {
		model := NewModel(0.002)
		model.Add(surface, recon.Identity())
		res, err := NewRegistrar(DefaultConfig(), nil).Align(context.Background(), model, movedSet(surface, motion), recon.Identity())
		require.NoError(t, err)
		return res
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("alignment not deterministic (-first +second):\n%s", diff)
	}
}

func TestSolvePointToPoint_ExactPairs(t *testing.T) {
	t.Parallel()
	motion := recon.Translation(r3.Vec{X: 0.1, Y: 0.05, Z: -0.02}).
		Mul(recon.AxisAngle(r3.Vec{X: 1, Y: 2, Z: 3}, 0.4))
	var pairs []pair
	for _, p := range []r3.Vec{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: -1, Y: 0.5, Z: 0.2},
	} {
		pairs = append(pairs, pair{src: p, ref: motion.Apply(p)})
	}

	got, ok := solvePointToPoint(pairs)
	require.True(t, ok)
	for i := range motion {
		assert.InDelta(t, motion[i], got[i], 1e-9, "element %d", i)
	}
}

func TestSolvePointToPoint_PlanarPointsStayProper(t *testing.T) {
	t.Parallel()
	var pairs []pair
	for _, p := range []r3.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}} {
		pairs = append(pairs, pair{src: p, ref: p})
	}
	got, ok := solvePointToPoint(pairs)
	require.True(t, ok)
	assert.True(t, recon.IsValidTransformMatrix(got))
	assert.InDelta(t, 0, got.RotationAngle(), 1e-9)
}

func TestModelAddDownsamples(t *testing.T) {
	t.Parallel()
	m := NewModel(0.01)
	m.Add([]recon.Point3D{
		{X: 0.001, Y: 0.001, Z: 0.501, Normal: r3.Vec{Z: -1}, Weight: 1},
		{X: 0.003, Y: 0.003, Z: 0.503, Normal: r3.Vec{Z: -1}, Weight: 1},
		{X: 0.05, Y: 0, Z: 0.5, Normal: r3.Vec{Z: -1}, Weight: 1},
		{X: 0.09, Y: 0, Z: 0.5, Normal: r3.Vec{Z: -1}, Weight: 0},
	}, recon.Identity())

	require.Equal(t, 2, m.Len())
	idx, d2 := m.nearest(r3.Vec{X: 0.002, Y: 0.002, Z: 0.502})
	require.GreaterOrEqual(t, idx, 0)
	assert.InDelta(t, 0, d2, 1e-12)
	assert.Equal(t, r3.Vec{Z: -1}, m.normals[idx])
}

func TestSampleSource(t *testing.T) {
	t.Parallel()
	pts := make([]recon.Point3D, 100)
	for i := range pts {
		pts[i] = recon.Point3D{X: float64(i), Weight: 1}
	}
	pts[0].Weight = 0

	all := sampleSource(pts, 0)
	assert.Len(t, all, 99)
	some := sampleSource(pts, 10)
	require.Len(t, some, 10)
	assert.Equal(t, 1.0, some[0].X)
	for i := 1; i < len(some); i++ {
		assert.Greater(t, some[i].X, some[i-1].X)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.Method = "gicp"
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.OutlierPercentile = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.MaxIterations = 0
	assert.Error(t, bad.Validate())
}
