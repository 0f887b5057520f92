package l4volume

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/l2points"
)

func planeSet(t *testing.T, depth float32) *recon.PointSet {
	t.Helper()
	const w, h = 64, 48
	values := make([]float32, w*h)
	for i := range values {
		values[i] = depth
	}
	frame := &recon.CaptureFrame{
		Depth:      &recon.DepthMap{Width: w, Height: h, Values: values},
		Intrinsics: recon.Intrinsics{Fx: 100, Fy: 100, Cx: 32, Cy: 24},
	}
	cfg := l2points.DefaultConfig()
	cfg.Stride = 1
	ps := l2points.Project(frame, cfg)
	require.Equal(t, w*h, ps.Len())
	return ps
}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.VoxelSize = 0.005
	cfg.Truncation = 0.02
	cfg.Workers = workers
	return cfg
}

func integrated(t *testing.T, workers int, obs ...Observation) *Volume {
	t.Helper()
	v := NewVolume(testConfig(workers), nil)
	require.NoError(t, v.Integrate(context.Background(), obs))
	return v
}

func TestIntegrate_PlanePoints(t *testing.T) {
	t.Parallel()
	v := integrated(t, 2, Observation{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true})
	require.NotZero(t, v.CellCount())

	s, err := v.Extract(ModePoints)
	require.NoError(t, err)
	require.NotZero(t, s.VertexCount())
	assert.Zero(t, s.FaceCount())
	assert.True(t, s.HasColor())
	for _, p := range s.Vertices {
		assert.InDelta(t, 0.5, p.Z, 1e-6)
	}
}

func TestIntegrate_PlaneMesh(t *testing.T) {
	t.Parallel()
	v := integrated(t, 3, Observation{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true})

	s, err := v.Extract(ModeMesh)
	require.NoError(t, err)
	require.NotZero(t, s.VertexCount())
	require.NotZero(t, s.FaceCount())
	for _, p := range s.Vertices {
		assert.InDelta(t, 0.5, p.Z, 1e-6)
	}
	for _, f := range s.Faces {
		for _, idx := range f {
			require.Less(t, int(idx), s.VertexCount())
		}
		a, b, c := s.Vertices[f[0]], s.Vertices[f[1]], s.Vertices[f[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		assert.Less(t, n.Z, 0.0, "faces should face the camera")
	}
}

func TestIntegrate_MeshSharesVertices(t *testing.T) {
	t.Parallel()
	v := integrated(t, 1, Observation{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true})
	s := v.ExtractMesh()
	seen := make(map[r3.Vec]bool, s.VertexCount())
	for _, p := range s.Vertices {
		require.False(t, seen[p], "duplicate vertex %v", p)
		seen[p] = true
	}
	assert.Greater(t, s.FaceCount(), s.VertexCount())
}

func TestIntegrate_UntrustedOnlyYieldsNothing(t *testing.T) {
	t.Parallel()
	v := integrated(t, 2, Observation{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: false})
	assert.NotZero(t, v.CellCount())
	assert.Zero(t, v.ExtractPoints().VertexCount())
	assert.Zero(t, v.ExtractMesh().VertexCount())
}

func TestIntegrate_UntrustedFrameDoesNotAddRegions(t *testing.T) {
	t.Parallel()
	trusted := Observation{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true}
	// The same plane seen from a camera shifted sideways by 0.2m covers new
	// ground that only this untrusted frame observes.
	shifted := Observation{Points: planeSet(t, 0.5), Pose: recon.Translation(r3.Vec{X: 0.2}), Trusted: false}

	alone := integrated(t, 2, trusted).ExtractPoints()
	both := integrated(t, 2, trusted, shifted).ExtractPoints()

	maxX := func(s *recon.Surface) float64 {
		m := -1.0
		for _, p := range s.Vertices {
			if p.X > m {
				m = p.X
			}
		}
		return m
	}
	assert.InDelta(t, maxX(alone), maxX(both), 0.006)
}

func TestIntegrate_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()
	obs := []Observation{
		{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true},
		{Points: planeSet(t, 0.5), Pose: recon.Translation(r3.Vec{X: 0.01, Z: 0.001}), Trusted: true},
		{Points: planeSet(t, 0.49), Pose: recon.AxisAngle(r3.Vec{Y: 1}, 0.02), Trusted: false},
	}
	a := integrated(t, 1, obs...)
	b := integrated(t, 5, obs...)
	if diff := cmp.Diff(a.ExtractMesh(), b.ExtractMesh()); diff != "" {
		t.Errorf("mesh depends on worker count (-1 +5):\n%s", diff)
	}
	if diff := cmp.Diff(a.ExtractPoints(), b.ExtractPoints()); diff != "" {
		t.Errorf("points depend on worker count (-1 +5):\n%s", diff)
	}
}

func TestIntegrate_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := NewVolume(testConfig(2), nil)
	err := v.Integrate(ctx, []Observation{{Points: planeSet(t, 0.5), Pose: recon.Identity(), Trusted: true}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractUnknownMode(t *testing.T) {
	t.Parallel()
	_, err := NewVolume(testConfig(1), nil).Extract("voxels")
	assert.Error(t, err)
}

func TestKeyHelpers(t *testing.T) {
	t.Parallel()
	v := NewVolume(testConfig(1), nil)
	k := v.KeyOf(r3.Vec{X: -0.001, Y: 0.0051, Z: 0.5})
	assert.Equal(t, Key{X: -1, Y: 1, Z: 100}, k)
	c := v.Center(k)
	assert.InDelta(t, -0.0025, c.X, 1e-12)
	assert.True(t, Key{X: 0, Y: 5, Z: 9}.Less(Key{X: 1}))
	assert.True(t, Key{X: 1, Y: 0, Z: 9}.Less(Key{X: 1, Y: 1}))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.Truncation = bad.VoxelSize / 2
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.UnconvergedWeightScale = 2
	assert.Error(t, bad.Validate())
}
