package l2points

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamseal/facerecon/internal/recon"
)

func constantFrame(w, h int, d float32) *recon.CaptureFrame {
	values := make([]float32, w*h)
	for i := range values {
		values[i] = d
	}
	return &recon.CaptureFrame{
		Index:      0,
		Angle:      recon.AngleFront,
		Depth:      &recon.DepthMap{Width: w, Height: h, Values: values},
		Intrinsics: recon.Intrinsics{Fx: 500, Fy: 500, Cx: float64(w) / 2, Cy: float64(h) / 2},
	}
}

func TestProject_RoundTrip(t *testing.T) {
	t.Parallel()
	const d = 0.5
	frame := constantFrame(64, 48, d)
	cfg := DefaultConfig()
	cfg.Stride = 1

	ps := Project(frame, cfg)
	require.Equal(t, 64*48, ps.Len())
	assert.Equal(t, 0, ps.Stats.Rejected())

	in := frame.Intrinsics
	for row := 0; row < 48; row++ {
		for col := 0; col < 64; col++ {
			p, ok := ps.LookupPixel(float64(col), float64(row))
			require.True(t, ok)
			assert.Equal(t, d, p.Z)
			assert.InDelta(t, (float64(col)-in.Cx)*d/in.Fx, p.X, 1e-5)
			assert.InDelta(t, (float64(row)-in.Cy)*d/in.Fy, p.Y, 1e-5)

			u, v, ok := in.Project(p.Vec())
			require.True(t, ok)
			assert.InDelta(t, float64(col), u, 1e-5)
			assert.InDelta(t, float64(row), v, 1e-5)
		}
	}
}

func TestProject_RejectsInvalidDepth(t *testing.T) {
	t.Parallel()
	frame := constantFrame(4, 2, 0.5)
	frame.Depth.Values = []float32{
		0.5, 0, -1, float32(math.NaN()),
		float32(math.Inf(1)), 3.0, 0.6, float32(math.Inf(-1)),
	}
	cfg := DefaultConfig()
	cfg.Stride = 1

	ps := Project(frame, cfg)
	assert.Equal(t, recon.ProjectionStats{
		Sampled:             8,
		Emitted:             2,
		RejectedNonPositive: 2,
		RejectedNonFinite:   3,
		RejectedOutOfRange:  1,
	}, ps.Stats)
	assert.Equal(t, []int32{0, -1, -1, -1, -1, -1, 1, -1}, ps.Grid)
	for _, p := range ps.Points {
		assert.Greater(t, p.Z, 0.0)
		assert.LessOrEqual(t, p.Z, cfg.MaxRange)
	}
}

func TestProject_AllInvalidYieldsNoPoints(t *testing.T) {
	t.Parallel()
	ps := Project(constantFrame(32, 24, 0), DefaultConfig())
	assert.Equal(t, 0, ps.Len())
	assert.Equal(t, ps.Stats.Sampled, ps.Stats.RejectedNonPositive)
}

func TestProject_StrideGrid(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Stride = 4
	ps := Project(constantFrame(10, 9, 0.5), cfg)

	assert.Equal(t, 3, ps.GridWidth)
	assert.Equal(t, 3, ps.GridHeight)
	assert.Equal(t, 9, ps.Len())

	p, ok := ps.LookupPixel(8, 8)
	require.True(t, ok)
	assert.InDelta(t, (8-5)*0.5/500, p.X, 1e-12)
}

func TestProject_PlaneNormalsAndWeights(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	ps := Project(constantFrame(64, 48, 0.5), cfg)
	require.NotZero(t, ps.Len())

	p, ok := ps.LookupPixel(32, 24)
	require.True(t, ok)
	assert.InDelta(t, 0, p.Normal.X, 1e-9)
	assert.InDelta(t, 0, p.Normal.Y, 1e-9)
	assert.InDelta(t, -1, p.Normal.Z, 1e-9)
	// cos = 1 at the principal point, range term 1/(1+0.5^2)
	assert.InDelta(t, 0.8, p.Weight, 1e-9)

	for _, q := range ps.Points {
		assert.Greater(t, q.Weight, 0.0)
		assert.LessOrEqual(t, q.Weight, 1.0)
	}
}

func TestProject_ObliqueSamplesGetZeroWeight(t *testing.T) {
	t.Parallel()
	// A plane tilted almost edge-on to the camera.
	frame := constantFrame(16, 16, 0.5)
	for row := 0; row < 16; row++ {
		for col := 0; col < 16; col++ {
			frame.Depth.Values[row*16+col] = float32(0.5 + 0.01*float64(col))
		}
	}
	cfg := DefaultConfig()
	cfg.Stride = 1
	cfg.ObliqueMinCos = 0.9

	ps := Project(frame, cfg)
	require.NotZero(t, ps.Len())
	zero := 0
	for _, p := range ps.Points {
		if p.Weight == 0 {
			zero++
		}
	}
	assert.NotZero(t, zero)
}

func TestProject_SamplesColor(t *testing.T) {
	t.Parallel()
	frame := constantFrame(8, 8, 0.5)
	frame.Color = image.NewRGBA(image.Rect(0, 0, 8, 8))
	frame.Color.SetRGBA(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	ps := Project(frame, DefaultConfig())
	p, ok := ps.LookupPixel(4, 4)
	require.True(t, ok)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, p.Color)
}

func TestProject_Deterministic(t *testing.T) {
	t.Parallel()
	frame := constantFrame(40, 30, 0.45)
	a := Project(frame, DefaultConfig())
	b := Project(frame, DefaultConfig())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("projection not deterministic (-a +b):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.Stride = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.MaxRange = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.ObliqueMinCos = 1
	assert.Error(t, bad.Validate())
}
