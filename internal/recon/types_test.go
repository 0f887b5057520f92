package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestParseAngleLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, AngleFront, ParseAngleLabel("front"))
	assert.Equal(t, AngleLeft, ParseAngleLabel(" LEFT "))
	assert.Equal(t, AngleUnknown, ParseAngleLabel(""))
	assert.Equal(t, AngleUnknown, ParseAngleLabel("back"))
}

func TestIntrinsicsProjectBackProject(t *testing.T) {
	t.Parallel()
	in := Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	p := in.BackProject(100, 50, 0.5)
	u, v, ok := in.Project(p)
	require.True(t, ok)
	assert.InDelta(t, 100, u, 1e-9)
	assert.InDelta(t, 50, v, 1e-9)

	_, _, ok = in.Project(r3.Vec{X: 1, Z: -1})
	assert.False(t, ok)
}

func TestIntrinsicsScaledTo(t *testing.T) {
	t.Parallel()
	in := Intrinsics{Fx: 1000, Fy: 1000, Cx: 640, Cy: 480, ReferenceWidth: 1280, ReferenceHeight: 960}
	got := in.ScaledTo(640, 480)
	assert.Equal(t, Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240, ReferenceWidth: 640, ReferenceHeight: 480}, got)

	same := Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	assert.Equal(t, 500.0, same.ScaledTo(640, 480).Fx)
}

func TestIntrinsicsValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Intrinsics{Fx: 1, Fy: 1}.Validate())
	assert.Error(t, Intrinsics{Fx: 0, Fy: 1}.Validate())
	assert.Error(t, Intrinsics{Fx: 1, Fy: -1}.Validate())
}

func TestPointSetLookupPixel(t *testing.T) {
	t.Parallel()
	ps := &PointSet{
		Stride:     4,
		GridWidth:  2,
		GridHeight: 2,
		Grid:       []int32{0, -1, 1, -1},
		Points:     []Point3D{{Z: 1}, {Z: 2}},
	}
	p, ok := ps.LookupPixel(1, 1)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Z)

	p, ok = ps.LookupPixel(0.4, 4.2)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Z)

	_, ok = ps.LookupPixel(4, 0)
	assert.False(t, ok)
	_, ok = ps.LookupPixel(-3, 0)
	assert.False(t, ok)
	_, ok = ps.LookupPixel(20, 0)
	assert.False(t, ok)
}
