package recon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func vecNear(t *testing.T, want, got r3.Vec, tol float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, "x")
	assert.InDelta(t, want.Y, got.Y, tol, "y")
	assert.InDelta(t, want.Z, got.Z, tol, "z")
}

func TestIdentityIsValid(t *testing.T) {
	t.Parallel()
	id := Identity()
	assert.True(t, IsValidTransformMatrix(id))
	p := r3.Vec{X: 1, Y: -2, Z: 3}
	assert.Equal(t, p, id.Apply(p))
	assert.Equal(t, 0.0, id.RotationAngle())
}

func TestAxisAngleRotatesAboutZ(t *testing.T) {
	t.Parallel()
	rot := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	require.True(t, IsValidTransformMatrix(rot))
	vecNear(t, r3.Vec{Y: 1}, rot.Apply(r3.Vec{X: 1}), 1e-12)
	assert.InDelta(t, math.Pi/2, rot.RotationAngle(), 1e-12)
}

func TestMulAndInverse(t *testing.T) {
	t.Parallel()
	a := Translation(r3.Vec{X: 0.1, Y: -0.2, Z: 0.3}).Mul(AxisAngle(r3.Vec{X: 1, Y: 1}, 0.3))
	p := r3.Vec{X: 0.05, Y: 0.02, Z: 0.5}

	back := a.Inverse().Apply(a.Apply(p))
	vecNear(t, p, back, 1e-12)

	round := a.Mul(a.Inverse())
	for i, v := range Identity() {
		assert.InDelta(t, v, round[i], 1e-12, "element %d", i)
	}
}

func TestMulAppliesRightOperandFirst(t *testing.T) {
	t.Parallel()
	shift := Translation(r3.Vec{X: 1})
	rot := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	// rotate then shift: (0,0,0) -> (0,0,0) -> (1,0,0)
	vecNear(t, r3.Vec{X: 1}, shift.Mul(rot).Apply(r3.Vec{}), 1e-12)
	// shift then rotate: (0,0,0) -> (1,0,0) -> (0,1,0)
	vecNear(t, r3.Vec{Y: 1}, rot.Mul(shift).Apply(r3.Vec{}), 1e-12)
}

func TestRotateIgnoresTranslation(t *testing.T) {
	t.Parallel()
	tr := Translation(r3.Vec{X: 5, Y: 5, Z: 5})
	assert.Equal(t, r3.Vec{Z: 1}, tr.Rotate(r3.Vec{Z: 1}))
}

func TestIsValidTransformMatrix_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Transform)
	}{
		{"reflection", func(m *Transform) { m[0] = -1 }},
		{"scaled", func(m *Transform) { m[0], m[5], m[10] = 2, 2, 2 }},
		{"bad last row", func(m *Transform) { m[12] = 0.5 }},
		{"bad homogeneous", func(m *Transform) { m[15] = 2 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := Identity()
			tt.mut(&m)
			assert.False(t, IsValidTransformMatrix(m))
		})
	}
}
