package recon

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Transform is a 4x4 homogeneous rigid transform stored row-major:
// m00,m01,m02,m03, m10,... The last row is always [0 0 0 1].
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// NewTransform builds a transform from a row-major 3x3 rotation and a
// translation.
func NewTransform(r [9]float64, t r3.Vec) Transform {
	return Transform{
		r[0], r[1], r[2], t.X,
		r[3], r[4], r[5], t.Y,
		r[6], r[7], r[8], t.Z,
		0, 0, 0, 1,
	}
}

// AxisAngle returns the rotation of angle radians about axis (Rodrigues).
// A zero axis yields the identity.
func AxisAngle(axis r3.Vec, angle float64) Transform {
	n := r3.Norm(axis)
	if n == 0 || angle == 0 {
		return Identity()
	}
	k := r3.Scale(1/n, axis)
	c, s := math.Cos(angle), math.Sin(angle)
	v := 1 - c
	return NewTransform([9]float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}, r3.Vec{})
}

// Translation returns a pure translation transform.
func Translation(t r3.Vec) Transform {
	m := Identity()
	m[3], m[7], m[11] = t.X, t.Y, t.Z
	return m
}

// ApplyPose applies T to point (x, y, z).
func ApplyPose(x, y, z float64, T Transform) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// Apply transforms a point.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	x, y, z := ApplyPose(p.X, p.Y, p.Z, t)
	return r3.Vec{X: x, Y: y, Z: z}
}

// Rotate applies only the rotation part, for directions such as normals.
func (t Transform) Rotate(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0]*v.X + t[1]*v.Y + t[2]*v.Z,
		Y: t[4]*v.X + t[5]*v.Y + t[6]*v.Z,
		Z: t[8]*v.X + t[9]*v.Y + t[10]*v.Z,
	}
}

// Mul returns t*o, i.e. o applied first.
func (t Transform) Mul(o Transform) Transform {
	var out Transform
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += t[r*4+k] * o[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// Inverse returns the inverse of a rigid transform (R^T, -R^T t).
func (t Transform) Inverse() Transform {
	rt := [9]float64{
		t[0], t[4], t[8],
		t[1], t[5], t[9],
		t[2], t[6], t[10],
	}
	tr := t.TranslationVec()
	return NewTransform(rt, r3.Vec{
		X: -(rt[0]*tr.X + rt[1]*tr.Y + rt[2]*tr.Z),
		Y: -(rt[3]*tr.X + rt[4]*tr.Y + rt[5]*tr.Z),
		Z: -(rt[6]*tr.X + rt[7]*tr.Y + rt[8]*tr.Z),
	})
}

// TranslationVec returns the translation column.
func (t Transform) TranslationVec() r3.Vec {
	return r3.Vec{X: t[3], Y: t[7], Z: t[11]}
}

// RotationAngle returns the magnitude of the rotation in radians.
func (t Transform) RotationAngle() float64 {
	c := (t[0] + t[5] + t[10] - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T Transform) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Proper rotation, not reflection
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
