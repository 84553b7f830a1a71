// pkg/core/vector.go
package core

import "math"

// Vec3 is a 3-component float vector.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v*s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Neg returns -v.
func (v Vec3) Neg() Vec3 {
	return Vec3{-v.X, -v.Y, -v.Z}
}

// Length returns the euclidean length of v.
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Reciprocal returns the component-wise inverse. Zero components stay zero.
func (v Vec3) Reciprocal() Vec3 {
	return Vec3{recip(v.X), recip(v.Y), recip(v.Z)}
}

func recip(f float32) float32 {
	if f == 0 {
		return 0
	}
	return 1 / f
}

// LerpVec3 interpolates linearly between a and b.
func LerpVec3(a, b Vec3, t float32) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Quat is a rotation quaternion.
type Quat struct {
	W, X, Y, Z float32
}

// IdentityQuat is the rotation that does nothing.
var IdentityQuat = Quat{W: 1}

// UnitScale is the neutral scale.
var UnitScale = Vec3{1, 1, 1}

// Conjugate returns the conjugate of q.
func (q Quat) Conjugate() Quat {
	return Quat{q.W, -q.X, -q.Y, -q.Z}
}

// Inverse returns q⁻¹. A zero quaternion inverts to itself.
func (q Quat) Inverse() Quat {
	n := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if n == 0 {
		return q
	}
	c := q.Conjugate()
	return Quat{c.W / n, c.X / n, c.Y / n, c.Z / n}
}

// Mul returns the Hamilton product q*o.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Normalize returns q scaled to unit length.
func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)))
	if n == 0 {
		return IdentityQuat
	}
	return Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Slerp interpolates spherically between a and b along the shortest arc.
func Slerp(a, b Quat, t float32) Quat {
	dot := a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
	if dot < 0 {
		b = Quat{-b.W, -b.X, -b.Y, -b.Z}
		dot = -dot
	}
	if dot > 0.9995 {
		// nearly parallel, nlerp is stable enough
		return Quat{
			W: a.W + (b.W-a.W)*t,
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
		}.Normalize()
	}
	theta0 := math.Acos(float64(dot))
	theta := theta0 * float64(t)
	s0 := float32(math.Cos(theta) - float64(dot)*math.Sin(theta)/math.Sin(theta0))
	s1 := float32(math.Sin(theta) / math.Sin(theta0))
	return Quat{
		W: a.W*s0 + b.W*s1,
		X: a.X*s0 + b.X*s1,
		Y: a.Y*s0 + b.Y*s1,
		Z: a.Z*s0 + b.Z*s1,
	}
}
