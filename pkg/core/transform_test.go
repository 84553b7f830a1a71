package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectTransform_MergeKeepsUntouchedComponents(t *testing.T) {
	a := FullTransform(Vec3{1, 2, 3}, IdentityQuat, UnitScale)
	b := Translation(Vec3{5, 0, 0})

	got := a.Merge(b)

	assert.Equal(t, TransformAll, got.Type)
	assert.Equal(t, Vec3{5, 0, 0}, got.Position)
	assert.Equal(t, IdentityQuat, got.Rotation)
	assert.Equal(t, UnitScale, got.Scale)
}

func TestObjectTransform_MergeIsIdempotent(t *testing.T) {
	tests := []struct {
		name string
		a, b ObjectTransform
	}{
		{"translation over full", FullTransform(Vec3{1, 1, 1}, IdentityQuat, UnitScale), Translation(Vec3{2, 0, 0})},
		{"rotation over rotation", Rotation(IdentityQuat), Rotation(Quat{0, 1, 0, 0})},
		{"scale over translation", Translation(Vec3{1, 0, 0}), Scaling(Vec3{2, 2, 2})},
		{"empty rhs", Translation(Vec3{3, 3, 3}), ObjectTransform{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := tt.a.Merge(tt.b)
			twice := once.Merge(tt.b)
			assert.Equal(t, once, twice)
		})
	}
}

func TestObjectTransform_LerpOnlyInterpolatesSharedComponents(t *testing.T) {
	a := ObjectTransform{Type: Translated | Scaled, Position: Vec3{0, 0, 0}, Scale: Vec3{1, 1, 1}}
	b := ObjectTransform{Type: Translated | Rotated, Position: Vec3{10, 0, 0}, Rotation: Quat{0, 1, 0, 0}}

	got := a.Lerp(b, 0.5)

	assert.Equal(t, Translated|Scaled, got.Type)
	assert.InDelta(t, 5, got.Position.X, 1e-6)
	assert.Equal(t, Vec3{1, 1, 1}, got.Scale)
	assert.Equal(t, Quat{}, got.Rotation)
}

func TestObjectTransform_InvertOnlySetComponents(t *testing.T) {
	a := ObjectTransform{Type: Translated | Scaled, Position: Vec3{1, -2, 3}, Scale: Vec3{2, 4, 0}, Rotation: Quat{0.5, 0.5, 0.5, 0.5}}

	got := a.Invert()

	assert.Equal(t, Vec3{-1, 2, -3}, got.Position)
	assert.Equal(t, Vec3{0.5, 0.25, 0}, got.Scale)
	assert.Equal(t, a.Rotation, got.Rotation, "unset rotation must not be touched")
}

func TestObjectTransform_InvertTwiceRestoresRotation(t *testing.T) {
	q := Quat{W: 0.7071068, X: 0.7071068}
	a := Rotation(q)

	got := a.Invert().Invert()

	assert.InDelta(t, q.W, got.Rotation.W, 1e-5)
	assert.InDelta(t, q.X, got.Rotation.X, 1e-5)
}

func TestObjectTransform_ComponentCount(t *testing.T) {
	assert.Equal(t, 0, ObjectTransform{}.ComponentCount())
	assert.Equal(t, 3, FullTransform(Vec3{}, IdentityQuat, UnitScale).ComponentCount())
	assert.Equal(t, 1, Scaling(UnitScale).ComponentCount())
}

func TestSlerp_Endpoints(t *testing.T) {
	a := IdentityQuat
	b := Quat{W: 0, X: 0, Y: 1, Z: 0}

	start := Slerp(a, b, 0)
	end := Slerp(a, b, 1)

	assert.InDelta(t, 1, start.W, 1e-5)
	assert.InDelta(t, 1, end.Y, 1e-5)
}
