// pkg/core/transform.go
package core

// TransformType flags which components of an ObjectTransform are set.
type TransformType uint8

const (
	Translated TransformType = 1 << iota
	Rotated
	Scaled

	TransformNone TransformType = 0
	TransformAll                = Translated | Rotated | Scaled
)

// ObjectTransform is a partial absolute transform. Only the components
// flagged in Type carry meaning.
type ObjectTransform struct {
	Type     TransformType
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

// FullTransform returns a transform with every component set.
func FullTransform(position Vec3, rotation Quat, scale Vec3) ObjectTransform {
	return ObjectTransform{
		Type:     TransformAll,
		Position: position,
		Rotation: rotation,
		Scale:    scale,
	}
}

// Translation returns a transform with only the position set.
func Translation(p Vec3) ObjectTransform {
	return ObjectTransform{Type: Translated, Position: p}
}

// Rotation returns a transform with only the rotation set.
func Rotation(q Quat) ObjectTransform {
	return ObjectTransform{Type: Rotated, Rotation: q}
}

// Scaling returns a transform with only the scale set.
func Scaling(s Vec3) ObjectTransform {
	return ObjectTransform{Type: Scaled, Scale: s}
}

// IsTranslated reports whether the position component is set.
func (t ObjectTransform) IsTranslated() bool { return t.Type&Translated != 0 }

// IsRotated reports whether the rotation component is set.
func (t ObjectTransform) IsRotated() bool { return t.Type&Rotated != 0 }

// IsScaled reports whether the scale component is set.
func (t ObjectTransform) IsScaled() bool { return t.Type&Scaled != 0 }

// IsEmpty reports whether no component is set.
func (t ObjectTransform) IsEmpty() bool { return t.Type == TransformNone }

// ComponentCount returns how many components are set.
func (t ObjectTransform) ComponentCount() int {
	n := 0
	for _, bit := range []TransformType{Translated, Rotated, Scaled} {
		if t.Type&bit != 0 {
			n++
		}
	}
	return n
}

// Merge composes the components rhs sets on top of lhs. Components rhs
// leaves untouched keep lhs's value.
func (t ObjectTransform) Merge(rhs ObjectTransform) ObjectTransform {
	out := t
	if rhs.IsTranslated() {
		out.Position = rhs.Position
	}
	if rhs.IsRotated() {
		out.Rotation = rhs.Rotation
	}
	if rhs.IsScaled() {
		out.Scale = rhs.Scale
	}
	out.Type |= rhs.Type
	return out
}

// Invert inverts every set component.
func (t ObjectTransform) Invert() ObjectTransform {
	out := t
	if t.IsTranslated() {
		out.Position = t.Position.Neg()
	}
	if t.IsRotated() {
		out.Rotation = t.Rotation.Inverse()
	}
	if t.IsScaled() {
		out.Scale = t.Scale.Reciprocal()
	}
	return out
}

// Lerp interpolates the components both operands define. Everything else is
// taken from t verbatim.
func (t ObjectTransform) Lerp(rhs ObjectTransform, delta float32) ObjectTransform {
	out := t
	both := t.Type & rhs.Type
	if both&Translated != 0 {
		out.Position = LerpVec3(t.Position, rhs.Position, delta)
	}
	if both&Rotated != 0 {
		out.Rotation = Slerp(t.Rotation, rhs.Rotation, delta)
	}
	if both&Scaled != 0 {
		out.Scale = LerpVec3(t.Scale, rhs.Scale, delta)
	}
	return out
}

// Without returns t with the given components cleared.
func (t ObjectTransform) Without(mask TransformType) ObjectTransform {
	out := t
	out.Type &^= mask
	if mask&Translated != 0 {
		out.Position = Vec3{}
	}
	if mask&Rotated != 0 {
		out.Rotation = Quat{}
	}
	if mask&Scaled != 0 {
		out.Scale = Vec3{}
	}
	return out
}
