package bundle

import (
	"math"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
)

// Flags modify how a field takes part in bundle operations.
type Flags uint8

const (
	// Interpolated fields are blended by Lerp. Fields without it snap.
	Interpolated Flags = 1 << iota
	// SavegameOnly fields are not sent over the network.
	SavegameOnly
)

// Purpose selects which fields are serialized.
type Purpose uint8

const (
	PurposeNetwork Purpose = iota
	PurposeSavegame
)

func (p Purpose) String() string {
	switch p {
	case PurposeNetwork:
		return "network"
	case PurposeSavegame:
		return "savegame"
	default:
		return "unknown"
	}
}

// Field describes one replicated member of B. Field values are created with
// the typed constructors below and are immutable afterwards.
type Field[B any] struct {
	name  string
	flags Flags

	equal func(a, b *B) bool
	copy  func(dst, src *B)
	lerp  func(dst, a, b *B, delta float32)
	write func(w *binio.Writer, b *B)
	read  func(r *binio.Reader, b *B)
}

// Name returns the field's name.
func (f Field[B]) Name() string { return f.name }

// Flags returns the field's flags.
func (f Field[B]) Flags() Flags { return f.flags }

// Interpolable reports whether Lerp blends this field.
func (f Field[B]) Interpolable() bool { return f.lerp != nil }

func (f Field[B]) includedIn(p Purpose) bool {
	return p == PurposeSavegame || f.flags&SavegameOnly == 0
}

func newField[B any, V comparable](
	name string,
	get func(*B) *V,
	flags Flags,
	write func(*binio.Writer, V),
	read func(*binio.Reader) V,
	lerp func(a, b V, t float32) V,
) Field[B] {
	f := Field[B]{
		name:  name,
		flags: flags,
		equal: func(a, b *B) bool { return *get(a) == *get(b) },
		copy:  func(dst, src *B) { *get(dst) = *get(src) },
		write: func(w *binio.Writer, b *B) { write(w, *get(b)) },
		read:  func(r *binio.Reader, b *B) { *get(b) = read(r) },
	}
	if lerp != nil && flags&Interpolated != 0 {
		f.lerp = func(dst, a, b *B, t float32) { *get(dst) = lerp(*get(a), *get(b), t) }
	}
	return f
}

func lerpFloat(a, b float32, t float32) float32 { return a + (b-a)*t }

func lerpInt[V int32 | uint32 | uint8](a, b V, t float32) V {
	return V(math.Round(float64(a) + (float64(b)-float64(a))*float64(t)))
}

// Float32 declares a float field.
func Float32[B any](name string, get func(*B) *float32, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteFloat32, (*binio.Reader).ReadFloat32, lerpFloat)
}

// Int32 declares a signed integer field. Interpolated values are rounded.
func Int32[B any](name string, get func(*B) *int32, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteInt32, (*binio.Reader).ReadInt32, lerpInt[int32])
}

// Uint32 declares an unsigned integer field.
func Uint32[B any](name string, get func(*B) *uint32, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteUint32, (*binio.Reader).ReadUint32, lerpInt[uint32])
}

// Uint8 declares a byte field, typically an enum.
func Uint8[B any](name string, get func(*B) *uint8, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteUint8, (*binio.Reader).ReadUint8, lerpInt[uint8])
}

// Bool declares a flag. Bools never interpolate.
func Bool[B any](name string, get func(*B) *bool, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteBool, (*binio.Reader).ReadBool, nil)
}

// Vec3 declares a vector field.
func Vec3[B any](name string, get func(*B) *core.Vec3, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteVec3, (*binio.Reader).ReadVec3, core.LerpVec3)
}

// Quat declares a rotation field, interpolated with Slerp.
func Quat[B any](name string, get func(*B) *core.Quat, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteQuat, (*binio.Reader).ReadQuat, core.Slerp)
}

// String declares a string field. Strings never interpolate.
func String[B any](name string, get func(*B) *string, flags Flags) Field[B] {
	return newField(name, get, flags, (*binio.Writer).WriteString, (*binio.Reader).ReadString, nil)
}
