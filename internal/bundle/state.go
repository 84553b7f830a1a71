package bundle

import (
	"fmt"

	"github.com/opendrakan/statesync/internal/binio"
)

// Bundle is the schema-agnostic view of a State used by code that stores
// custom object state without knowing its concrete type. All binary
// operations panic when the operands were built from different schemas.
type Bundle interface {
	SchemaName() string
	SetMask() Mask
	IsEmpty() bool
	CountStatesWithValue() int
	Clone() Bundle
	Equal(other Bundle) bool

	// MergeFrom overwrites the receiver's fields with those set in rhs.
	MergeFrom(rhs Bundle)
	// LerpWith blends towards rhs by delta in [0,1].
	LerpWith(rhs Bundle, delta float32) Bundle
	// DeltaFrom keeps only the set fields whose value differs from ref.
	DeltaFrom(ref Bundle) Bundle
	// Restrict keeps only the fields in m.
	Restrict(m Mask) Bundle

	Serialize(w *binio.Writer, p Purpose)
	// Decode reads a bundle of the receiver's schema.
	Decode(r *binio.Reader, p Purpose) (Bundle, error)
}

// State is a value of bundle type B together with the set of fields it holds.
type State[B any] struct {
	schema *Schema[B]
	Value  B
	Set    Mask
}

var _ Bundle = (*State[struct{}])(nil)

// Schema returns the schema the state was built from.
func (s *State[B]) Schema() *Schema[B] { return s.schema }

func (s *State[B]) SchemaName() string { return s.schema.name }

func (s *State[B]) SetMask() Mask { return s.Set }

func (s *State[B]) IsEmpty() bool { return s.Set == 0 }

// CountStatesWithValue returns how many fields are set.
func (s *State[B]) CountStatesWithValue() int { return s.Set.Count() }

func (s *State[B]) Clone() Bundle {
	c := *s
	return &c
}

func (s *State[B]) peer(other Bundle) *State[B] {
	o, ok := other.(*State[B])
	if !ok || o.schema != s.schema {
		panic(fmt.Sprintf("bundle %s: operand has schema %s", s.schema.name, other.SchemaName()))
	}
	return o
}

// Equal reports whether both states set the same fields to the same values.
// Unset fields are ignored.
func (s *State[B]) Equal(other Bundle) bool {
	o := s.peer(other)
	if s.Set != o.Set {
		return false
	}
	for i, f := range s.schema.fields {
		if s.Set.Has(i) && !f.equal(&s.Value, &o.Value) {
			return false
		}
	}
	return true
}

// Merge returns lhs with every field set in rhs overwritten.
func (s *State[B]) Merge(rhs *State[B]) *State[B] {
	out := *s
	out.mergeFrom(s.peer(rhs))
	return &out
}

func (s *State[B]) MergeFrom(rhs Bundle) { s.mergeFrom(s.peer(rhs)) }

func (s *State[B]) mergeFrom(o *State[B]) {
	for i, f := range s.schema.fields {
		if o.Set.Has(i) {
			f.copy(&s.Value, &o.Value)
		}
	}
	s.Set |= o.Set
}

// Lerp interpolates fields set on both sides that are declared Interpolated.
// Every other field takes rhs once delta reaches 1 and lhs before.
func (s *State[B]) Lerp(rhs *State[B], delta float32) *State[B] {
	o := s.peer(rhs)
	out := *s
	for i, f := range s.schema.fields {
		both := s.Set.Has(i) && o.Set.Has(i)
		switch {
		case both && f.lerp != nil:
			f.lerp(&out.Value, &s.Value, &o.Value, delta)
		case delta >= 1 && o.Set.Has(i):
			f.copy(&out.Value, &o.Value)
			out.Set |= 1 << uint(i)
		}
	}
	return &out
}

func (s *State[B]) LerpWith(rhs Bundle, delta float32) Bundle {
	return s.Lerp(s.peer(rhs), delta)
}

// DeltaEncode returns the fields of s that ref does not hold with the same value.
func (s *State[B]) DeltaEncode(ref *State[B]) *State[B] {
	o := s.peer(ref)
	out := *s
	for i, f := range s.schema.fields {
		if s.Set.Has(i) && o.Set.Has(i) && f.equal(&s.Value, &o.Value) {
			out.Set &^= 1 << uint(i)
		}
	}
	return &out
}

func (s *State[B]) DeltaFrom(ref Bundle) Bundle { return s.DeltaEncode(s.peer(ref)) }

func (s *State[B]) Restrict(m Mask) Bundle {
	out := *s
	out.Set &= m
	return &out
}

// Serialize writes the presence mask restricted to p followed by the set
// fields in declaration order.
func (s *State[B]) Serialize(w *binio.Writer, p Purpose) {
	m := s.Set & s.schema.purposeMask(p)
	w.WriteUint64(uint64(m))
	for i, f := range s.schema.fields {
		if m.Has(i) {
			f.write(w, &s.Value)
		}
	}
}

func (s *State[B]) Decode(r *binio.Reader, p Purpose) (Bundle, error) {
	return s.schema.Deserialize(r, p)
}
