// Package bundle implements generic merge, interpolation, delta encoding and
// serialization for structs that declare their replicated fields once.
//
// The declared field order is part of the wire format. Reordering fields of
// a schema breaks compatibility with peers built from older code.
package bundle

import (
	"errors"
	"fmt"

	"github.com/opendrakan/statesync/internal/binio"
)

// MaxFields is the number of fields that fit into a presence mask.
const MaxFields = 64

// ErrInvalidMask is returned when a serialized presence mask references
// fields the schema doesn't have or the purpose excludes.
var ErrInvalidMask = errors.New("invalid bundle presence mask")

// Mask has bit i set when field i holds a value.
type Mask uint64

// Has reports whether field i is set.
func (m Mask) Has(i int) bool { return m&(1<<uint(i)) != 0 }

// Count returns the number of set fields.
func (m Mask) Count() int {
	n := 0
	for ; m != 0; m &= m - 1 {
		n++
	}
	return n
}

// Schema is the ordered field list of bundle type B.
type Schema[B any] struct {
	name    string
	fields  []Field[B]
	all     Mask
	network Mask
	byName  map[string]int
}

// NewSchema builds a schema. It panics on duplicate field names or when
// more than MaxFields fields are declared.
func NewSchema[B any](name string, fields ...Field[B]) *Schema[B] {
	if len(fields) > MaxFields {
		panic(fmt.Sprintf("bundle %s: %d fields exceed the limit of %d", name, len(fields), MaxFields))
	}
	s := &Schema[B]{
		name:   name,
		fields: fields,
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := s.byName[f.name]; dup {
			panic(fmt.Sprintf("bundle %s: duplicate field %q", name, f.name))
		}
		s.byName[f.name] = i
		s.all |= 1 << uint(i)
		if f.includedIn(PurposeNetwork) {
			s.network |= 1 << uint(i)
		}
	}
	return s
}

// Name returns the schema's name.
func (s *Schema[B]) Name() string { return s.name }

// Fields returns the declared fields in wire order.
func (s *Schema[B]) Fields() []Field[B] { return s.fields }

// Index returns the position of the named field, or -1.
func (s *Schema[B]) Index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

// MaskOf returns the mask selecting the named fields. Unknown names panic.
func (s *Schema[B]) MaskOf(names ...string) Mask {
	var m Mask
	for _, n := range names {
		i := s.Index(n)
		if i < 0 {
			panic(fmt.Sprintf("bundle %s: unknown field %q", s.name, n))
		}
		m |= 1 << uint(i)
	}
	return m
}

// AllFields returns the mask with every field set.
func (s *Schema[B]) AllFields() Mask { return s.all }

func (s *Schema[B]) purposeMask(p Purpose) Mask {
	if p == PurposeSavegame {
		return s.all
	}
	return s.network
}

// Empty returns a state with no fields set.
func (s *Schema[B]) Empty() *State[B] {
	return &State[B]{schema: s}
}

// Full returns a state holding v with every field set.
func (s *Schema[B]) Full(v B) *State[B] {
	return &State[B]{schema: s, Value: v, Set: s.all}
}

// Partial returns a state holding v with only the fields in m set.
func (s *Schema[B]) Partial(v B, m Mask) *State[B] {
	return &State[B]{schema: s, Value: v, Set: m & s.all}
}

// Deserialize reads a state written by State.Serialize with the same purpose.
func (s *Schema[B]) Deserialize(r *binio.Reader, p Purpose) (*State[B], error) {
	m := Mask(r.ReadUint64())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading %s mask: %w", s.name, err)
	}
	if m&^s.purposeMask(p) != 0 {
		return nil, fmt.Errorf("%s %s mask %#x: %w", s.name, p, uint64(m), ErrInvalidMask)
	}

	st := s.Empty()
	st.Set = m
	for i, f := range s.fields {
		if m.Has(i) {
			f.read(r, &st.Value)
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading %s fields: %w", s.name, err)
	}
	return st, nil
}
