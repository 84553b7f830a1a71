package state

import (
	"errors"
	"fmt"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/pkg/core"
)

// Flags of the serialized object states record.
const (
	flagTranslated uint8 = 1 << iota
	flagRotated
	flagScaled
	flagVisibilitySet
	flagVisible
	flagCustom

	flagsKnown = flagTranslated | flagRotated | flagScaled | flagVisibilitySet | flagVisible | flagCustom
)

var (
	ErrUnknownStateFlags     = errors.New("unknown object state flags")
	ErrUnexpectedCustomState = errors.New("custom state for object without custom state")
)

// ObjectStateTransition is the accumulated change of one object.
type ObjectStateTransition struct {
	Transform         core.ObjectTransform
	VisibilityChanged bool
	Visible           bool
	// Custom holds only the changed fields, nil if none changed.
	Custom bundle.Bundle
}

// IsEmpty reports whether the transition changes nothing.
func (t ObjectStateTransition) IsEmpty() bool {
	return t.Transform.IsEmpty() && !t.VisibilityChanged && (t.Custom == nil || t.Custom.IsEmpty())
}

// Count returns the number of changed components and custom fields.
func (t ObjectStateTransition) Count() int {
	n := t.Transform.ComponentCount()
	if t.VisibilityChanged {
		n++
	}
	if t.Custom != nil {
		n += t.Custom.CountStatesWithValue()
	}
	return n
}

// Merge overlays rhs, last writer wins per component. The receiver never
// aliases rhs's custom bundle.
func (t *ObjectStateTransition) Merge(rhs ObjectStateTransition) {
	t.Transform = t.Transform.Merge(rhs.Transform)
	if rhs.VisibilityChanged {
		t.VisibilityChanged = true
		t.Visible = rhs.Visible
	}
	if rhs.Custom != nil {
		if t.Custom == nil {
			t.Custom = rhs.Custom.Clone()
		} else {
			t.Custom.MergeFrom(rhs.Custom)
		}
	}
}

// Clone returns a deep copy.
func (t ObjectStateTransition) Clone() ObjectStateTransition {
	if t.Custom != nil {
		t.Custom = t.Custom.Clone()
	}
	return t
}

// DeltaEncode drops every component whose value already equals ref.
func (t ObjectStateTransition) DeltaEncode(ref level.ObjectStateSnapshot) ObjectStateTransition {
	out := t
	if t.Transform.IsTranslated() && t.Transform.Position == ref.Transform.Position {
		out.Transform = out.Transform.Without(core.Translated)
	}
	if t.Transform.IsRotated() && t.Transform.Rotation == ref.Transform.Rotation {
		out.Transform = out.Transform.Without(core.Rotated)
	}
	if t.Transform.IsScaled() && t.Transform.Scale == ref.Transform.Scale {
		out.Transform = out.Transform.Without(core.Scaled)
	}
	if t.VisibilityChanged && t.Visible == ref.Visible {
		out.VisibilityChanged = false
		out.Visible = false
	}
	if t.Custom != nil && ref.Custom != nil {
		out.Custom = t.Custom.DeltaFrom(ref.Custom)
	}
	if out.Custom != nil && out.Custom.IsEmpty() {
		out.Custom = nil
	}
	return out
}

// ApplyTo returns s with the transition applied.
func (t ObjectStateTransition) ApplyTo(s level.ObjectStateSnapshot) level.ObjectStateSnapshot {
	s.Transform = s.Transform.Merge(t.Transform)
	if t.VisibilityChanged {
		s.Visible = t.Visible
	}
	if s.Custom != nil {
		s.Custom = s.Custom.Clone()
		if t.Custom != nil {
			s.Custom.MergeFrom(t.Custom)
		}
	}
	return s
}

// Diff returns the transition leading from one full state to another.
func Diff(from, to level.ObjectStateSnapshot) ObjectStateTransition {
	full := ObjectStateTransition{
		Transform:         to.Transform,
		VisibilityChanged: true,
		Visible:           to.Visible,
		Custom:            to.Custom,
	}
	return full.DeltaEncode(from)
}

// Serialize writes the flags byte, the set transform components and the
// custom bundle if present.
func (t ObjectStateTransition) Serialize(w *binio.Writer, p bundle.Purpose) {
	var flags uint8
	if t.Transform.IsTranslated() {
		flags |= flagTranslated
	}
	if t.Transform.IsRotated() {
		flags |= flagRotated
	}
	if t.Transform.IsScaled() {
		flags |= flagScaled
	}
	if t.VisibilityChanged {
		flags |= flagVisibilitySet
		if t.Visible {
			flags |= flagVisible
		}
	}
	if t.Custom != nil {
		flags |= flagCustom
	}

	w.WriteUint8(flags)
	if t.Transform.IsTranslated() {
		w.WriteVec3(t.Transform.Position)
	}
	if t.Transform.IsRotated() {
		w.WriteQuat(t.Transform.Rotation)
	}
	if t.Transform.IsScaled() {
		w.WriteVec3(t.Transform.Scale)
	}
	if t.Custom != nil {
		t.Custom.Serialize(w, p)
	}
}

// DeserializeTransition reads a record written by Serialize. proto decodes
// the custom bundle and may be nil for objects without custom state.
func DeserializeTransition(r *binio.Reader, proto bundle.Bundle, p bundle.Purpose) (ObjectStateTransition, error) {
	var t ObjectStateTransition
	flags := r.ReadUint8()
	if err := r.Err(); err != nil {
		return t, fmt.Errorf("reading state flags: %w", err)
	}
	if flags&^flagsKnown != 0 {
		return t, fmt.Errorf("flags %#02x: %w", flags, ErrUnknownStateFlags)
	}

	if flags&flagTranslated != 0 {
		t.Transform = t.Transform.Merge(core.Translation(r.ReadVec3()))
	}
	if flags&flagRotated != 0 {
		t.Transform = t.Transform.Merge(core.Rotation(r.ReadQuat()))
	}
	if flags&flagScaled != 0 {
		t.Transform = t.Transform.Merge(core.Scaling(r.ReadVec3()))
	}
	if flags&flagVisibilitySet != 0 {
		t.VisibilityChanged = true
		t.Visible = flags&flagVisible != 0
	}
	if err := r.Err(); err != nil {
		return t, fmt.Errorf("reading transform: %w", err)
	}

	if flags&flagCustom != 0 {
		if proto == nil {
			return t, ErrUnexpectedCustomState
		}
		custom, err := proto.Decode(r, p)
		if err != nil {
			return t, err
		}
		t.Custom = custom
	}
	return t, nil
}

// transitionMap holds the transitions of one tick or an accumulated range.
type transitionMap map[core.LevelObjectId]ObjectStateTransition

func (m transitionMap) merge(id core.LevelObjectId, tr ObjectStateTransition) {
	cur := m[id]
	cur.Merge(tr)
	m[id] = cur
}

func (m transitionMap) mergeAll(other transitionMap) {
	for id, tr := range other {
		m.merge(id, tr)
	}
}
