package level

import (
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/pkg/core"
)

// StateListener receives every state change made through an object's setters.
// The tick passed along is always the listener's MaxTick.
type StateListener interface {
	MaxTick() core.TickNumber
	ObjectTransformed(obj *Object, delta core.ObjectTransform, tick core.TickNumber)
	ObjectVisibilityChanged(obj *Object, visible bool, tick core.TickNumber)
	ObjectCustomStateChanged(obj *Object, delta bundle.Bundle, tick core.TickNumber)
}

// Behavior advances an object's simulation each level update.
type Behavior interface {
	Update(obj *Object, dt float64)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(obj *Object, dt float64)

func (f BehaviorFunc) Update(obj *Object, dt float64) { f(obj, dt) }

// Object is a level object whose state is replicated.
type Object struct {
	id       core.LevelObjectId
	class    string
	position core.Vec3
	rotation core.Quat
	scale    core.Vec3
	visible  bool
	custom   bundle.Bundle
	behavior Behavior
	level    *Level
}

// ObjectStateSnapshot is the complete replicated state of an object.
type ObjectStateSnapshot struct {
	Transform core.ObjectTransform
	Visible   bool
	Custom    bundle.Bundle
}

func (o *Object) ID() core.LevelObjectId { return o.id }
func (o *Object) Class() string          { return o.class }
func (o *Object) Position() core.Vec3    { return o.position }
func (o *Object) Rotation() core.Quat    { return o.rotation }
func (o *Object) Scale() core.Vec3       { return o.scale }
func (o *Object) Visible() bool          { return o.visible }

// CustomState returns the object's full custom state or nil if its class
// declares none. The returned bundle must not be modified.
func (o *Object) CustomState() bundle.Bundle { return o.custom }

// Transform returns position, rotation and scale as a full transform.
func (o *Object) Transform() core.ObjectTransform {
	return core.FullTransform(o.position, o.rotation, o.scale)
}

// SetBehavior replaces the object's behavior.
func (o *Object) SetBehavior(b Behavior) { o.behavior = b }

func (o *Object) listener() StateListener {
	if o.level == nil {
		return nil
	}
	return o.level.listener
}

func (o *Object) SetPosition(p core.Vec3) { o.SetTransform(core.Translation(p)) }
func (o *Object) SetRotation(q core.Quat) { o.SetTransform(core.Rotation(q)) }
func (o *Object) SetScale(s core.Vec3)    { o.SetTransform(core.Scaling(s)) }

// SetTransform applies the components set in t and reports them.
func (o *Object) SetTransform(t core.ObjectTransform) {
	if t.IsEmpty() {
		return
	}
	o.applyTransform(t)
	if l := o.listener(); l != nil {
		l.ObjectTransformed(o, t, l.MaxTick())
	}
}

func (o *Object) applyTransform(t core.ObjectTransform) {
	if t.IsTranslated() {
		o.position = t.Position
	}
	if t.IsRotated() {
		o.rotation = t.Rotation
	}
	if t.IsScaled() {
		o.scale = t.Scale
	}
}

// SetVisible changes visibility and reports it.
func (o *Object) SetVisible(v bool) {
	o.visible = v
	if l := o.listener(); l != nil {
		l.ObjectVisibilityChanged(o, v, l.MaxTick())
	}
}

// SetCustomState merges the fields set in delta into the custom state and
// reports the delta. Objects without custom state ignore the call.
func (o *Object) SetCustomState(delta bundle.Bundle) {
	if o.custom == nil || delta == nil || delta.IsEmpty() {
		return
	}
	o.custom.MergeFrom(delta)
	if l := o.listener(); l != nil {
		l.ObjectCustomStateChanged(o, delta.Clone(), l.MaxTick())
	}
}

// ApplyTransform sets transform components without reporting them.
func (o *Object) ApplyTransform(t core.ObjectTransform) { o.applyTransform(t) }

// ApplyVisibility sets visibility without reporting it.
func (o *Object) ApplyVisibility(v bool) { o.visible = v }

// ApplyCustomState merges delta without reporting it.
func (o *Object) ApplyCustomState(delta bundle.Bundle) {
	if o.custom != nil && delta != nil {
		o.custom.MergeFrom(delta)
	}
}

// Snapshot captures the object's full replicated state.
func (o *Object) Snapshot() ObjectStateSnapshot {
	s := ObjectStateSnapshot{
		Transform: o.Transform(),
		Visible:   o.visible,
	}
	if o.custom != nil {
		s.Custom = o.custom.Clone()
	}
	return s
}

// Restore overwrites the object's state with s without reporting it.
func (o *Object) Restore(s ObjectStateSnapshot) {
	o.applyTransform(s.Transform)
	o.visible = s.Visible
	if o.custom != nil && s.Custom != nil {
		o.custom = s.Custom.Clone()
	}
}
