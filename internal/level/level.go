// Package level holds the replicated objects of a loaded level.
package level

import (
	"errors"
	"fmt"

	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/pkg/core"
)

var (
	ErrDuplicateObject = errors.New("duplicate level object id")
	ErrUnknownClass    = errors.New("unknown object class")
)

// Level is an ordered set of objects. It is not safe for concurrent use.
type Level struct {
	path     string
	objects  []*Object
	byID     map[core.LevelObjectId]*Object
	listener StateListener
}

// New creates an empty level identified by path.
func New(path string) *Level {
	return &Level{
		path: path,
		byID: make(map[core.LevelObjectId]*Object),
	}
}

func (l *Level) Path() string { return l.path }

// ObjectSpec describes an object to add.
type ObjectSpec struct {
	ID        core.LevelObjectId
	Class     string
	Transform core.ObjectTransform
	Visible   bool
	Custom    bundle.Bundle
	Behavior  Behavior
}

// AddObject adds an object. Components missing from spec.Transform default
// to the origin, identity rotation and unit scale.
func (l *Level) AddObject(spec ObjectSpec) (*Object, error) {
	if _, exists := l.byID[spec.ID]; exists {
		return nil, fmt.Errorf("object %d: %w", spec.ID, ErrDuplicateObject)
	}
	o := &Object{
		id:       spec.ID,
		class:    spec.Class,
		rotation: core.IdentityQuat,
		scale:    core.UnitScale,
		visible:  spec.Visible,
		custom:   spec.Custom,
		behavior: spec.Behavior,
		level:    l,
	}
	o.applyTransform(spec.Transform)
	l.objects = append(l.objects, o)
	l.byID[o.id] = o
	return o, nil
}

// Object returns the object with the given id or nil.
func (l *Level) Object(id core.LevelObjectId) *Object { return l.byID[id] }

// Objects returns all objects in load order.
func (l *Level) Objects() []*Object { return l.objects }

// SetStateListener installs the receiver of object state changes.
func (l *Level) SetStateListener(sl StateListener) { l.listener = sl }

// Update runs every object's behavior.
func (l *Level) Update(dt float64) {
	for _, o := range l.objects {
		if o.behavior != nil {
			o.behavior.Update(o, dt)
		}
	}
}
