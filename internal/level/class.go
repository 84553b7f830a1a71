package level

import (
	"fmt"
	"math"
	"sync"

	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/pkg/core"
)

// Class describes a kind of level object.
type Class struct {
	Name string
	// NewState returns a fresh full custom state, or nil for classes without one.
	NewState func() bundle.Bundle
}

// BehaviorFactory builds a behavior from level file parameters.
type BehaviorFactory func(params map[string]float64) (Behavior, error)

// Registry maps class and behavior names used in level files.
type Registry struct {
	mu        sync.RWMutex
	classes   map[string]Class
	behaviors map[string]BehaviorFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:   make(map[string]Class),
		behaviors: make(map[string]BehaviorFactory),
	}
}

// RegisterClass adds c, replacing any class of the same name.
func (r *Registry) RegisterClass(c Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[c.Name] = c
}

// RegisterBehavior adds a named behavior factory.
func (r *Registry) RegisterBehavior(name string, f BehaviorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[name] = f
}

// Class looks up a class by name.
func (r *Registry) Class(name string) (Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	if !ok {
		return Class{}, fmt.Errorf("%q: %w", name, ErrUnknownClass)
	}
	return c, nil
}

// Behavior builds the named behavior.
func (r *Registry) Behavior(name string, params map[string]float64) (Behavior, error) {
	r.mu.RLock()
	f, ok := r.behaviors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown behavior %q", name)
	}
	return f(params)
}

// DoorState is the custom state of doors and gates.
type DoorState struct {
	Openness float32
	Locked   bool
}

// DoorSchema must not be reordered.
var DoorSchema = bundle.NewSchema("door",
	bundle.Float32("openness", func(d *DoorState) *float32 { return &d.Openness }, bundle.Interpolated),
	bundle.Bool("locked", func(d *DoorState) *bool { return &d.Locked }, 0),
)

// PawnState is the custom state of characters.
type PawnState struct {
	Health     float32
	Stance     uint8
	Name       string
	Kills      int32
	AIRevision uint32
}

// PawnSchema must not be reordered.
var PawnSchema = bundle.NewSchema("pawn",
	bundle.Float32("health", func(p *PawnState) *float32 { return &p.Health }, bundle.Interpolated),
	bundle.Uint8("stance", func(p *PawnState) *uint8 { return &p.Stance }, 0),
	bundle.String("name", func(p *PawnState) *string { return &p.Name }, 0),
	bundle.Int32("kills", func(p *PawnState) *int32 { return &p.Kills }, 0),
	bundle.Uint32("ai_revision", func(p *PawnState) *uint32 { return &p.AIRevision }, bundle.SavegameOnly),
)

// DefaultRegistry returns a registry with the built-in classes and behaviors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterClass(Class{Name: "static"})
	r.RegisterClass(Class{Name: "door", NewState: func() bundle.Bundle {
		return DoorSchema.Full(DoorState{})
	}})
	r.RegisterClass(Class{Name: "pawn", NewState: func() bundle.Bundle {
		return PawnSchema.Full(PawnState{Health: 100})
	}})

	r.RegisterBehavior("spin", func(p map[string]float64) (Behavior, error) {
		return &spin{rate: param(p, "rate", math.Pi/2)}, nil
	})
	r.RegisterBehavior("patrol", func(p map[string]float64) (Behavior, error) {
		return &patrol{amplitude: param(p, "amplitude", 1), period: param(p, "period", 4)}, nil
	})
	r.RegisterBehavior("blink", func(p map[string]float64) (Behavior, error) {
		return &blink{interval: param(p, "interval", 1)}, nil
	})
	r.RegisterBehavior("swing", func(p map[string]float64) (Behavior, error) {
		return &swing{period: param(p, "period", 3)}, nil
	})
	return r
}

func param(p map[string]float64, name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

type spin struct {
	rate  float64
	angle float64
}

func (s *spin) Update(o *Object, dt float64) {
	s.angle = math.Mod(s.angle+s.rate*dt, 2*math.Pi)
	half := s.angle / 2
	o.SetRotation(core.Quat{W: float32(math.Cos(half)), Y: float32(math.Sin(half))})
}

type patrol struct {
	amplitude, period float64
	elapsed           float64
	origin            *core.Vec3
}

func (p *patrol) Update(o *Object, dt float64) {
	if p.origin == nil {
		origin := o.Position()
		p.origin = &origin
	}
	p.elapsed += dt
	offset := float32(p.amplitude * math.Sin(2*math.Pi*p.elapsed/p.period))
	o.SetPosition(p.origin.Add(core.Vec3{X: offset}))
}

type blink struct {
	interval float64
	elapsed  float64
}

func (b *blink) Update(o *Object, dt float64) {
	b.elapsed += dt
	if b.elapsed >= b.interval {
		b.elapsed -= b.interval
		o.SetVisible(!o.Visible())
	}
}

// swing opens and closes a door.
type swing struct {
	period  float64
	elapsed float64
}

func (s *swing) Update(o *Object, dt float64) {
	s.elapsed += dt
	openness := float32(0.5 - 0.5*math.Cos(2*math.Pi*s.elapsed/s.period))
	o.SetCustomState(DoorSchema.Partial(DoorState{Openness: openness}, DoorSchema.MaskOf("openness")))
}
