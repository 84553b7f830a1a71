package state

import (
	"fmt"

	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/pkg/core"
)

// CheckoutGuard holds the level in the state of a past tick. Release puts
// every object back exactly as it was, including objects written to while
// the guard was held.
type CheckoutGuard struct {
	m        *Manager
	tick     core.TickNumber
	saved    []savedObject
	tracked  map[core.LevelObjectId]struct{}
	released bool
}

type savedObject struct {
	obj  *level.Object
	live level.ObjectStateSnapshot
}

// Tick returns the checked out tick.
func (g *CheckoutGuard) Tick() core.TickNumber { return g.tick }

func (g *CheckoutGuard) save(obj *level.Object, live level.ObjectStateSnapshot) {
	g.tracked[obj.ID()] = struct{}{}
	g.saved = append(g.saved, savedObject{obj: obj, live: live})
}

// touched saves the live state of an object first written to during the
// checkout. It did not change after the checked out tick, so its live state
// is its state at that tick.
func (g *CheckoutGuard) touched(obj *level.Object) {
	if _, ok := g.tracked[obj.ID()]; ok {
		return
	}
	if live, ok := g.m.stateAt(obj.ID(), g.tick); ok {
		g.save(obj, live)
	}
}

// Release restores the live state. Calling it more than once is harmless.
func (g *CheckoutGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	for _, s := range g.saved {
		s.obj.Restore(s.live)
	}
	g.m.ignoreStateUpdates = false
	if g.m.checkout == g {
		g.m.checkout = nil
	}
}

// Checkout rewinds every object changed after tick to its state at tick.
// State updates are ignored until the guard is released. Only one checkout
// may be active at a time.
func (m *Manager) Checkout(tick core.TickNumber) (*CheckoutGuard, error) {
	if m.checkout != nil {
		return nil, fmt.Errorf("checkout %d while %d is held: %w", tick, m.checkout.tick, ErrCheckoutActive)
	}
	if err := m.validateHistorical(tick); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	g := &CheckoutGuard{m: m, tick: tick, tracked: make(map[core.LevelObjectId]struct{})}
	for _, id := range m.changedAfter(tick) {
		obj := m.level.Object(id)
		target, ok := m.stateAt(id, tick)
		if obj == nil || !ok {
			continue
		}
		g.save(obj, obj.Snapshot())
		obj.Restore(target)
	}
	m.ignoreStateUpdates = true
	m.checkout = g
	return g, nil
}

// WithCheckout runs fn with the level checked out at tick. The live state is
// restored when fn returns or panics.
func (m *Manager) WithCheckout(tick core.TickNumber, fn func() error) error {
	g, err := m.Checkout(tick)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
