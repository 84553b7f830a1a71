// Package state records per-tick object state transitions, keeps a bounded
// window of history for rollback and builds delta snapshots for clients.
//
// A Manager is confined to the simulation goroutine and does no locking.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/timeline"
	"github.com/opendrakan/statesync/pkg/core"
)

var (
	// ErrTickEvicted is returned for ticks older than the retention window.
	ErrTickEvicted = errors.New("tick no longer retained")
	// ErrTickNotRetained is returned for ticks that have not been committed yet.
	ErrTickNotRetained = errors.New("tick not committed")
	// ErrCheckoutActive is returned while a checkout guard is held.
	ErrCheckoutActive = errors.New("checkout already active")
)

// DefaultRetainedTicks is used when Config.RetainedTicks is not positive.
const DefaultRetainedTicks = 64

// Config tunes a Manager.
type Config struct {
	// RetainedTicks is the number of committed ticks kept for rollback
	// and delta snapshots.
	RetainedTicks int
}

// Manager is the StateListener of a level.
type Manager struct {
	level  *level.Level
	logger *slog.Logger

	// full object state at load, never modified after construction
	loadState map[core.LevelObjectId]level.ObjectStateSnapshot
	// fold of every evicted tick
	evictedBase transitionMap
	// fold of every committed tick
	baseMap transitionMap

	// ring of per-tick maps covering [oldestTick, maxTick]
	ticks       []transitionMap
	oldestTick  core.TickNumber
	oldestIndex int
	maxTick     core.TickNumber

	events *timeline.Timeline[Event]

	ignoreStateUpdates bool
	checkout           *CheckoutGuard

	scratch *binio.Writer
}

var _ level.StateListener = (*Manager)(nil)

// NewManager captures the level's current object states as load state and
// installs itself as the level's StateListener.
func NewManager(lvl *level.Level, cfg Config, logger *slog.Logger) *Manager {
	if cfg.RetainedTicks <= 0 {
		cfg.RetainedTicks = DefaultRetainedTicks
	}
	m := &Manager{
		level:       lvl,
		logger:      logger,
		loadState:   make(map[core.LevelObjectId]level.ObjectStateSnapshot, len(lvl.Objects())),
		evictedBase: make(transitionMap),
		baseMap:     make(transitionMap),
		ticks:       make([]transitionMap, cfg.RetainedTicks+1),
		events:      timelineAt(0),
		scratch:     binio.NewWriter(256),
	}
	for _, o := range lvl.Objects() {
		m.loadState[o.ID()] = o.Snapshot()
	}
	lvl.SetStateListener(m)
	return m
}

// Level returns the managed level.
func (m *Manager) Level() *level.Level { return m.level }

// MaxTick is the tick currently open for writing.
func (m *Manager) MaxTick() core.TickNumber { return m.maxTick }

// CurrentTick is the latest committed tick, core.NoTick before the first commit.
func (m *Manager) CurrentTick() core.TickNumber { return m.maxTick - 1 }

// OldestTick is the oldest tick whose transitions are still retained.
func (m *Manager) OldestTick() core.TickNumber { return m.oldestTick }

// RetainedTicks returns the window size in committed ticks.
func (m *Manager) RetainedTicks() int { return len(m.ticks) - 1 }

// CheckedOut reports whether a checkout guard is held.
func (m *Manager) CheckedOut() bool { return m.checkout != nil }

func (m *Manager) slot(tick core.TickNumber) int {
	return (m.oldestIndex + int(tick-m.oldestTick)) % len(m.ticks)
}

func (m *Manager) tickMap(tick core.TickNumber) transitionMap {
	if tick < m.oldestTick || tick > m.maxTick {
		return nil
	}
	return m.ticks[m.slot(tick)]
}

func (m *Manager) writableMap() transitionMap {
	i := m.slot(m.maxTick)
	if m.ticks[i] == nil {
		m.ticks[i] = make(transitionMap)
	}
	return m.ticks[i]
}

func (m *Manager) record(obj *level.Object, tr ObjectStateTransition, tick core.TickNumber) {
	if m.ignoreStateUpdates {
		if m.checkout != nil {
			m.checkout.touched(obj)
		}
		return
	}
	if tick != m.maxTick {
		panic(fmt.Sprintf("state: object %d changed at tick %d, only tick %d is writable", obj.ID(), tick, m.maxTick))
	}
	m.writableMap().merge(obj.ID(), tr)
}

func (m *Manager) ObjectTransformed(obj *level.Object, delta core.ObjectTransform, tick core.TickNumber) {
	m.record(obj, ObjectStateTransition{Transform: delta}, tick)
}

func (m *Manager) ObjectVisibilityChanged(obj *level.Object, visible bool, tick core.TickNumber) {
	m.record(obj, ObjectStateTransition{VisibilityChanged: true, Visible: visible}, tick)
}

func (m *Manager) ObjectCustomStateChanged(obj *level.Object, delta bundle.Bundle, tick core.TickNumber) {
	m.record(obj, ObjectStateTransition{Custom: delta}, tick)
}

// Commit closes the writable tick and opens the next one, evicting the
// oldest tick once the window is full.
func (m *Manager) Commit() {
	if cur := m.tickMap(m.maxTick); cur != nil {
		m.baseMap.mergeAll(cur)
	}

	if int(m.maxTick-m.oldestTick)+1 == len(m.ticks) {
		m.evictOldest()
	}
	m.maxTick++
	m.events.NextTick()
	for m.events.TickCount() > 1 && m.events.FirstTick() < m.oldestTick {
		m.events.DropFirstTick()
	}
}

func (m *Manager) evictOldest() {
	if old := m.ticks[m.oldestIndex]; old != nil {
		m.evictedBase.mergeAll(old)
		clear(old)
	}
	m.oldestIndex = (m.oldestIndex + 1) % len(m.ticks)
	m.oldestTick++
}

func (m *Manager) validateHistorical(tick core.TickNumber) error {
	switch {
	case tick > m.CurrentTick():
		return fmt.Errorf("tick %d, current %d: %w", tick, m.CurrentTick(), ErrTickNotRetained)
	case tick < m.oldestTick:
		return fmt.Errorf("tick %d, oldest %d: %w", tick, m.oldestTick, ErrTickEvicted)
	}
	return nil
}

// stateAt reconstructs the full state of id at the end of tick.
func (m *Manager) stateAt(id core.LevelObjectId, tick core.TickNumber) (level.ObjectStateSnapshot, bool) {
	s, ok := m.loadState[id]
	if !ok {
		return s, false
	}
	if tr, ok := m.evictedBase[id]; ok {
		s = tr.ApplyTo(s)
	} else if s.Custom != nil {
		s.Custom = s.Custom.Clone()
	}
	for t := m.oldestTick; t <= tick; t++ {
		if tr, ok := m.tickMap(t)[id]; ok {
			s = tr.ApplyTo(s)
		}
	}
	return s, true
}

// changedAfter returns the ids touched in (tick, maxTick], sorted.
func (m *Manager) changedAfter(tick core.TickNumber) []core.LevelObjectId {
	seen := make(map[core.LevelObjectId]struct{})
	for t := tick + 1; t <= m.maxTick; t++ {
		for id := range m.tickMap(t) {
			seen[id] = struct{}{}
		}
	}
	ids := make([]core.LevelObjectId, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Apply permanently resets every object to its state at tick. The reverting
// changes are recorded into the writable tick so clients follow.
func (m *Manager) Apply(tick core.TickNumber) error {
	if m.checkout != nil {
		return ErrCheckoutActive
	}
	if err := m.validateHistorical(tick); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	reverts := make(transitionMap)
	m.ignoreStateUpdates = true
	for _, id := range m.changedAfter(tick) {
		obj := m.level.Object(id)
		target, ok := m.stateAt(id, tick)
		if obj == nil || !ok {
			continue
		}
		if d := Diff(obj.Snapshot(), target); !d.IsEmpty() {
			reverts[id] = d
		}
		obj.Restore(target)
	}
	m.ignoreStateUpdates = false

	m.writableMap().mergeAll(reverts)
	m.logger.Info("applied historical state", "tick", tick, "objects", len(reverts))
	return nil
}

// Stats describes the manager's memory footprint.
type Stats struct {
	CurrentTick     core.TickNumber
	OldestTick      core.TickNumber
	BaseObjects     int
	WritableObjects int
	RetainedEvents  int
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		CurrentTick:     m.CurrentTick(),
		OldestTick:      m.oldestTick,
		BaseObjects:     len(m.baseMap),
		WritableObjects: len(m.tickMap(m.maxTick)),
		RetainedEvents:  m.events.Len(),
	}
}
