package state

import (
	"errors"
	"fmt"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/pkg/core"
)

const (
	savegameMagic   uint32 = 0x5653_4b44 // "DKSV"
	savegameVersion uint16 = 1
)

var (
	ErrBadSavegame       = errors.New("malformed savegame")
	ErrLevelMismatch     = errors.New("savegame belongs to a different level")
	ErrManagerNotFresh   = errors.New("state can only be restored before the first commit")
	ErrUnknownSaveObject = errors.New("savegame references unknown object")
)

// SaveState writes the accumulated change of every object since load.
func (m *Manager) SaveState(w *binio.Writer) {
	w.WriteUint32(savegameMagic)
	w.WriteUint16(savegameVersion)
	w.WriteString(m.level.Path())
	w.WriteTick(m.CurrentTick())

	var count uint32
	countAt := w.Len()
	w.WriteUint32(0)
	for _, obj := range m.level.Objects() {
		tr, ok := m.baseMap[obj.ID()]
		if !ok || tr.IsEmpty() {
			continue
		}
		w.WriteUint32(uint32(obj.ID()))
		tr.Serialize(w, bundle.PurposeSavegame)
		count++
	}
	w.PutUint32At(countAt, count)
}

// RestoreState loads a savegame into a manager that has not committed yet.
// The restored changes become part of the base map so joining clients are
// brought up to date, and the tick counter continues after the saved tick.
func (m *Manager) RestoreState(r *binio.Reader) error {
	if m.maxTick != 0 || m.checkout != nil {
		return ErrManagerNotFresh
	}
	if magic := r.ReadUint32(); magic != savegameMagic {
		return fmt.Errorf("magic %#x: %w", magic, ErrBadSavegame)
	}
	if v := r.ReadUint16(); v != savegameVersion {
		return fmt.Errorf("version %d: %w", v, ErrBadSavegame)
	}
	path := r.ReadString()
	savedTick := r.ReadTick()
	count := r.ReadUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSavegame, err)
	}
	if path != m.level.Path() {
		return fmt.Errorf("%q, loaded %q: %w", path, m.level.Path(), ErrLevelMismatch)
	}
	if savedTick < core.NoTick {
		return fmt.Errorf("tick %d: %w", savedTick, ErrBadSavegame)
	}

	restored := make(transitionMap, count)
	for i := uint32(0); i < count; i++ {
		id := core.LevelObjectId(r.ReadUint32())
		obj := m.level.Object(id)
		if obj == nil {
			return fmt.Errorf("object %d: %w", id, ErrUnknownSaveObject)
		}
		tr, err := DeserializeTransition(r, obj.CustomState(), bundle.PurposeSavegame)
		if err != nil {
			return fmt.Errorf("object %d: %w: %w", id, ErrBadSavegame, err)
		}
		restored[id] = tr
	}

	for id, tr := range restored {
		obj := m.level.Object(id)
		obj.Restore(tr.ApplyTo(obj.Snapshot()))
	}
	m.baseMap = restored
	m.evictedBase = make(transitionMap, len(restored))
	m.evictedBase.mergeAll(restored)
	m.maxTick = savedTick + 1
	m.oldestTick = m.maxTick
	m.events = timelineAt(m.maxTick)

	m.logger.Info("restored savegame", "level", path, "tick", savedTick, "objects", len(restored))
	return nil
}
