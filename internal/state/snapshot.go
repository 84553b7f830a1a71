package state

import (
	"fmt"
	"slices"

	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/pkg/core"
)

// SnapshotSink receives the calls making up a snapshot. The states slice is
// only valid during the call.
type SnapshotSink interface {
	ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte)
	GlobalMessage(channel core.MessageChannelCode, data []byte)
}

// SnapshotRequest selects what a client needs.
type SnapshotRequest struct {
	// Tick is the committed tick the client is brought to.
	Tick core.TickNumber
	// ReferenceTick is the last tick the client acknowledged. A reference
	// older than OldestTick, including core.NoTick, forces a full sync.
	ReferenceTick core.TickNumber
	// EventsAfter is the last tick whose events the client already received.
	EventsAfter core.TickNumber
}

// SnapshotResult reports what was sent.
type SnapshotResult struct {
	ObjectCount int
	EventCount  int
	Full        bool
}

// DiscreteChangeCount is the number of calls the client must have received
// before it may apply the snapshot.
func (r SnapshotResult) DiscreteChangeCount() int { return r.ObjectCount + r.EventCount }

// SendToClient sends every object change between the request's reference
// tick and its tick, then the events recorded after EventsAfter.
func (m *Manager) SendToClient(req SnapshotRequest, sink SnapshotSink) (SnapshotResult, error) {
	if req.Tick > m.CurrentTick() || req.Tick < m.oldestTick {
		return SnapshotResult{}, fmt.Errorf("snapshot for tick %d, retained [%d, %d]: %w",
			req.Tick, m.oldestTick, m.CurrentTick(), ErrTickNotRetained)
	}

	var res SnapshotResult
	if req.ReferenceTick < m.oldestTick {
		res.Full = true
		res.ObjectCount = m.sendFull(req.Tick, sink)
	} else if req.ReferenceTick < req.Tick {
		res.ObjectCount = m.sendDelta(req.ReferenceTick, req.Tick, sink)
	}
	res.EventCount = m.sendEvents(req.EventsAfter, req.Tick, sink)
	return res, nil
}

func (m *Manager) sendTransition(tick core.TickNumber, id core.LevelObjectId, tr ObjectStateTransition, sink SnapshotSink) {
	m.scratch.Reset()
	tr.Serialize(m.scratch, bundle.PurposeNetwork)
	sink.ObjectStatesChanged(tick, id, m.scratch.Bytes())
}

// sendFull sends, for every object not at its load state, the accumulated
// change since load relative to that state.
func (m *Manager) sendFull(tick core.TickNumber, sink SnapshotSink) int {
	acc := m.baseMap
	if tick != m.CurrentTick() {
		acc = make(transitionMap, len(m.evictedBase))
		acc.mergeAll(m.evictedBase)
		for t := m.oldestTick; t <= tick; t++ {
			acc.mergeAll(m.tickMap(t))
		}
	}

	sent := 0
	for _, obj := range m.level.Objects() {
		tr, ok := acc[obj.ID()]
		if !ok {
			continue
		}
		if load, ok := m.loadState[obj.ID()]; ok {
			tr = tr.DeltaEncode(load)
		}
		if tr.IsEmpty() {
			continue
		}
		m.sendTransition(tick, obj.ID(), tr, sink)
		sent++
	}
	return sent
}

// sendDelta sends, per object, what changed in (ref, tick] relative to the
// object's state at ref.
func (m *Manager) sendDelta(ref, tick core.TickNumber, sink SnapshotSink) int {
	merged := make(transitionMap)
	for t := ref + 1; t <= tick; t++ {
		merged.mergeAll(m.tickMap(t))
	}
	ids := make([]core.LevelObjectId, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	sent := 0
	for _, id := range ids {
		tr := merged[id]
		if refState, ok := m.stateAt(id, ref); ok {
			tr = tr.DeltaEncode(refState)
		}
		if tr.IsEmpty() {
			continue
		}
		m.sendTransition(tick, id, tr, sink)
		sent++
	}
	return sent
}

func (m *Manager) sendEvents(after, tick core.TickNumber, sink SnapshotSink) int {
	from := max(after+1, m.events.FirstTick())
	sent := 0
	for t := from; t <= tick; t++ {
		for _, e := range m.events.TickFrame(t) {
			sink.GlobalMessage(e.Channel, e.Payload)
			sent++
		}
	}
	return sent
}
