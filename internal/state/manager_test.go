package state

import (
	"log/slog"
	"testing"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type sentState struct {
	tick  core.TickNumber
	id    core.LevelObjectId
	state ObjectStateTransition
}

type sentMessage struct {
	channel core.MessageChannelCode
	data    []byte
}

// recordingSink decodes everything it receives against the level's objects.
type recordingSink struct {
	t        *testing.T
	lvl      *level.Level
	states   []sentState
	messages []sentMessage
}

func (s *recordingSink) ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte) {
	var proto bundle.Bundle
	if obj := s.lvl.Object(id); obj != nil {
		proto = obj.CustomState()
	}
	tr, err := DeserializeTransition(binio.NewReader(states), proto, bundle.PurposeNetwork)
	require.NoError(s.t, err)
	s.states = append(s.states, sentState{tick: tick, id: id, state: tr})
}

func (s *recordingSink) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	s.messages = append(s.messages, sentMessage{channel, append([]byte(nil), data...)})
}

func newTestLevel(t *testing.T) *level.Level {
	t.Helper()
	lvl := level.New("test.json")
	for _, spec := range []level.ObjectSpec{
		{ID: 1, Class: "static", Visible: true},
		{ID: 42, Class: "static", Visible: true},
		{ID: 7, Class: "door", Visible: true, Custom: level.DoorSchema.Full(level.DoorState{})},
	} {
		_, err := lvl.AddObject(spec)
		require.NoError(t, err)
	}
	return lvl
}

func newTestManager(t *testing.T, retained int) (*Manager, *level.Level) {
	t.Helper()
	lvl := newTestLevel(t)
	return NewManager(lvl, Config{RetainedTicks: retained}, testLogger()), lvl
}

func openness(v float32) bundle.Bundle {
	return level.DoorSchema.Partial(level.DoorState{Openness: v}, level.DoorSchema.MaskOf("openness"))
}

func TestManager_InitialTicks(t *testing.T) {
	m, _ := newTestManager(t, 4)

	assert.Equal(t, core.TickNumber(0), m.MaxTick())
	assert.Equal(t, core.NoTick, m.CurrentTick())
	assert.Equal(t, core.TickNumber(0), m.OldestTick())
}

func TestManager_TickContiguity(t *testing.T) {
	m, lvl := newTestManager(t, 5)
	obj := lvl.Object(42)

	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			obj.SetPosition(core.Vec3{X: float32(i)})
		}
		m.Commit()

		require.Equal(t, m.CurrentTick()+1, m.MaxTick())
		require.LessOrEqual(t, m.OldestTick(), m.CurrentTick())
		require.LessOrEqual(t, int(m.CurrentTick()-m.OldestTick())+1, m.RetainedTicks())
	}
	assert.Equal(t, core.TickNumber(39), m.CurrentTick())
	assert.Equal(t, core.TickNumber(35), m.OldestTick())
}

func TestManager_WritingHistoricalTickPanics(t *testing.T) {
	m, lvl := newTestManager(t, 4)
	m.Commit()

	assert.Panics(t, func() {
		m.ObjectTransformed(lvl.Object(1), core.Translation(core.Vec3{X: 1}), 0)
	})
}

func TestManager_CommitCheckoutScenario(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	obj := lvl.Object(42)

	obj.SetPosition(core.Vec3{X: 1})
	m.Commit()
	assert.Equal(t, core.TickNumber(1), m.MaxTick())

	obj.SetPosition(core.Vec3{X: 5})
	m.Commit()
	assert.Equal(t, core.TickNumber(2), m.MaxTick())

	err := m.WithCheckout(0, func() error {
		assert.Equal(t, core.Vec3{X: 1}, obj.Position())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.Vec3{X: 5}, obj.Position())
}

func TestManager_CheckoutRestoresExactly(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	door := lvl.Object(7)
	pawn := lvl.Object(42)

	for i := 1; i <= 5; i++ {
		door.SetCustomState(openness(float32(i) / 10))
		pawn.SetTransform(core.FullTransform(core.Vec3{Y: float32(i)}, core.Quat{W: 0.6, Y: 0.8}, core.Vec3{X: 2, Y: 2, Z: 2}))
		if i == 3 {
			door.SetVisible(false)
		}
		m.Commit()
	}
	// uncommitted changes are part of the live state too
	pawn.SetPosition(core.Vec3{Z: 9})

	doorBefore := door.Snapshot()
	pawnBefore := pawn.Snapshot()

	for tick := m.OldestTick(); tick <= m.CurrentTick(); tick++ {
		g, err := m.Checkout(tick)
		require.NoError(t, err)
		g.Release()

		assert.Equal(t, doorBefore, door.Snapshot(), "tick %d", tick)
		assert.Equal(t, pawnBefore, pawn.Snapshot(), "tick %d", tick)
	}
}

func TestManager_CheckoutReconstructsPastState(t *testing.T) {
	m, lvl := newTestManager(t, 3)
	door := lvl.Object(7)

	for i := 1; i <= 10; i++ {
		door.SetCustomState(openness(float32(i)))
		if i == 2 {
			door.SetVisible(false)
		}
		m.Commit()
	}
	require.Equal(t, core.TickNumber(7), m.OldestTick())

	g, err := m.Checkout(7)
	require.NoError(t, err)
	defer g.Release()

	st := door.CustomState().(*bundle.State[level.DoorState])
	assert.Equal(t, float32(8), st.Value.Openness)
	assert.False(t, door.Visible(), "evicted visibility change must survive")
}

func TestManager_CheckoutErrors(t *testing.T) {
	m, _ := newTestManager(t, 2)
	for i := 0; i < 5; i++ {
		m.Commit()
	}

	_, err := m.Checkout(1)
	assert.ErrorIs(t, err, ErrTickEvicted)

	_, err = m.Checkout(m.MaxTick())
	assert.ErrorIs(t, err, ErrTickNotRetained)

	g, err := m.Checkout(m.CurrentTick())
	require.NoError(t, err)

	_, err = m.Checkout(m.CurrentTick())
	assert.ErrorIs(t, err, ErrCheckoutActive)
	assert.ErrorIs(t, m.Apply(m.CurrentTick()), ErrCheckoutActive)

	g.Release()
	g.Release()
	assert.False(t, m.CheckedOut())

	g2, err := m.Checkout(m.CurrentTick())
	require.NoError(t, err)
	g2.Release()
}

func TestManager_UpdatesIgnoredDuringCheckout(t *testing.T) {
	m, lvl := newTestManager(t, 4)
	obj := lvl.Object(1)
	obj.SetPosition(core.Vec3{X: 1})
	m.Commit()

	g, err := m.Checkout(0)
	require.NoError(t, err)
	obj.SetPosition(core.Vec3{X: 100})
	g.Release()

	assert.Empty(t, m.tickMap(m.MaxTick()))
}

func TestManager_ReleaseRestoresObjectsWrittenDuringCheckout(t *testing.T) {
	m, lvl := newTestManager(t, 4)
	moved, door, still := lvl.Object(42), lvl.Object(7), lvl.Object(1)
	moved.SetPosition(core.Vec3{X: 1})
	m.Commit()
	moved.SetPosition(core.Vec3{X: 2})
	door.SetCustomState(openness(0.25))
	m.Commit()
	door.SetCustomState(openness(0.5))

	tests := []struct {
		name  string
		write func()
	}{
		{"object outside the rewound set", func() { still.SetVisible(false); still.SetPosition(core.Vec3{Y: 9}) }},
		{"rewound object", func() { moved.SetPosition(core.Vec3{Z: 7}) }},
		{"pending custom state", func() { door.SetCustomState(openness(1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := map[*level.Object]level.ObjectStateSnapshot{
				moved: moved.Snapshot(), door: door.Snapshot(), still: still.Snapshot(),
			}
			g, err := m.Checkout(0)
			require.NoError(t, err)
			tt.write()
			g.Release()

			for obj, want := range before {
				got := obj.Snapshot()
				assert.Equal(t, want.Transform, got.Transform, "object %d", obj.ID())
				assert.Equal(t, want.Visible, got.Visible, "object %d", obj.ID())
				assert.True(t, Diff(got, want).IsEmpty(), "object %d", obj.ID())
			}
		})
	}
}

func TestManager_WithCheckoutRestoresOnPanic(t *testing.T) {
	m, lvl := newTestManager(t, 4)
	obj := lvl.Object(42)
	obj.SetPosition(core.Vec3{X: 1})
	m.Commit()
	obj.SetPosition(core.Vec3{X: 2})
	m.Commit()

	assert.Panics(t, func() {
		_ = m.WithCheckout(0, func() error { panic("query failed") })
	})
	assert.Equal(t, core.Vec3{X: 2}, obj.Position())
	assert.False(t, m.CheckedOut())
}

func TestManager_ApplyIsPermanentAndRecorded(t *testing.T) {
	m, lvl := newTestManager(t, 4)
	obj := lvl.Object(42)
	obj.SetPosition(core.Vec3{X: 1})
	m.Commit()
	obj.SetPosition(core.Vec3{X: 2})
	obj.SetVisible(false)
	m.Commit()

	require.NoError(t, m.Apply(0))

	assert.Equal(t, core.Vec3{X: 1}, obj.Position())
	assert.True(t, obj.Visible())

	tr, ok := m.tickMap(m.MaxTick())[42]
	require.True(t, ok)
	assert.Equal(t, core.Translated, tr.Transform.Type)
	assert.Equal(t, core.Vec3{X: 1}, tr.Transform.Position)
	assert.True(t, tr.VisibilityChanged)
	assert.True(t, tr.Visible)

	m.Commit()
	assert.Equal(t, core.Vec3{X: 1}, m.baseMap[42].Transform.Position)
}

func TestManager_ApplyEvicted(t *testing.T) {
	m, _ := newTestManager(t, 1)
	m.Commit()
	m.Commit()
	m.Commit()

	assert.ErrorIs(t, m.Apply(0), ErrTickEvicted)
}

func TestManager_LateJoinFullSync(t *testing.T) {
	m, lvl := newTestManager(t, 2)
	lvl.Object(42).SetPosition(core.Vec3{X: 3})
	m.Commit()
	lvl.Object(7).SetCustomState(openness(0.5))
	m.Commit()
	m.Commit()
	m.Commit()

	sink := &recordingSink{t: t, lvl: lvl}
	res, err := m.SendToClient(SnapshotRequest{Tick: m.CurrentTick(), ReferenceTick: core.NoTick, EventsAfter: m.CurrentTick()}, sink)
	require.NoError(t, err)

	assert.True(t, res.Full)
	assert.Equal(t, 2, res.ObjectCount, "only objects with non-default state")
	assert.Equal(t, res.ObjectCount, res.DiscreteChangeCount())
	require.Len(t, sink.states, 2)

	assert.Equal(t, core.LevelObjectId(42), sink.states[0].id)
	assert.Equal(t, core.Vec3{X: 3}, sink.states[0].state.Transform.Position)
	assert.Equal(t, core.LevelObjectId(7), sink.states[1].id)
	door := sink.states[1].state.Custom.(*bundle.State[level.DoorState])
	assert.Equal(t, float32(0.5), door.Value.Openness)
	for _, s := range sink.states {
		assert.Equal(t, m.CurrentTick(), s.tick)
	}
}

func TestManager_FullSyncSkipsObjectsBackAtLoadState(t *testing.T) {
	m, lvl := newTestManager(t, 2)
	lvl.Object(42).SetPosition(core.Vec3{X: 3})
	lvl.Object(7).SetCustomState(openness(0.5))
	m.Commit()
	lvl.Object(42).SetPosition(core.Vec3{})
	lvl.Object(7).SetCustomState(openness(0))
	lvl.Object(1).SetVisible(false)
	m.Commit()

	sink := &recordingSink{t: t, lvl: lvl}
	res, err := m.SendToClient(SnapshotRequest{Tick: m.CurrentTick(), ReferenceTick: core.NoTick, EventsAfter: m.CurrentTick()}, sink)
	require.NoError(t, err)

	assert.True(t, res.Full)
	assert.Equal(t, 1, res.ObjectCount)
	assert.Equal(t, res.ObjectCount, res.DiscreteChangeCount())
	require.Len(t, sink.states, 1)
	assert.Equal(t, core.LevelObjectId(1), sink.states[0].id)
	assert.False(t, sink.states[0].state.Visible)
}

func TestManager_DeltaSync(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	lvl.Object(1).SetPosition(core.Vec3{X: 1})
	m.Commit() // 0

	lvl.Object(42).SetPosition(core.Vec3{X: 4})
	lvl.Object(1).SetPosition(core.Vec3{X: 2})
	m.Commit() // 1

	lvl.Object(1).SetPosition(core.Vec3{X: 1})
	lvl.Object(7).SetCustomState(openness(0))
	m.Commit() // 2

	sink := &recordingSink{t: t, lvl: lvl}
	res, err := m.SendToClient(SnapshotRequest{Tick: 2, ReferenceTick: 0, EventsAfter: 2}, sink)
	require.NoError(t, err)

	assert.False(t, res.Full)
	require.Equal(t, 1, res.ObjectCount, "object 1 moved back and the door did not change")
	assert.Equal(t, core.LevelObjectId(42), sink.states[0].id)
}

func TestManager_SnapshotUpToDateClient(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	lvl.Object(1).SetPosition(core.Vec3{X: 1})
	m.Commit()

	sink := &recordingSink{t: t, lvl: lvl}
	res, err := m.SendToClient(SnapshotRequest{Tick: 0, ReferenceTick: 0, EventsAfter: 0}, sink)
	require.NoError(t, err)
	assert.Zero(t, res.DiscreteChangeCount())
	assert.Empty(t, sink.states)
}

func TestManager_SnapshotRejectsUncommittedTick(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	m.Commit()

	_, err := m.SendToClient(SnapshotRequest{Tick: m.MaxTick(), ReferenceTick: core.NoTick}, &recordingSink{t: t, lvl: lvl})
	assert.ErrorIs(t, err, ErrTickNotRetained)
}

func TestManager_EventsFollowTicks(t *testing.T) {
	m, lvl := newTestManager(t, 8)
	m.RecordEvent(1, []byte("a"))
	m.Commit() // 0
	m.Commit() // 1
	m.RecordEvent(2, []byte("b"))
	m.RecordEvent(2, []byte("c"))
	m.Commit() // 2
	m.RecordEvent(3, []byte("pending"))

	sink := &recordingSink{t: t, lvl: lvl}
	res, err := m.SendToClient(SnapshotRequest{Tick: 2, ReferenceTick: 2, EventsAfter: 0}, sink)
	require.NoError(t, err)

	assert.Equal(t, 2, res.EventCount)
	assert.Equal(t, []sentMessage{{2, []byte("b")}, {2, []byte("c")}}, sink.messages)
}

func TestManager_EventsEvictedWithTicks(t *testing.T) {
	m, _ := newTestManager(t, 2)
	for i := 0; i < 6; i++ {
		m.RecordEvent(1, []byte{byte(i)})
		m.Commit()
	}

	assert.Empty(t, m.EventsInTick(0))
	assert.Len(t, m.EventsInTick(m.CurrentTick()), 1)
	assert.Equal(t, 2, m.Stats().RetainedEvents)
}
