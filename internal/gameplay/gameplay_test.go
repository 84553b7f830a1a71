package gameplay

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/input"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/server"
	"github.com/opendrakan/statesync/pkg/core"
)

type messageDownlink struct {
	pings [][]byte
}

func (*messageDownlink) LoadLevel(string)                                                  {}
func (*messageDownlink) ObjectStatesChanged(core.TickNumber, core.LevelObjectId, []byte)   {}
func (*messageDownlink) ConfirmSnapshot(core.TickNumber, float64, uint32, core.TickNumber) {}
func (d *messageDownlink) GlobalMessage(ch core.MessageChannelCode, data []byte) {
	if ch == ChannelPing {
		d.pings = append(d.pings, append([]byte(nil), data...))
	}
}

func newGameServer(t *testing.T) (*server.Server, core.ClientId, *messageDownlink) {
	t.Helper()
	lvl := level.New("levels/gameplay.json")
	for _, spec := range []level.ObjectSpec{
		{ID: 1, Class: "door", Visible: true, Custom: level.DoorSchema.Full(level.DoorState{})},
		{ID: 2, Class: "door", Visible: true, Custom: level.DoorSchema.Full(level.DoorState{Locked: true})},
		{ID: 3, Class: "pawn", Visible: true, Custom: level.PawnSchema.Full(level.PawnState{Health: 100})},
	} {
		_, err := lvl.AddObject(spec)
		require.NoError(t, err)
	}
	logger := slog.New(slog.DiscardHandler)
	srv := server.New(server.Config{}, lvl, nil, logger)

	id, err := srv.AddClient()
	require.NoError(t, err)
	require.NoError(t, BindActions(srv, logger)(id))
	down := &messageDownlink{}
	require.NoError(t, srv.SetClientDownlinkConnector(id, down))
	return srv, id, down
}

func openness(t *testing.T, lvl *level.Level, id core.LevelObjectId) float32 {
	t.Helper()
	door, ok := lvl.Object(id).CustomState().(*bundle.State[level.DoorState])
	require.True(t, ok)
	return door.Value.Openness
}

func TestBindActions_UseTogglesUnlockedDoors(t *testing.T) {
	srv, id, _ := newGameServer(t)
	up, err := srv.UplinkConnectorForClient(id)
	require.NoError(t, err)

	up.ActionTriggered(ActionUse, uint8(input.Pressed))
	srv.Step(0.1)
	assert.Equal(t, float32(1), openness(t, srv.Level(), 1))
	assert.Zero(t, openness(t, srv.Level(), 2), "locked doors stay shut")

	up.ActionTriggered(ActionUse, uint8(input.Released))
	srv.Step(0.1)
	assert.Equal(t, float32(1), openness(t, srv.Level(), 1), "release does nothing")

	up.ActionTriggered(ActionUse, uint8(input.Pressed))
	srv.Step(0.1)
	assert.Zero(t, openness(t, srv.Level(), 1))
}

func TestBindActions_MoveAndPing(t *testing.T) {
	srv, id, down := newGameServer(t)
	up, err := srv.UplinkConnectorForClient(id)
	require.NoError(t, err)

	up.AnalogActionTriggered(ActionMove, 1, -2)
	up.ActionTriggered(ActionPing, uint8(input.Triggered))
	srv.Step(0.1)
	srv.Step(0.1)

	assert.Equal(t, core.Vec3{X: 1, Z: -2}, srv.Level().Object(3).Position())

	require.Len(t, down.pings, 1)
	r := binio.NewReader(down.pings[0])
	assert.Equal(t, int32(id), r.ReadInt32())
	assert.Equal(t, core.TickNumber(-1), r.ReadTick(), "input is applied before the tick commits")
	require.NoError(t, r.Err())
}

func TestBindActions_Twice(t *testing.T) {
	srv, id, _ := newGameServer(t)
	assert.ErrorIs(t, BindActions(srv, slog.New(slog.DiscardHandler))(id), input.ErrDuplicateAction)
}
