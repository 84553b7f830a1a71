// Package gameplay defines the input actions and message channels shared by
// the server and the bot.
package gameplay

import (
	"log/slog"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/input"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/server"
	"github.com/opendrakan/statesync/pkg/core"
)

// Actions every client may trigger.
const (
	ActionUse  core.ActionCode = 1
	ActionPing core.ActionCode = 2
	ActionMove core.ActionCode = 3
)

// ChannelPing carries {int32 client; int64 tick} whenever a client pings.
const ChannelPing core.MessageChannelCode = 1

// BindActions returns a client setup hook registering the gameplay actions.
// Callbacks run on the simulation goroutine while input is applied.
func BindActions(srv *server.Server, logger *slog.Logger) func(core.ClientId) error {
	return func(id core.ClientId) error {
		in, err := srv.ClientInput(id)
		if err != nil {
			return err
		}

		use, err := in.RegisterAction(ActionUse, "use", false)
		if err != nil {
			return err
		}
		use.OnAction(func(st input.ActionState) {
			if st == input.Pressed {
				toggleDoors(srv.Level())
			}
		})

		ping, err := in.RegisterAction(ActionPing, "ping", false)
		if err != nil {
			return err
		}
		ping.OnAction(func(st input.ActionState) {
			if st == input.Released {
				return
			}
			tick := srv.State().CurrentTick()
			srv.BroadcastGlobalMessage(ChannelPing, func(w *binio.Writer) {
				w.WriteInt32(int32(id))
				w.WriteTick(tick)
			})
			logger.Debug("ping", "client", id, "tick", tick)
		})

		move, err := in.RegisterAction(ActionMove, "move", true)
		if err != nil {
			return err
		}
		move.OnAnalog(func(x, y float32) {
			movePawns(srv.Level(), x, y)
		})
		return nil
	}
}

// toggleDoors flips every unlocked door between open and closed.
func toggleDoors(lvl *level.Level) {
	openness := level.DoorSchema.MaskOf("openness")
	for _, obj := range lvl.Objects() {
		door, ok := obj.CustomState().(*bundle.State[level.DoorState])
		if !ok || door.Value.Locked {
			continue
		}
		target := float32(1)
		if door.Value.Openness >= 0.5 {
			target = 0
		}
		obj.SetCustomState(level.DoorSchema.Partial(level.DoorState{Openness: target}, openness))
	}
}

func movePawns(lvl *level.Level, x, y float32) {
	for _, obj := range lvl.Objects() {
		if obj.Class() == "pawn" {
			obj.SetPosition(obj.Position().Add(core.Vec3{X: x, Z: y}))
		}
	}
}
