// Package connector defines the calls exchanged between server and client
// and the adapters that queue them, encode them into packets and parse them
// back.
package connector

import "github.com/opendrakan/statesync/pkg/core"

// DownlinkConnector receives server to client calls. Byte slices passed in
// are only valid for the duration of the call.
type DownlinkConnector interface {
	LoadLevel(path string)
	ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte)
	ConfirmSnapshot(tick core.TickNumber, realtime float64, discreteChangeCount uint32, referenceTick core.TickNumber)
	GlobalMessage(channel core.MessageChannelCode, data []byte)
}

// UplinkConnector receives client to server calls.
type UplinkConnector interface {
	AcknowledgeSnapshot(tick core.TickNumber)
	ActionTriggered(code core.ActionCode, state uint8)
	AnalogActionTriggered(code core.ActionCode, x, y float32)
}

// Flusher is implemented by connectors that batch output.
type Flusher interface {
	Flush() error
}

// Failer is implemented by connectors that can break, e.g. because their
// transport went away.
type Failer interface {
	Err() error
}

// Parser consumes the complete packets at the start of data and returns
// how many bytes it used. *PacketParser implements it.
type Parser interface {
	ParseAll(data []byte) int
}
