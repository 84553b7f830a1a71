// pkg/core/types.go
package core

import "math"

// TickNumber identifies one discrete simulation step.
type TickNumber int64

// NoTick marks the absence of a tick, e.g. a client that has not
// acknowledged any snapshot yet.
const NoTick TickNumber = -1

// MaxTickNumber is the largest representable tick.
const MaxTickNumber TickNumber = math.MaxInt64

// LevelObjectId identifies an object within a loaded level.
type LevelObjectId uint32

// ClientId identifies a connected client. Ids are never reused within a
// server's lifetime.
type ClientId int32

// InvalidClientId is never handed out by a server.
const InvalidClientId ClientId = 0

// ActionCode identifies an input action.
type ActionCode uint16

// MessageChannelCode multiplexes global messages.
type MessageChannelCode uint16
