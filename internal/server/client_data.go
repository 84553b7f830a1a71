package server

import (
	"sync"
	"time"

	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/internal/dispatcher"
	"github.com/opendrakan/statesync/internal/input"
	"github.com/opendrakan/statesync/pkg/core"
)

const sendHistorySize = 128

type sentSnapshot struct {
	tick core.TickNumber
	at   time.Time
}

// ClientData is the server side of one connected client.
type ClientData struct {
	id core.ClientId

	uplink     *connector.QueuedUplinkConnector
	input      *input.Manager
	dispatcher *dispatcher.Dispatcher
	// out-of-band messages wait here until the next snapshot burst
	outbox *connector.QueuedDownlinkConnector

	// mu guards everything below
	mu                        sync.Mutex
	downlink                  connector.DownlinkConnector
	lastAcknowledgedTick      core.TickNumber
	lastEventTickSent         core.TickNumber
	viewInterpolationTime     time.Duration
	lastMeasuredRoundTripTime time.Duration
	sent                      [sendHistorySize]sentSnapshot
	err                       error
}

// ID returns the client's id.
func (cd *ClientData) ID() core.ClientId { return cd.id }

// Err returns the error that stopped snapshots to this client, if any.
func (cd *ClientData) Err() error {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.err
}

// LastAcknowledgedTick returns the newest tick the client confirmed.
func (cd *ClientData) LastAcknowledgedTick() core.TickNumber {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.lastAcknowledgedTick
}

// RoundTripTime returns the last measured snapshot round trip.
func (cd *ClientData) RoundTripTime() time.Duration {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.lastMeasuredRoundTripTime
}

func (cd *ClientData) recordSent(tick core.TickNumber, at time.Time) {
	cd.sent[int(tick)%sendHistorySize] = sentSnapshot{tick: tick, at: at}
}

func (cd *ClientData) sentAt(tick core.TickNumber) (time.Time, bool) {
	s := cd.sent[int(tick)%sendHistorySize]
	if s.tick != tick || s.at.IsZero() {
		return time.Time{}, false
	}
	return s.at, true
}
