package state

import (
	"github.com/opendrakan/statesync/internal/timeline"
	"github.com/opendrakan/statesync/pkg/core"
)

// Event is a global message bound to the tick it was recorded in.
type Event struct {
	Channel core.MessageChannelCode
	Payload []byte
}

// RecordEvent stores a global message in the writable tick. The payload is
// copied.
func (m *Manager) RecordEvent(channel core.MessageChannelCode, payload []byte) {
	m.events.Push(Event{Channel: channel, Payload: append([]byte(nil), payload...)})
}

// EventsInTick returns the events recorded during tick.
func (m *Manager) EventsInTick(tick core.TickNumber) []Event {
	return m.events.TickFrame(tick)
}

func timelineAt(tick core.TickNumber) *timeline.Timeline[Event] {
	return timeline.New[Event](tick)
}
