package connector

import (
	"github.com/opendrakan/statesync/internal/queue"
	"github.com/opendrakan/statesync/pkg/core"
)

type downlinkKind uint8

const (
	downLoadLevel downlinkKind = iota
	downObjectStates
	downConfirmSnapshot
	downGlobalMessage
)

type downlinkCall struct {
	kind     downlinkKind
	tick     core.TickNumber
	id       core.LevelObjectId
	realtime float64
	count    uint32
	refTick  core.TickNumber
	channel  core.MessageChannelCode
	payload  queue.Span
}

// QueuedDownlinkConnector buffers downlink calls from any goroutine until
// the consumer replays them with FlushQueue.
type QueuedDownlinkConnector struct {
	q *queue.Queue[downlinkCall]
}

var _ DownlinkConnector = (*QueuedDownlinkConnector)(nil)

func NewQueuedDownlinkConnector() *QueuedDownlinkConnector {
	return &QueuedDownlinkConnector{q: queue.New[downlinkCall]()}
}

func (c *QueuedDownlinkConnector) LoadLevel(path string) {
	c.q.PushPayload([]byte(path), func(s queue.Span) downlinkCall {
		return downlinkCall{kind: downLoadLevel, payload: s}
	})
}

func (c *QueuedDownlinkConnector) ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte) {
	c.q.PushPayload(states, func(s queue.Span) downlinkCall {
		return downlinkCall{kind: downObjectStates, tick: tick, id: id, payload: s}
	})
}

func (c *QueuedDownlinkConnector) ConfirmSnapshot(tick core.TickNumber, realtime float64, discreteChangeCount uint32, referenceTick core.TickNumber) {
	c.q.Push(downlinkCall{kind: downConfirmSnapshot, tick: tick, realtime: realtime, count: discreteChangeCount, refTick: referenceTick})
}

func (c *QueuedDownlinkConnector) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	c.q.PushPayload(data, func(s queue.Span) downlinkCall {
		return downlinkCall{kind: downGlobalMessage, channel: channel, payload: s}
	})
}

// Pending returns the number of queued calls.
func (c *QueuedDownlinkConnector) Pending() int { return c.q.Len() }

// FlushQueue replays every queued call on target in call order and returns
// how many were replayed.
func (c *QueuedDownlinkConnector) FlushQueue(target DownlinkConnector) int {
	return c.q.Drain(func(call downlinkCall, arena []byte) {
		switch call.kind {
		case downLoadLevel:
			target.LoadLevel(string(call.payload.In(arena)))
		case downObjectStates:
			target.ObjectStatesChanged(call.tick, call.id, call.payload.In(arena))
		case downConfirmSnapshot:
			target.ConfirmSnapshot(call.tick, call.realtime, call.count, call.refTick)
		case downGlobalMessage:
			target.GlobalMessage(call.channel, call.payload.In(arena))
		}
	})
}

type uplinkKind uint8

const (
	upAcknowledge uplinkKind = iota
	upAction
	upAnalogAction
)

type uplinkCall struct {
	kind  uplinkKind
	tick  core.TickNumber
	code  core.ActionCode
	state uint8
	x, y  float32
}

// QueuedUplinkConnector buffers uplink calls arriving from network
// goroutines until the simulation drains them once per tick.
type QueuedUplinkConnector struct {
	q *queue.Queue[uplinkCall]
}

var _ UplinkConnector = (*QueuedUplinkConnector)(nil)

func NewQueuedUplinkConnector() *QueuedUplinkConnector {
	return &QueuedUplinkConnector{q: queue.New[uplinkCall]()}
}

func (c *QueuedUplinkConnector) AcknowledgeSnapshot(tick core.TickNumber) {
	c.q.Push(uplinkCall{kind: upAcknowledge, tick: tick})
}

func (c *QueuedUplinkConnector) ActionTriggered(code core.ActionCode, state uint8) {
	c.q.Push(uplinkCall{kind: upAction, code: code, state: state})
}

func (c *QueuedUplinkConnector) AnalogActionTriggered(code core.ActionCode, x, y float32) {
	c.q.Push(uplinkCall{kind: upAnalogAction, code: code, x: x, y: y})
}

// Pending returns the number of queued calls.
func (c *QueuedUplinkConnector) Pending() int { return c.q.Len() }

// FlushQueue replays every queued call on target in call order and returns
// how many were replayed.
func (c *QueuedUplinkConnector) FlushQueue(target UplinkConnector) int {
	return c.q.Drain(func(call uplinkCall, _ []byte) {
		switch call.kind {
		case upAcknowledge:
			target.AcknowledgeSnapshot(call.tick)
		case upAction:
			target.ActionTriggered(call.code, call.state)
		case upAnalogAction:
			target.AnalogActionTriggered(call.code, call.x, call.y)
		}
	})
}
