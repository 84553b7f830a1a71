package connector

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
	"github.com/opendrakan/statesync/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []any
}

// recorder implements both connector interfaces and records every call,
// copying byte arguments.
type recorder struct {
	calls []call
}

func (r *recorder) add(name string, args ...any) {
	r.calls = append(r.calls, call{name, args})
}

func (r *recorder) LoadLevel(path string) { r.add("LoadLevel", path) }

func (r *recorder) ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte) {
	r.add("ObjectStatesChanged", tick, id, append([]byte(nil), states...))
}

func (r *recorder) ConfirmSnapshot(tick core.TickNumber, realtime float64, count uint32, ref core.TickNumber) {
	r.add("ConfirmSnapshot", tick, realtime, count, ref)
}

func (r *recorder) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	r.add("GlobalMessage", channel, append([]byte(nil), data...))
}

func (r *recorder) AcknowledgeSnapshot(tick core.TickNumber) { r.add("AcknowledgeSnapshot", tick) }

func (r *recorder) ActionTriggered(code core.ActionCode, state uint8) {
	r.add("ActionTriggered", code, state)
}

func (r *recorder) AnalogActionTriggered(code core.ActionCode, x, y float32) {
	r.add("AnalogActionTriggered", code, x, y)
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func playDownlink(c DownlinkConnector) {
	c.LoadLevel("levels/arena.json")
	states := []byte{1, 2, 3}
	c.ObjectStatesChanged(4, 42, states)
	states[0] = 99 // callers may reuse their buffers
	c.GlobalMessage(7, []byte("hi"))
	c.ConfirmSnapshot(4, 1.5, 2, 3)
}

var expectedDownlink = []call{
	{"LoadLevel", []any{"levels/arena.json"}},
	{"ObjectStatesChanged", []any{core.TickNumber(4), core.LevelObjectId(42), []byte{1, 2, 3}}},
	{"GlobalMessage", []any{core.MessageChannelCode(7), []byte("hi")}},
	{"ConfirmSnapshot", []any{core.TickNumber(4), 1.5, uint32(2), core.TickNumber(3)}},
}

func playUplink(c UplinkConnector) {
	c.AcknowledgeSnapshot(9)
	c.ActionTriggered(3, 1)
	c.AnalogActionTriggered(5, 0.25, -1)
}

var expectedUplink = []call{
	{"AcknowledgeSnapshot", []any{core.TickNumber(9)}},
	{"ActionTriggered", []any{core.ActionCode(3), uint8(1)}},
	{"AnalogActionTriggered", []any{core.ActionCode(5), float32(0.25), float32(-1)}},
}

func TestQueuedDownlink_FlushReplaysInOrderOnce(t *testing.T) {
	q := NewQueuedDownlinkConnector()
	playDownlink(q)
	assert.Equal(t, 4, q.Pending())

	rec := &recorder{}
	assert.Equal(t, 4, q.FlushQueue(rec))
	assert.Equal(t, expectedDownlink, rec.calls)

	assert.Zero(t, q.FlushQueue(rec))
	assert.Len(t, rec.calls, 4)
}

func TestQueuedUplink_FlushReplaysInOrderOnce(t *testing.T) {
	q := NewQueuedUplinkConnector()
	playUplink(q)

	rec := &recorder{}
	assert.Equal(t, 3, q.FlushQueue(rec))
	assert.Equal(t, expectedUplink, rec.calls)
	assert.Zero(t, q.Pending())
}

func TestWriterParserRoundTrip(t *testing.T) {
	var wire []byte
	sink := PacketSinkFunc(func(data []byte) error {
		wire = append(wire, data...)
		return nil
	})

	t.Run("downlink", func(t *testing.T) {
		wire = nil
		w := NewDownlinkWriter(sink)
		playDownlink(w)
		require.NoError(t, w.Err())
		assert.Zero(t, w.Buffered(), "ConfirmSnapshot flushes")

		rec := &recorder{}
		p := NewDownlinkParser(rec, testLogger())
		assert.Equal(t, len(wire), p.ParseAll(wire))
		assert.Equal(t, expectedDownlink, rec.calls)
		assert.Zero(t, p.BadPacketCount())
	})

	t.Run("uplink", func(t *testing.T) {
		wire = nil
		w := NewUplinkWriter(sink)
		playUplink(w)
		require.NoError(t, w.Err())

		rec := &recorder{}
		p := NewUplinkParser(rec, testLogger())
		assert.Equal(t, len(wire), p.ParseAll(wire))
		assert.Equal(t, expectedUplink, rec.calls)
	})
}

func TestWriter_SinkErrorIsSticky(t *testing.T) {
	boom := errors.New("connection reset")
	sent := 0
	w := NewUplinkWriter(PacketSinkFunc(func([]byte) error {
		sent++
		return boom
	}))

	w.AcknowledgeSnapshot(1)
	w.AcknowledgeSnapshot(2)

	assert.ErrorIs(t, w.Err(), boom)
	assert.Equal(t, 1, sent)
}

func TestWriter_OversizedStates(t *testing.T) {
	w := NewDownlinkWriter(PacketSinkFunc(func([]byte) error { return nil }))
	w.ObjectStatesChanged(1, 1, make([]byte, protocol.MaxPayloadSize))

	assert.ErrorIs(t, w.Err(), protocol.ErrPayloadTooLarge)
	assert.Zero(t, w.Buffered())
}

func frame(t protocol.PacketType, payload ...byte) []byte {
	w := binio.NewWriter(0)
	b := protocol.NewBuilder(w)
	b.Begin(t).WriteBytes(payload)
	if err := b.End(); err != nil {
		panic(err)
	}
	return w.Bytes()
}

func TestPacketParser_PartialPacket(t *testing.T) {
	packet := frame(protocol.AcknowledgeSnapshot, 1, 0, 0, 0, 0, 0, 0, 0)

	for n := 0; n < len(packet); n++ {
		rec := &recorder{}
		p := NewUplinkParser(rec, testLogger())

		assert.Zero(t, p.Parse(packet[:n]), "prefix of %d bytes", n)
		assert.Empty(t, rec.calls)
		assert.Zero(t, p.BadPacketCount())
	}
}

func TestPacketParser_BadPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"unknown type", frame(protocol.PacketType(0x7e), 1, 2, 3, 4)},
		{"downlink on uplink parser", frame(protocol.LoadLevel, 'a')},
		{"short ack", frame(protocol.AcknowledgeSnapshot, 1, 2)},
		{"long action", frame(protocol.ActionTriggered, 1, 0, 1, 0)},
		{"short analog", frame(protocol.AnalogActionTriggered, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := NewUplinkParser(rec, testLogger())

			var n int
			assert.NotPanics(t, func() { n = p.Parse(tt.packet) })
			assert.Equal(t, len(tt.packet), n)
			assert.Equal(t, uint64(1), p.BadPacketCount())
			assert.Empty(t, rec.calls)
		})
	}
}

func TestPacketParser_BadDownlinkPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"invalid utf8 path", frame(protocol.LoadLevel, 0xff, 0xfe)},
		{"short states", frame(protocol.ObjectStatesChanged, 1, 2, 3)},
		{"short confirm", frame(protocol.ConfirmSnapshot, 1)},
		{"empty global message", frame(protocol.GlobalMessage, 1)},
		{"uplink on downlink parser", frame(protocol.ActionTriggered, 1, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := NewDownlinkParser(rec, testLogger())

			assert.Equal(t, len(tt.packet), p.Parse(tt.packet))
			assert.Equal(t, uint64(1), p.BadPacketCount())
			assert.Empty(t, rec.calls)
		})
	}
}

func TestPacketParser_StreamContinuesAfterBadPacket(t *testing.T) {
	var stream []byte
	stream = append(stream, frame(protocol.PacketType(0xee), 9, 9)...)
	stream = append(stream, frame(protocol.ActionTriggered, 2, 0, 1)...)
	partial := frame(protocol.AcknowledgeSnapshot, 5, 0, 0, 0, 0, 0, 0, 0)
	stream = append(stream, partial[:4]...)

	rec := &recorder{}
	p := NewUplinkParser(rec, testLogger())
	consumed := p.ParseAll(stream)

	assert.Equal(t, len(stream)-4, consumed)
	assert.Equal(t, uint64(1), p.BadPacketCount())
	assert.Equal(t, []call{{"ActionTriggered", []any{core.ActionCode(2), uint8(1)}}}, rec.calls)
}
