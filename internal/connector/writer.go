package connector

import (
	"fmt"
	"sync"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
	"github.com/opendrakan/statesync/pkg/protocol"
)

// PacketSink transmits a batch of framed packets. The slice is reused after
// the call returns.
type PacketSink interface {
	SendPackets(data []byte) error
}

// PacketSinkFunc adapts a function to PacketSink.
type PacketSinkFunc func(data []byte) error

func (f PacketSinkFunc) SendPackets(data []byte) error { return f(data) }

// packetWriter batches packets and remembers the first error.
type packetWriter struct {
	sink PacketSink
	w    *binio.Writer
	b    *protocol.Builder
	err  error
}

func newPacketWriter(sink PacketSink) packetWriter {
	w := binio.NewWriter(1024)
	return packetWriter{sink: sink, w: w, b: protocol.NewBuilder(w)}
}

func (pw *packetWriter) end(t protocol.PacketType) {
	if err := pw.b.End(); err != nil && pw.err == nil {
		pw.err = fmt.Errorf("encoding %s: %w", t, err)
	}
}

// Flush hands buffered packets to the sink.
func (pw *packetWriter) Flush() error {
	if pw.err != nil {
		pw.w.Reset()
		return pw.err
	}
	if pw.w.Len() == 0 {
		return nil
	}
	err := pw.sink.SendPackets(pw.w.Bytes())
	pw.w.Reset()
	if err != nil {
		pw.err = fmt.Errorf("sending packets: %w", err)
	}
	return pw.err
}

// Err returns the first encoding or transport error.
func (pw *packetWriter) Err() error { return pw.err }

// Buffered returns the number of bytes waiting for Flush.
func (pw *packetWriter) Buffered() int { return pw.w.Len() }

// DownlinkWriter encodes downlink calls into packets. Packets are batched
// and flushed after LoadLevel and ConfirmSnapshot, which end a burst.
type DownlinkWriter struct {
	packetWriter
}

var (
	_ DownlinkConnector = (*DownlinkWriter)(nil)
	_ Flusher           = (*DownlinkWriter)(nil)
	_ Failer            = (*DownlinkWriter)(nil)
)

func NewDownlinkWriter(sink PacketSink) *DownlinkWriter {
	return &DownlinkWriter{packetWriter: newPacketWriter(sink)}
}

func (d *DownlinkWriter) LoadLevel(path string) {
	d.b.Begin(protocol.LoadLevel).WriteBytes([]byte(path))
	d.end(protocol.LoadLevel)
	_ = d.Flush()
}

func (d *DownlinkWriter) ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte) {
	w := d.b.Begin(protocol.ObjectStatesChanged)
	w.WriteTick(tick)
	w.WriteUint32(uint32(id))
	w.WriteBytes(states)
	d.end(protocol.ObjectStatesChanged)
}

func (d *DownlinkWriter) ConfirmSnapshot(tick core.TickNumber, realtime float64, discreteChangeCount uint32, referenceTick core.TickNumber) {
	w := d.b.Begin(protocol.ConfirmSnapshot)
	w.WriteTick(tick)
	w.WriteFloat64(realtime)
	w.WriteUint32(discreteChangeCount)
	w.WriteTick(referenceTick)
	d.end(protocol.ConfirmSnapshot)
	_ = d.Flush()
}

func (d *DownlinkWriter) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	w := d.b.Begin(protocol.GlobalMessage)
	w.WriteUint16(uint16(channel))
	w.WriteBytes(data)
	d.end(protocol.GlobalMessage)
}

// UplinkWriter encodes uplink calls into packets, one flush per call. It
// may be used from several goroutines. The first send error stops all
// further sends and is reported by Err.
type UplinkWriter struct {
	mu sync.Mutex
	packetWriter
}

var (
	_ UplinkConnector = (*UplinkWriter)(nil)
	_ Flusher         = (*UplinkWriter)(nil)
	_ Failer          = (*UplinkWriter)(nil)
)

func NewUplinkWriter(sink PacketSink) *UplinkWriter {
	return &UplinkWriter{packetWriter: newPacketWriter(sink)}
}

func (u *UplinkWriter) AcknowledgeSnapshot(tick core.TickNumber) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.b.Begin(protocol.AcknowledgeSnapshot).WriteTick(tick)
	u.end(protocol.AcknowledgeSnapshot)
	_ = u.Flush()
}

func (u *UplinkWriter) ActionTriggered(code core.ActionCode, state uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	w := u.b.Begin(protocol.ActionTriggered)
	w.WriteUint16(uint16(code))
	w.WriteUint8(state)
	u.end(protocol.ActionTriggered)
	_ = u.Flush()
}

func (u *UplinkWriter) AnalogActionTriggered(code core.ActionCode, x, y float32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	w := u.b.Begin(protocol.AnalogActionTriggered)
	w.WriteUint16(uint16(code))
	w.WriteFloat32(x)
	w.WriteFloat32(y)
	u.end(protocol.AnalogActionTriggered)
	_ = u.Flush()
}

// Err returns the first encoding or transport error.
func (u *UplinkWriter) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}
