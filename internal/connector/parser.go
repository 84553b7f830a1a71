package connector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
	"github.com/opendrakan/statesync/pkg/protocol"
)

// Reasons a packet is rejected, used as the metric attribute.
const (
	reasonUnknownType = "unknown_type"
	reasonDirection   = "wrong_direction"
	reasonLength      = "bad_length"
	reasonEncoding    = "bad_encoding"
)

// PacketParser decodes framed packets and replays them on a connector.
// Malformed packets are skipped, counted and logged. A parser is used by a
// single reader goroutine; BadPacketCount may be read from anywhere.
type PacketParser struct {
	downlink DownlinkConnector
	uplink   UplinkConnector
	logger   *slog.Logger

	badPackets atomic.Uint64

	parsed metric.Int64Counter
	bad    metric.Int64Counter
}

// NewDownlinkParser returns a parser for packets a client receives.
func NewDownlinkParser(target DownlinkConnector, logger *slog.Logger) *PacketParser {
	return newParser(target, nil, logger)
}

// NewUplinkParser returns a parser for packets a server receives.
func NewUplinkParser(target UplinkConnector, logger *slog.Logger) *PacketParser {
	return newParser(nil, target, logger)
}

func newParser(down DownlinkConnector, up UplinkConnector, logger *slog.Logger) *PacketParser {
	p := &PacketParser{downlink: down, uplink: up, logger: logger}

	m := meter()
	var err error
	p.parsed, err = m.Int64Counter(
		"protocol.packets.parsed",
		metric.WithDescription("Total packets decoded"),
	)
	if err != nil {
		logger.Warn("creating parsed packet counter", "error", err)
	}
	p.bad, err = m.Int64Counter(
		"protocol.packets.bad",
		metric.WithDescription("Total malformed packets skipped"),
	)
	if err != nil {
		logger.Warn("creating bad packet counter", "error", err)
	}
	return p
}

// BadPacketCount returns the number of packets skipped so far.
func (p *PacketParser) BadPacketCount() uint64 { return p.badPackets.Load() }

// Parse decodes the packet at the start of data. It returns 0 if data does
// not yet hold a complete packet, otherwise the packet's total size, also
// when the packet was malformed and skipped. Nothing is replayed for a
// packet that is incomplete or malformed.
func (p *PacketParser) Parse(data []byte) int {
	h, ok := protocol.ParseHeader(data)
	if !ok || len(data) < h.TotalSize() {
		return 0
	}
	payload := data[protocol.HeaderSize:h.TotalSize()]

	if reason := p.dispatch(h.Type, payload); reason != "" {
		p.badPackets.Add(1)
		if p.bad != nil {
			p.bad.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("type", h.Type.String()),
				attribute.String("reason", reason),
			))
		}
		p.logger.Warn("dropping bad packet", "type", h.Type, "length", h.Length, "reason", reason)
	} else if p.parsed != nil {
		p.parsed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", h.Type.String())))
	}
	return h.TotalSize()
}

// ParseAll decodes every complete packet in data and returns the number of
// bytes consumed. The remainder is the start of an incomplete packet.
func (p *PacketParser) ParseAll(data []byte) int {
	consumed := 0
	for {
		n := p.Parse(data[consumed:])
		if n == 0 {
			return consumed
		}
		consumed += n
	}
}

func (p *PacketParser) dispatch(t protocol.PacketType, payload []byte) string {
	if !t.Known() {
		return reasonUnknownType
	}
	switch {
	case t.IsDownlink() && p.downlink != nil:
		return p.dispatchDownlink(t, payload)
	case t.IsUplink() && p.uplink != nil:
		return p.dispatchUplink(t, payload)
	default:
		return reasonDirection
	}
}

func (p *PacketParser) dispatchDownlink(t protocol.PacketType, payload []byte) string {
	r := binio.NewReader(payload)
	switch t {
	case protocol.LoadLevel:
		if !utf8.Valid(payload) {
			return reasonEncoding
		}
		p.downlink.LoadLevel(string(payload))

	case protocol.ObjectStatesChanged:
		if len(payload) < protocol.ObjectStatesHeaderSize {
			return reasonLength
		}
		tick := r.ReadTick()
		id := core.LevelObjectId(r.ReadUint32())
		p.downlink.ObjectStatesChanged(tick, id, r.ReadRest())

	case protocol.ConfirmSnapshot:
		if len(payload) != protocol.ConfirmSnapshotSize {
			return reasonLength
		}
		tick := r.ReadTick()
		realtime := r.ReadFloat64()
		count := r.ReadUint32()
		ref := r.ReadTick()
		p.downlink.ConfirmSnapshot(tick, realtime, count, ref)

	case protocol.GlobalMessage:
		if len(payload) < protocol.GlobalMessageHeaderSize {
			return reasonLength
		}
		channel := core.MessageChannelCode(r.ReadUint16())
		p.downlink.GlobalMessage(channel, r.ReadRest())
	}
	return ""
}

func (p *PacketParser) dispatchUplink(t protocol.PacketType, payload []byte) string {
	r := binio.NewReader(payload)
	switch t {
	case protocol.AcknowledgeSnapshot:
		if len(payload) != protocol.AcknowledgeSnapshotSize {
			return reasonLength
		}
		p.uplink.AcknowledgeSnapshot(r.ReadTick())

	case protocol.ActionTriggered:
		if len(payload) != protocol.ActionTriggeredSize {
			return reasonLength
		}
		code := core.ActionCode(r.ReadUint16())
		p.uplink.ActionTriggered(code, r.ReadUint8())

	case protocol.AnalogActionTriggered:
		if len(payload) != protocol.AnalogActionTriggeredSize {
			return reasonLength
		}
		code := core.ActionCode(r.ReadUint16())
		x := r.ReadFloat32()
		y := r.ReadFloat32()
		p.uplink.AnalogActionTriggered(code, x, y)
	}
	return ""
}
