// Package protocol defines the packet framing shared by server and clients.
//
// Every packet is a three byte header {uint8 type; uint16 length} followed by
// length bytes of payload. All integers are little-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/opendrakan/statesync/internal/binio"
)

// PacketType identifies the payload layout of a packet.
type PacketType uint8

// Downlink packets, server to client.
const (
	// LoadLevel: raw UTF-8 level path.
	LoadLevel PacketType = 0x01
	// ObjectStatesChanged: {tick int64; id uint32; states}.
	ObjectStatesChanged PacketType = 0x02
	// ConfirmSnapshot: {tick int64; realtime float64; discreteChangeCount uint32; referenceTick int64}.
	ConfirmSnapshot PacketType = 0x03
	// GlobalMessage: {channel uint16; data}.
	GlobalMessage PacketType = 0x04
)

// Uplink packets, client to server.
const (
	// AcknowledgeSnapshot: {tick int64}.
	AcknowledgeSnapshot PacketType = 0x10
	// ActionTriggered: {code uint16; state uint8}.
	ActionTriggered PacketType = 0x11
	// AnalogActionTriggered: {code uint16; x float32; y float32}.
	AnalogActionTriggered PacketType = 0x12
)

const (
	// HeaderSize is the size of the fixed packet header.
	HeaderSize = 3
	// MaxPayloadSize is the largest payload a header can describe.
	MaxPayloadSize = math.MaxUint16

	ConfirmSnapshotSize       = 8 + 8 + 4 + 8
	AcknowledgeSnapshotSize   = 8
	ActionTriggeredSize       = 2 + 1
	AnalogActionTriggeredSize = 2 + 4 + 4
	// ObjectStatesHeaderSize precedes the serialized states.
	ObjectStatesHeaderSize = 8 + 4
	// GlobalMessageHeaderSize precedes the message bytes.
	GlobalMessageHeaderSize = 2
)

// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("packet payload too large")

var typeNames = map[PacketType]string{
	LoadLevel:             "load_level",
	ObjectStatesChanged:   "object_states_changed",
	ConfirmSnapshot:       "confirm_snapshot",
	GlobalMessage:         "global_message",
	AcknowledgeSnapshot:   "acknowledge_snapshot",
	ActionTriggered:       "action_triggered",
	AnalogActionTriggered: "analog_action_triggered",
}

func (t PacketType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%#02x)", uint8(t))
}

// Known reports whether t is a defined packet type.
func (t PacketType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// IsDownlink reports whether t travels from server to client.
func (t PacketType) IsDownlink() bool { return t >= LoadLevel && t <= GlobalMessage }

// IsUplink reports whether t travels from client to server.
func (t PacketType) IsUplink() bool { return t >= AcknowledgeSnapshot && t <= AnalogActionTriggered }

// Header is the fixed packet prefix.
type Header struct {
	Type   PacketType
	Length uint16
}

// TotalSize is the size of the whole packet including the header.
func (h Header) TotalSize() int { return HeaderSize + int(h.Length) }

// ParseHeader decodes the header at the start of data. ok is false when
// fewer than HeaderSize bytes are available.
func ParseHeader(data []byte) (h Header, ok bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Type:   PacketType(data[0]),
		Length: binary.LittleEndian.Uint16(data[1:3]),
	}, true
}

// Builder frames packets into a writer. Begin writes a header with a
// placeholder length, End patches the length once the payload is written.
type Builder struct {
	w     *binio.Writer
	start int
	open  bool
}

// NewBuilder returns a builder appending to w.
func NewBuilder(w *binio.Writer) *Builder {
	return &Builder{w: w}
}

// Writer returns the underlying writer.
func (b *Builder) Writer() *binio.Writer { return b.w }

// Begin starts a packet of type t and returns the writer for its payload.
func (b *Builder) Begin(t PacketType) *binio.Writer {
	if b.open {
		panic("protocol: Begin called while a packet is open")
	}
	b.open = true
	b.start = b.w.Len()
	b.w.WriteUint8(uint8(t))
	b.w.WriteUint16(0)
	return b.w
}

// End closes the open packet. An oversized packet is discarded.
func (b *Builder) End() error {
	if !b.open {
		panic("protocol: End called without Begin")
	}
	b.open = false
	size := b.w.Len() - b.start - HeaderSize
	if size > MaxPayloadSize {
		b.w.Truncate(b.start)
		return fmt.Errorf("%d bytes: %w", size, ErrPayloadTooLarge)
	}
	b.w.PutUint16At(b.start+1, uint16(size))
	return nil
}

// Abort discards the open packet.
func (b *Builder) Abort() {
	if b.open {
		b.w.Truncate(b.start)
		b.open = false
	}
}
