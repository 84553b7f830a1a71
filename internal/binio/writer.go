// Package binio implements the little-endian binary encoding shared by the
// wire protocol and savegames.
package binio

import (
	"encoding/binary"
	"math"

	"github.com/opendrakan/statesync/pkg/core"
)

// Writer appends little-endian values to a growable byte slice.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes. The slice is only valid until the next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of written bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards the contents but keeps the allocation.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Truncate discards everything after the first n bytes.
func (w *Writer) Truncate(n int) { w.buf = w.buf[:n] }

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

func (w *Writer) WriteUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBytes appends raw bytes without a length prefix.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteString appends a uint16 length prefix followed by the UTF-8 bytes.
// Strings longer than 65535 bytes are truncated.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) WriteTick(t core.TickNumber) { w.WriteInt64(int64(t)) }

func (w *Writer) WriteVec3(v core.Vec3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func (w *Writer) WriteQuat(q core.Quat) {
	w.WriteFloat32(q.W)
	w.WriteFloat32(q.X)
	w.WriteFloat32(q.Y)
	w.WriteFloat32(q.Z)
}

// PutUint16At overwrites two bytes at offset, used to patch length fields.
func (w *Writer) PutUint16At(offset int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[offset:], v)
}

// PutUint32At overwrites four bytes at offset, e.g. to patch a count.
func (w *Writer) PutUint32At(offset int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[offset:], v)
}
