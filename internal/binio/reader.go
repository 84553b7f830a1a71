package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/opendrakan/statesync/pkg/core"
)

// ErrShortRead is recorded when a read runs past the end of the input.
var ErrShortRead = errors.New("binio: short read")

// Reader decodes little-endian values from a byte slice. The first error is
// sticky: subsequent reads return zero values and Err keeps reporting it.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Offset returns the read position.
func (r *Reader) Offset() int { return r.pos }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, r.Remaining())
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) ReadUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

func (r *Reader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.ReadUint64()) }

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) []byte { return r.take(n) }

// ReadRest returns all unread bytes without copying.
func (r *Reader) ReadRest() []byte { return r.take(r.Remaining()) }

// ReadString reads a uint16 length-prefixed string.
func (r *Reader) ReadString() string {
	n := r.ReadUint16()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) ReadTick() core.TickNumber { return core.TickNumber(r.ReadInt64()) }

func (r *Reader) ReadVec3() core.Vec3 {
	return core.Vec3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
}

func (r *Reader) ReadQuat() core.Quat {
	return core.Quat{W: r.ReadFloat32(), X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
}
