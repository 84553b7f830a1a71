package bundle

import (
	"testing"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doorState struct {
	Openness float32
	Locked   bool
	Stage    uint8
	Counter  int32
	Offset   core.Vec3
	Label    string
	Debug    uint32
}

var doorSchema = NewSchema("door",
	Float32("openness", func(d *doorState) *float32 { return &d.Openness }, Interpolated),
	Bool("locked", func(d *doorState) *bool { return &d.Locked }, 0),
	Uint8("stage", func(d *doorState) *uint8 { return &d.Stage }, 0),
	Int32("counter", func(d *doorState) *int32 { return &d.Counter }, Interpolated),
	Vec3("offset", func(d *doorState) *core.Vec3 { return &d.Offset }, Interpolated),
	String("label", func(d *doorState) *string { return &d.Label }, 0),
	Uint32("debug", func(d *doorState) *uint32 { return &d.Debug }, SavegameOnly),
)

type otherState struct{ A float32 }

var otherSchema = NewSchema("other",
	Float32("a", func(o *otherState) *float32 { return &o.A }, 0),
)

func TestNewSchema_PanicsOnDuplicateField(t *testing.T) {
	assert.Panics(t, func() {
		NewSchema("dup",
			Float32("a", func(o *otherState) *float32 { return &o.A }, 0),
			Float32("a", func(o *otherState) *float32 { return &o.A }, 0),
		)
	})
}

func TestSchema_MaskOf(t *testing.T) {
	m := doorSchema.MaskOf("locked", "label")
	assert.True(t, m.Has(1))
	assert.True(t, m.Has(5))
	assert.Equal(t, 2, m.Count())
	assert.Panics(t, func() { doorSchema.MaskOf("nope") })
}

func TestState_MergeIsPerField(t *testing.T) {
	lhs := doorSchema.Full(doorState{Openness: 0.5, Locked: true, Label: "a"})
	rhs := doorSchema.Partial(doorState{Openness: 1, Label: "ignored"}, doorSchema.MaskOf("openness"))

	got := lhs.Merge(rhs)

	assert.Equal(t, float32(1), got.Value.Openness)
	assert.True(t, got.Value.Locked)
	assert.Equal(t, "a", got.Value.Label)
	assert.Equal(t, doorSchema.AllFields(), got.Set)
	assert.Equal(t, float32(0.5), lhs.Value.Openness, "lhs must not be modified")
}

func TestState_Lerp(t *testing.T) {
	lhs := doorSchema.Full(doorState{Openness: 0, Stage: 1, Counter: 0, Offset: core.Vec3{}})
	rhs := doorSchema.Full(doorState{Openness: 1, Stage: 2, Counter: 10, Offset: core.Vec3{X: 4}})

	tests := []struct {
		name     string
		delta    float32
		openness float32
		stage    uint8
		counter  int32
		offsetX  float32
	}{
		{"start", 0, 0, 1, 0, 0},
		{"middle", 0.5, 0.5, 1, 5, 2},
		{"almost", 0.99, 0.99, 1, 10, 3.96},
		{"end", 1, 1, 2, 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lhs.Lerp(rhs, tt.delta)
			assert.InDelta(t, tt.openness, got.Value.Openness, 1e-6)
			assert.Equal(t, tt.stage, got.Value.Stage)
			assert.Equal(t, tt.counter, got.Value.Counter)
			assert.InDelta(t, tt.offsetX, got.Value.Offset.X, 1e-5)
		})
	}
}

func TestState_LerpOneSidedFieldKeepsLhsUntilEnd(t *testing.T) {
	lhs := doorSchema.Partial(doorState{Openness: 0.2}, doorSchema.MaskOf("openness"))
	rhs := doorSchema.Partial(doorState{Label: "open"}, doorSchema.MaskOf("label"))

	mid := lhs.Lerp(rhs, 0.5)
	assert.False(t, mid.Set.Has(doorSchema.Index("label")))
	assert.Equal(t, float32(0.2), mid.Value.Openness)

	end := lhs.Lerp(rhs, 1)
	assert.True(t, end.Set.Has(doorSchema.Index("label")))
	assert.Equal(t, "open", end.Value.Label)
	assert.Equal(t, float32(0.2), end.Value.Openness)
}

func TestState_DeltaEncodeRoundTrip(t *testing.T) {
	ref := doorSchema.Full(doorState{Openness: 0.1, Locked: true, Stage: 3, Label: "gate", Offset: core.Vec3{Y: 2}})
	tests := []struct {
		name    string
		value   doorState
		changed int
	}{
		{"unchanged", ref.Value, 0},
		{"one field", doorState{Openness: 0.9, Locked: true, Stage: 3, Label: "gate", Offset: core.Vec3{Y: 2}}, 1},
		{"several", doorState{Openness: 0.1, Locked: false, Stage: 4, Label: "portcullis", Offset: core.Vec3{Y: 2}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := doorSchema.Full(tt.value)
			delta := s.DeltaEncode(ref)
			assert.Equal(t, tt.changed, delta.CountStatesWithValue())

			w := binio.NewWriter(64)
			delta.Serialize(w, PurposeSavegame)
			decoded, err := doorSchema.Deserialize(binio.NewReader(w.Bytes()), PurposeSavegame)
			require.NoError(t, err)

			rebuilt := ref.Merge(decoded)
			assert.True(t, rebuilt.Equal(s), "got %+v want %+v", rebuilt.Value, s.Value)
		})
	}
}

func TestState_NetworkPurposeSkipsSavegameOnly(t *testing.T) {
	s := doorSchema.Full(doorState{Openness: 1, Debug: 77})

	w := binio.NewWriter(64)
	s.Serialize(w, PurposeNetwork)
	got, err := doorSchema.Deserialize(binio.NewReader(w.Bytes()), PurposeNetwork)
	require.NoError(t, err)

	assert.False(t, got.Set.Has(doorSchema.Index("debug")))
	assert.Equal(t, uint32(0), got.Value.Debug)
	assert.Equal(t, float32(1), got.Value.Openness)
}

func TestSchema_DeserializeRejectsBadMask(t *testing.T) {
	w := binio.NewWriter(16)
	w.WriteUint64(uint64(doorSchema.MaskOf("debug")))
	w.WriteUint32(1)

	_, err := doorSchema.Deserialize(binio.NewReader(w.Bytes()), PurposeNetwork)
	assert.ErrorIs(t, err, ErrInvalidMask)

	w.Reset()
	w.WriteUint64(1 << 40)
	_, err = doorSchema.Deserialize(binio.NewReader(w.Bytes()), PurposeSavegame)
	assert.ErrorIs(t, err, ErrInvalidMask)
}

func TestSchema_DeserializeTruncated(t *testing.T) {
	w := binio.NewWriter(16)
	w.WriteUint64(uint64(doorSchema.MaskOf("label")))
	w.WriteUint16(10)

	_, err := doorSchema.Deserialize(binio.NewReader(w.Bytes()), PurposeNetwork)
	assert.ErrorIs(t, err, binio.ErrShortRead)
}

func TestBundle_MixedSchemasPanic(t *testing.T) {
	var a Bundle = doorSchema.Empty()
	var b Bundle = otherSchema.Empty()

	assert.Panics(t, func() { a.MergeFrom(b) })
	assert.Panics(t, func() { a.DeltaFrom(b) })
	assert.Panics(t, func() { a.Equal(b) })
}

func TestBundle_CloneIsIndependent(t *testing.T) {
	orig := doorSchema.Full(doorState{Label: "x"})
	c := orig.Clone()
	c.MergeFrom(doorSchema.Partial(doorState{Label: "y"}, doorSchema.MaskOf("label")))

	assert.Equal(t, "x", orig.Value.Label)
	assert.False(t, c.Equal(orig))
}
