// Package storagetest holds behavior tests shared by every savegame store.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendrakan/statesync/internal/storage"
	"github.com/opendrakan/statesync/pkg/core"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func save(t *testing.T, b storage.Backend, level string, tick core.TickNumber, minutes int) *core.Savegame {
	t.Helper()
	sg := &core.Savegame{
		SavegameInfo: core.SavegameInfo{
			Level:     level,
			Tick:      tick,
			CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
			Meta:      map[string]any{"objects": float64(tick % 7)},
		},
		Data: []byte{byte(tick), 0xde, 0xad},
	}
	require.NoError(t, b.Save(context.Background(), sg))
	return sg
}

// Run exercises a freshly initialized, empty backend. newBackend is called
// once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	ctx := context.Background()

	t.Run("save assigns id and time", func(t *testing.T) {
		b := newBackend(t)
		sg := &core.Savegame{SavegameInfo: core.SavegameInfo{Level: "levels/a.json", Tick: 5}, Data: []byte{1, 2, 3}}
		require.NoError(t, b.Save(ctx, sg))
		assert.NotEqual(t, uuid.Nil, sg.ID)
		assert.False(t, sg.CreatedAt.IsZero())

		got, err := b.Load(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, sg.ID, got.ID)
		assert.Equal(t, "levels/a.json", got.Level)
		assert.Equal(t, core.TickNumber(5), got.Tick)
		assert.Equal(t, []byte{1, 2, 3}, got.Data)
		assert.Equal(t, 3, got.Size)
	})

	t.Run("load returns a copy", func(t *testing.T) {
		b := newBackend(t)
		sg := save(t, b, "a", 1, 0)
		sg.Data[0] = 0xff

		got, err := b.Load(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, byte(1), got.Data[0])
	})

	t.Run("meta round trips", func(t *testing.T) {
		b := newBackend(t)
		sg := save(t, b, "a", 3, 0)

		got, err := b.Load(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"objects": float64(3)}, got.Meta)
	})

	t.Run("unknown id", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Load(ctx, uuid.New())
		assert.ErrorIs(t, err, core.ErrSavegameNotFound)
		assert.ErrorIs(t, b.Delete(ctx, uuid.New()), core.ErrSavegameNotFound)
	})

	t.Run("latest and list are per level, newest first", func(t *testing.T) {
		b := newBackend(t)
		save(t, b, "a", 10, 0)
		newest := save(t, b, "a", 30, 2)
		save(t, b, "a", 20, 1)
		save(t, b, "b", 99, 5)

		got, err := b.Latest(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, newest.ID, got.ID)

		list, err := b.List(ctx, "a")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []core.TickNumber{30, 20, 10}, []core.TickNumber{list[0].Tick, list[1].Tick, list[2].Tick})
		assert.Equal(t, 3, list[0].Size)

		all, err := b.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		_, err = b.Latest(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrSavegameNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		b := newBackend(t)
		sg := save(t, b, "a", 1, 0)
		require.NoError(t, b.Delete(ctx, sg.ID))
		_, err := b.Load(ctx, sg.ID)
		assert.ErrorIs(t, err, core.ErrSavegameNotFound)
	})

	t.Run("prune keeps newest", func(t *testing.T) {
		b := newBackend(t)
		for i := range 5 {
			save(t, b, "a", core.TickNumber(i), i)
		}
		other := save(t, b, "b", 1, 0)

		n, err := b.Prune(ctx, "a", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		list, err := b.List(ctx, "a")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, core.TickNumber(4), list[0].Tick)
		assert.Equal(t, core.TickNumber(3), list[1].Tick)

		_, err = b.Load(ctx, other.ID)
		assert.NoError(t, err, "other levels untouched")

		n, err = b.Prune(ctx, "a", 10)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
