package sqlitestorage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/storage"
	sqlitestorage "github.com/opendrakan/statesync/internal/storage/sqlite"
	"github.com/opendrakan/statesync/internal/storage/storagetest"
	"github.com/opendrakan/statesync/pkg/core"
)

var _ storage.Backend = (*sqlitestorage.Backend)(nil)

func open(t *testing.T, path string) *sqlitestorage.Backend {
	t.Helper()
	b := sqlitestorage.New(config.SQLiteConfig{Path: path}, zerolog.Nop())
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return open(t, filepath.Join(t.TempDir(), "saves.db"))
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "saves.db")

	first := sqlitestorage.New(config.SQLiteConfig{Path: path}, zerolog.Nop())
	require.NoError(t, first.Init())
	sg := &core.Savegame{SavegameInfo: core.SavegameInfo{Level: "a", Tick: 12}, Data: []byte{9}}
	require.NoError(t, first.Save(ctx, sg))
	require.NoError(t, first.Close())

	second := open(t, path)
	got, err := second.Load(ctx, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TickNumber(12), got.Tick)
}

func TestDump(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := open(t, filepath.Join(dir, "saves.db"))

	sg := &core.Savegame{SavegameInfo: core.SavegameInfo{Level: "a", Tick: 3}, Data: []byte{1}}
	require.NoError(t, b.Save(ctx, sg))

	dump := filepath.Join(dir, "backup.db")
	require.NoError(t, b.Dump(dump))

	copyStore := open(t, dump)
	got, err := copyStore.Latest(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sg.ID, got.ID)
}

func TestDump_NotInitialized(t *testing.T) {
	b := sqlitestorage.New(config.SQLiteConfig{}, zerolog.Nop())
	assert.Error(t, b.Dump(filepath.Join(t.TempDir(), "x.db")))
}

func TestDumpLoop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dump := filepath.Join(dir, "backup.db")
	b := sqlitestorage.New(config.SQLiteConfig{Path: filepath.Join(dir, "saves.db"), DumpPath: dump, DumpInterval: 20 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, b.Init())

	sg := &core.Savegame{SavegameInfo: core.SavegameInfo{Level: "a", Tick: 5}, Data: []byte{2}}
	require.NoError(t, b.Save(ctx, sg))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dump)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "closing twice is harmless")

	copyStore := open(t, dump)
	got, err := copyStore.Latest(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sg.ID, got.ID)
}

func TestClose_WritesFinalDump(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dump := filepath.Join(dir, "final.db")
	b := sqlitestorage.New(config.SQLiteConfig{Path: filepath.Join(dir, "saves.db"), DumpPath: dump}, zerolog.Nop())
	require.NoError(t, b.Init())

	sg := &core.Savegame{SavegameInfo: core.SavegameInfo{Level: "b", Tick: 9}, Data: []byte{3}}
	require.NoError(t, b.Save(ctx, sg))
	require.NoError(t, b.Close())

	got, err := open(t, dump).Load(ctx, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TickNumber(9), got.Tick)
}
