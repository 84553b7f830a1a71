// Package sqlitestorage implements the storage.Backend interface using a
// SQLite file. It wraps the GORM backend via composition; the only
// SQLite-specific concerns are opening the file and dumping it with
// VACUUM INTO.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/database"
	gormstorage "github.com/opendrakan/statesync/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg config.SQLiteConfig
	log zerolog.Logger

	stopChan  chan struct{}
	stopOnce  sync.Once
	dumpsDone sync.WaitGroup
}

// New creates a new SQLite storage backend. The database is opened by Init.
// An empty path keeps the database in memory.
func New(cfg config.SQLiteConfig, log zerolog.Logger) *Backend {
	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{Log: log}),
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Init opens the database file, migrates the schema and starts the dump
// loop when DumpPath and DumpInterval are set.
func (b *Backend) Init() error {
	db, err := database.OpenSqlite(b.cfg.Path, b.log)
	if err != nil {
		return fmt.Errorf("failed to open SQLite DB: %w", err)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Log: b.log})
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.dumpsDone.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump loop, writes a last dump if DumpPath is set and
// closes the database. Only the first call has any effect.
func (b *Backend) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.dumpsDone.Wait()
		if b.cfg.DumpPath != "" && b.DB() != nil {
			if dumpErr := b.Dump(b.cfg.DumpPath); dumpErr != nil {
				b.log.Error().Err(dumpErr).Msg("Final SQLite dump failed")
			}
		}
		err = b.Backend.Close()
	})
	return err
}

// Dump copies the database into a standalone file.
func (b *Backend) Dump(path string) error {
	if b.DB() == nil {
		return fmt.Errorf("sqlite storage not initialized")
	}
	return database.DumpSqlite(b.DB(), path, b.log)
}

// dumpLoop snapshots the database to DumpPath every DumpInterval. VACUUM
// INTO reads a consistent snapshot, so saves need not pause.
func (b *Backend) dumpLoop() {
	defer b.dumpsDone.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(b.cfg.DumpPath); err != nil {
				b.log.Error().Err(err).Str("path", b.cfg.DumpPath).Msg("SQLite dump failed")
			}
		}
	}
}
