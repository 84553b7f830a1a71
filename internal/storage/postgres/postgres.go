// Package postgres implements the storage.Backend interface on PostgreSQL by
// wrapping the GORM backend.
package postgres

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/database"
	gormstorage "github.com/opendrakan/statesync/internal/storage/gorm"
)

// Backend stores savegames in PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	cfg config.PostgresConfig
	log zerolog.Logger
}

// New creates a new Postgres storage backend. The connection is opened by
// Init.
func New(cfg config.PostgresConfig, log zerolog.Logger) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{Log: log}),
		cfg:     cfg,
		log:     log,
	}
}

// Init connects and migrates the schema.
func (b *Backend) Init() error {
	db, err := database.OpenPostgres(b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Log: b.log})
	return b.Backend.Init()
}
