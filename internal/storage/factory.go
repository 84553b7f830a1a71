// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/storage/memory"
	"github.com/opendrakan/statesync/internal/storage/postgres"
	sqlitestorage "github.com/opendrakan/statesync/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.Postgres, log), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, log), nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
