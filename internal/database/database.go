// Package database opens the gorm connections used by the savegame stores.
package database

import (
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opendrakan/statesync/internal/config"
)

// MemoryPath is the SQLite path of a shared in-memory database.
const MemoryPath = "file::memory:?cache=shared"

// PostgresDSN builds a libpq connection string.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
}

// OpenPostgres connects to Postgres and validates the connection.
func OpenPostgres(cfg config.PostgresConfig, log zerolog.Logger) (*gorm.DB, error) {
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	log.Info().Msg("Connected to database")
	return db, nil
}

// OpenSqlite returns a connection to a SQLite database.
// If path is empty, uses an in-memory database.
func OpenSqlite(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = MemoryPath
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	if path == "" {
		pragmas[1] = "PRAGMA journal_mode = MEMORY;"
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if path == "" {
		log.Info().Msg("Using local SQLite DB in memory")
	} else {
		log.Info().Str("path", path).Msg("Using local SQLite DB")
	}
	return db, nil
}

// DumpSqlite vacuums a SQLite database into a standalone file, replacing
// any existing one.
func DumpSqlite(db *gorm.DB, path string, log zerolog.Logger) error {
	if path == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	start := time.Now()
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping DB to disk: %w", err)
	}

	log.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped SQLite DB to disk")
	return nil
}
