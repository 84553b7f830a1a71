// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/opendrakan/statesync/pkg/core"
)

// Backend is the interface all savegame stores must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Save stores sg. A nil ID is replaced by a fresh one and a zero
	// CreatedAt by the current time; both are written back into sg.
	Save(ctx context.Context, sg *core.Savegame) error
	Load(ctx context.Context, id uuid.UUID) (*core.Savegame, error)
	// Latest returns the newest savegame of level.
	Latest(ctx context.Context, level string) (*core.Savegame, error)
	// List returns the savegames of level, newest first. An empty level
	// lists every level.
	List(ctx context.Context, level string) ([]core.SavegameInfo, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Prune deletes all but the newest keep savegames of level and returns
	// how many were removed.
	Prune(ctx context.Context, level string, keep int) (int, error)
}
