// pkg/core/savegame.go
package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSavegameNotFound is returned by stores for unknown ids or levels
// without savegames.
var ErrSavegameNotFound = errors.New("savegame not found")

// SavegameInfo describes a stored savegame without its payload.
type SavegameInfo struct {
	ID        uuid.UUID
	Level     string
	Tick      TickNumber
	CreatedAt time.Time
	Size      int
	Meta      map[string]any
}

// Savegame is a serialized world state of one level.
type Savegame struct {
	SavegameInfo
	Data []byte
}

// Info returns the savegame's metadata with Size filled in.
func (s *Savegame) Info() SavegameInfo {
	info := s.SavegameInfo
	info.Size = len(s.Data)
	return info
}
