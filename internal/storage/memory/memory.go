// internal/storage/memory/memory.go
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opendrakan/statesync/pkg/core"
)

// Backend keeps savegames in process memory. Everything is lost on exit.
type Backend struct {
	saves map[uuid.UUID]*core.Savegame
	now   func() time.Time
	mu    sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		saves: make(map[uuid.UUID]*core.Savegame),
		now:   time.Now,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

func clone(sg *core.Savegame) *core.Savegame {
	out := *sg
	out.Data = slices.Clone(sg.Data)
	out.Meta = maps.Clone(sg.Meta)
	return &out
}

// Save stores a copy of sg
func (b *Backend) Save(_ context.Context, sg *core.Savegame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sg.ID == uuid.Nil {
		sg.ID = uuid.New()
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = b.now()
	}
	sg.Size = len(sg.Data)
	b.saves[sg.ID] = clone(sg)
	return nil
}

// Load returns a copy of the savegame with the given id
func (b *Backend) Load(_ context.Context, id uuid.UUID) (*core.Savegame, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sg, ok := b.saves[id]
	if !ok {
		return nil, core.ErrSavegameNotFound
	}
	return clone(sg), nil
}

// sorted returns the savegames of level, newest first. Caller holds the lock.
func (b *Backend) sorted(level string) []*core.Savegame {
	var out []*core.Savegame
	for _, sg := range b.saves {
		if level == "" || sg.Level == level {
			out = append(out, sg)
		}
	}
	slices.SortFunc(out, func(x, y *core.Savegame) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return int(y.Tick - x.Tick)
	})
	return out
}

// Latest returns the newest savegame of level
func (b *Backend) Latest(_ context.Context, level string) (*core.Savegame, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	saves := b.sorted(level)
	if len(saves) == 0 {
		return nil, core.ErrSavegameNotFound
	}
	return clone(saves[0]), nil
}

// List returns savegame metadata, newest first
func (b *Backend) List(_ context.Context, level string) ([]core.SavegameInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	saves := b.sorted(level)
	out := make([]core.SavegameInfo, 0, len(saves))
	for _, sg := range saves {
		info := sg.Info()
		info.Meta = maps.Clone(info.Meta)
		out = append(out, info)
	}
	return out, nil
}

// Delete removes a savegame
func (b *Backend) Delete(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.saves[id]; !ok {
		return core.ErrSavegameNotFound
	}
	delete(b.saves, id)
	return nil
}

// Prune keeps the newest keep savegames of level
func (b *Backend) Prune(_ context.Context, level string, keep int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	saves := b.sorted(level)
	if keep < 0 {
		keep = 0
	}
	if len(saves) <= keep {
		return 0, nil
	}
	for _, sg := range saves[keep:] {
		delete(b.saves, sg.ID)
	}
	return len(saves) - keep, nil
}
